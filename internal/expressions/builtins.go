package expressions

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rendis/applogic/pkg/schema"
)

// Builtin is a function callable from expressions. Arguments arrive normalized.
type Builtin func(svc *Services, args []any) (any, error)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// builtins is the fixed function registry. There are no user-defined functions.
var builtins = map[string]Builtin{
	"generate_id":     builtinGenerateID,
	"timestamp":       builtinTimestamp,
	"random":          builtinRandom,
	"format_currency": builtinFormatCurrency,
	"validate_email":  builtinValidateEmail,
	"len":             builtinLen,
}

// BuiltinNames lists the registered function names, sorted.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsBuiltin reports whether name is a registered function.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

func callBuiltin(svc *Services, name string, args []any) (any, error) {
	fn, ok := builtins[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrKindUnknownFunction, "unknown function %q", name)
	}
	return fn(svc, args)
}

func arity(name string, args []any, n int) error {
	if len(args) != n {
		return typeMismatch("%s() takes %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

func builtinGenerateID(svc *Services, args []any) (any, error) {
	if err := arity("generate_id", args, 0); err != nil {
		return nil, err
	}
	return svc.IDs.NewID(), nil
}

func builtinTimestamp(svc *Services, args []any) (any, error) {
	if err := arity("timestamp", args, 0); err != nil {
		return nil, err
	}
	return svc.Clock.Now().UTC().Format(time.RFC3339Nano), nil
}

// builtinRandom returns an integer in [min, max].
func builtinRandom(svc *Services, args []any) (any, error) {
	if err := arity("random", args, 2); err != nil {
		return nil, err
	}
	lo, okLo := AsInt(args[0])
	hi, okHi := AsInt(args[1])
	if !okLo || !okHi {
		return nil, typeMismatch("random() expects integer bounds, got %s and %s",
			TypeName(args[0]), TypeName(args[1]))
	}
	if lo > hi {
		return nil, typeMismatch("random() min %d is greater than max %d", lo, hi)
	}
	return float64(int64(lo) + svc.Random.Int63n(int64(hi-lo)+1)), nil
}

// builtinFormatCurrency renders n as US dollars, e.g. "$1,234.50".
func builtinFormatCurrency(_ *Services, args []any) (any, error) {
	if err := arity("format_currency", args, 1); err != nil {
		return nil, err
	}
	n, ok := args[0].(float64)
	if !ok {
		return nil, typeMismatch("format_currency() expects a number, got %s", TypeName(args[0]))
	}

	cents := int64(math.Round(math.Abs(n) * 100))
	whole := FormatNumber(float64(cents / 100))

	var b strings.Builder
	if n < 0 && cents != 0 {
		b.WriteByte('-')
	}
	b.WriteByte('$')
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	frac := cents % 100
	b.WriteByte('.')
	b.WriteByte(byte('0' + frac/10))
	b.WriteByte(byte('0' + frac%10))
	return b.String(), nil
}

func builtinValidateEmail(_ *Services, args []any) (any, error) {
	if err := arity("validate_email", args, 1); err != nil {
		return nil, err
	}
	s, ok := args[0].(string)
	if !ok {
		return nil, typeMismatch("validate_email() expects a string, got %s", TypeName(args[0]))
	}
	return emailPattern.MatchString(s), nil
}

func builtinLen(_ *Services, args []any) (any, error) {
	if err := arity("len", args, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case string:
		return float64(utf8.RuneCountInString(v)), nil
	case []any:
		return float64(len(v)), nil
	case map[string]any:
		return float64(len(v)), nil
	default:
		return nil, typeMismatch("len() expects a string, array or object, got %s", TypeName(v))
	}
}
