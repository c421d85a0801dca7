package expressions

import (
	"strings"

	"github.com/rendis/applogic/pkg/schema"
)

// Template is a string with "${expr}" interpolations, parsed once.
type Template struct {
	source string
	parts  []templatePart
}

type templatePart struct {
	literal string
	expr    *Expression
}

// Source returns the original template text.
func (t *Template) Source() string { return t.source }

// Expressions returns the embedded expressions in order.
func (t *Template) Expressions() []*Expression {
	var out []*Expression
	for _, p := range t.parts {
		if p.expr != nil {
			out = append(out, p.expr)
		}
	}
	return out
}

// Render evaluates every interpolation. Strings and numbers are inserted;
// any other value kind is a TypeMismatch.
func (t *Template) Render(scope *Scope) (string, error) {
	if len(t.parts) == 1 && t.parts[0].expr == nil {
		return t.parts[0].literal, nil
	}

	var b strings.Builder
	b.Grow(len(t.source))
	for _, p := range t.parts {
		if p.expr == nil {
			b.WriteString(p.literal)
			continue
		}
		v, err := p.expr.Eval(scope)
		if err != nil {
			return "", err
		}
		switch val := v.(type) {
		case string:
			b.WriteString(val)
		case float64:
			b.WriteString(FormatNumber(val))
		default:
			return "", typeMismatch("cannot interpolate %s into %q", TypeName(v), t.source)
		}
	}
	return b.String(), nil
}

// parseTemplate splits source into literal and expression parts. A "${" opens
// an interpolation closed by the matching "}"; braces inside string literals
// and nested object literals are skipped.
func parseTemplate(c *Compiler, source string) (*Template, error) {
	t := &Template{source: source}

	i := 0
	for i < len(source) {
		idx := strings.Index(source[i:], "${")
		if idx == -1 {
			t.parts = append(t.parts, templatePart{literal: source[i:]})
			break
		}
		if idx > 0 {
			t.parts = append(t.parts, templatePart{literal: source[i : i+idx]})
		}

		start := i + idx + 2
		end, ok := matchBrace(source, start)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrKindMalformedAst,
				"unterminated interpolation in %q", source)
		}

		e, err := c.Compile(source[start:end])
		if err != nil {
			return nil, err
		}
		t.parts = append(t.parts, templatePart{expr: e})
		i = end + 1
	}

	if len(t.parts) == 0 {
		t.parts = []templatePart{{literal: ""}}
	}
	return t, nil
}

func matchBrace(s string, start int) (int, bool) {
	depth := 0
	var quote byte
	for i := start; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == '\\' {
				i++
			} else if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'', '`':
			quote = ch
		case '{':
			depth++
		case '}':
			if depth == 0 {
				return i, true
			}
			depth--
		}
	}
	return 0, false
}
