package expressions

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/rendis/applogic/pkg/schema"
)

// FormatPath renders a resolved location as its display path: plain keys and
// array indexes are dot-separated, and any string key that could be misread
// (empty, all digits, or containing dots, brackets, quotes or spaces) is
// written as a quoted bracket segment, e.g. shared.subscribers["bob@example.com"].
// ParsePath inverts it exactly.
func FormatPath(root string, keys []any) string {
	var b strings.Builder
	b.WriteString(root)
	for _, k := range keys {
		switch k := k.(type) {
		case int:
			b.WriteByte('.')
			b.WriteString(strconv.Itoa(k))
		case string:
			if needsQuoting(k) {
				b.WriteByte('[')
				b.WriteString(strconv.Quote(k))
				b.WriteByte(']')
			} else {
				b.WriteByte('.')
				b.WriteString(k)
			}
		}
	}
	return b.String()
}

func needsQuoting(k string) bool {
	if k == "" {
		return true
	}
	if _, err := strconv.Atoi(k); err == nil {
		return true
	}
	return strings.IndexFunc(k, func(r rune) bool {
		return r == '.' || r == '[' || r == ']' || r == '"' || r == '\\' || unicode.IsSpace(r)
	}) >= 0
}

// ParsePath splits a display path into its root and keys: strings for object
// keys, ints for array indexes.
func ParsePath(path string) (string, []any, error) {
	end := strings.IndexAny(path, ".[")
	if end < 0 {
		end = len(path)
	}
	root, rest := path[:end], path[end:]
	if root == "" {
		return "", nil, badPath(path, "missing root")
	}

	var keys []any
	for rest != "" {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			n := strings.IndexAny(rest, ".[")
			if n < 0 {
				n = len(rest)
			}
			seg := rest[:n]
			if seg == "" {
				return "", nil, badPath(path, "empty segment")
			}
			if i, err := strconv.Atoi(seg); err == nil {
				keys = append(keys, i)
			} else {
				keys = append(keys, seg)
			}
			rest = rest[n:]
		case '[':
			quoted, err := strconv.QuotedPrefix(rest[1:])
			if err != nil {
				return "", nil, badPath(path, "unterminated key")
			}
			key, _ := strconv.Unquote(quoted)
			rest = rest[1+len(quoted):]
			if !strings.HasPrefix(rest, "]") {
				return "", nil, badPath(path, "missing ]")
			}
			keys = append(keys, key)
			rest = rest[1:]
		default:
			return "", nil, badPath(path, "expected . or [")
		}
	}
	return root, keys, nil
}

func badPath(path, why string) error {
	return schema.NewErrorf(schema.ErrKindMalformedAst, "path %q: %s", path, why)
}
