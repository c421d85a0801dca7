package expressions

import (
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/rendis/applogic/pkg/schema"
)

// writableRoots are the roots an Update may target. "state" is stored as "shared".
var writableRoots = map[string]string{
	RootAgent:  RootAgent,
	RootAgents: RootAgents,
	RootShared: RootShared,
	RootState:  RootShared,
}

// Target is a parsed Update path such as agent.balance or agents[to].balance.
type Target struct {
	source   string
	root     string
	segments []segment
}

type segment struct {
	key  any
	expr *Expression
}

// Source returns the original target text.
func (t *Target) Source() string { return t.source }

// Root returns the canonical root name ("agent", "agents" or "shared").
func (t *Target) Root() string { return t.root }

// Resolve evaluates dynamic segments and returns the concrete key path
// (strings for object keys, ints for array indexes) and its display form as
// rendered by FormatPath.
func (t *Target) Resolve(scope *Scope) ([]any, string, error) {
	keys := make([]any, 0, len(t.segments))
	for _, seg := range t.segments {
		key := seg.key
		if seg.expr != nil {
			v, err := seg.expr.Eval(scope)
			if err != nil {
				return nil, "", err
			}
			key = v
		}
		switch k := key.(type) {
		case string, int:
			keys = append(keys, k)
		case float64:
			i, ok := AsInt(k)
			if !ok {
				return nil, "", typeMismatch("target %q: index must be an integer", t.source)
			}
			keys = append(keys, i)
		default:
			return nil, "", typeMismatch("target %q: key must be a string or integer, got %s", t.source, TypeName(key))
		}
	}
	return keys, FormatPath(t.root, keys), nil
}

func parseTarget(source string) (*Target, error) {
	malformed := func(format string, args ...any) error {
		return schema.NewErrorf(schema.ErrKindMalformedAst, format, args...).
			WithDetails(map[string]any{"target": source})
	}

	if strings.TrimSpace(source) == "" {
		return nil, malformed("empty update target")
	}
	tree, err := parser.Parse(source)
	if err != nil {
		return nil, malformed("parse error in target %q: %s", source, err.Error())
	}

	var segs []segment
	node := tree.Node
	for {
		m, ok := node.(*ast.MemberNode)
		if !ok {
			break
		}
		if m.Optional || m.Method {
			return nil, malformed("target %q must be a plain path", source)
		}
		switch p := m.Property.(type) {
		case *ast.StringNode:
			segs = append(segs, segment{key: p.Value})
		case *ast.IntegerNode:
			segs = append(segs, segment{key: p.Value})
		default:
			e, err := newExpression(p.String(), p)
			if err != nil {
				return nil, err
			}
			segs = append(segs, segment{expr: e})
		}
		node = m.Node
	}

	ident, ok := node.(*ast.IdentifierNode)
	if !ok {
		return nil, malformed("target %q must start with a state root", source)
	}
	root, ok := writableRoots[ident.Value]
	if !ok {
		return nil, malformed("target %q: %s is read-only; writable roots are agent, agents, shared and state",
			source, ident.Value)
	}
	if len(segs) == 0 {
		return nil, malformed("target %q must name a field below %s", source, ident.Value)
	}
	if root == RootAgents && len(segs) < 2 {
		return nil, malformed("target %q must name a field of an agent", source)
	}

	// Segments were collected outermost first.
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return &Target{source: source, root: root, segments: segs}, nil
}
