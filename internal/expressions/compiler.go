package expressions

import (
	"sort"
	"strings"
	"sync"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/rendis/applogic/pkg/schema"
)

// Expression is a parsed expression, evaluated many times without re-parsing.
// Safe for concurrent use.
type Expression struct {
	source    string
	node      ast.Node
	functions []string
	roots     []string
}

// Source returns the original expression text.
func (e *Expression) Source() string { return e.source }

// Functions returns the function names the expression calls, sorted.
func (e *Expression) Functions() []string { return e.functions }

// Identifiers returns the free identifiers the expression references, sorted.
func (e *Expression) Identifiers() []string { return e.roots }

// Eval evaluates the expression against scope.
func (e *Expression) Eval(scope *Scope) (any, error) {
	v, err := eval(e.node, scope)
	if err == errNilChain {
		return nil, nil
	}
	return v, err
}

// EvalBool evaluates the expression and requires a boolean result.
func (e *Expression) EvalBool(scope *Scope) (bool, error) {
	v, err := e.Eval(scope)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, typeMismatch("condition %q must be a boolean, got %s", e.source, TypeName(v))
	}
	return b, nil
}

// Compiler parses expressions, templates and update targets once and caches
// them by source text. Thread-safe: parsed fragments are immutable and shared.
type Compiler struct {
	mu        sync.RWMutex
	exprs     map[string]*Expression
	templates map[string]*Template
	targets   map[string]*Target
}

// NewCompiler creates an empty Compiler.
func NewCompiler() *Compiler {
	return &Compiler{
		exprs:     make(map[string]*Expression),
		templates: make(map[string]*Template),
		targets:   make(map[string]*Target),
	}
}

// Compile parses source into an Expression. Syntax errors and unsupported
// constructs are MalformedAst.
func (c *Compiler) Compile(source string) (*Expression, error) {
	c.mu.RLock()
	if e, ok := c.exprs[source]; ok {
		c.mu.RUnlock()
		return e, nil
	}
	c.mu.RUnlock()

	e, err := parseExpression(source)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.exprs[source]; ok {
		return cached, nil
	}
	c.exprs[source] = e
	return e, nil
}

// CompileTemplate parses a "${expr}" template.
func (c *Compiler) CompileTemplate(source string) (*Template, error) {
	c.mu.RLock()
	if t, ok := c.templates[source]; ok {
		c.mu.RUnlock()
		return t, nil
	}
	c.mu.RUnlock()

	t, err := parseTemplate(c, source)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.templates[source]; ok {
		return cached, nil
	}
	c.templates[source] = t
	return t, nil
}

// CompileTarget parses an Update target path.
func (c *Compiler) CompileTarget(source string) (*Target, error) {
	c.mu.RLock()
	if t, ok := c.targets[source]; ok {
		c.mu.RUnlock()
		return t, nil
	}
	c.mu.RUnlock()

	t, err := parseTarget(source)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.targets[source]; ok {
		return cached, nil
	}
	c.targets[source] = t
	return t, nil
}

// Len returns the number of cached fragments.
func (c *Compiler) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.exprs) + len(c.templates) + len(c.targets)
}

func parseExpression(source string) (*Expression, error) {
	if strings.TrimSpace(source) == "" {
		return nil, schema.NewError(schema.ErrKindMalformedAst, "empty expression")
	}
	tree, err := parser.Parse(source)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrKindMalformedAst,
			"parse error in %q: %s", source, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": source})
	}

	return newExpression(source, tree.Node)
}

func newExpression(source string, node ast.Node) (*Expression, error) {
	v := &checker{functions: map[string]bool{}, idents: map[string]bool{}}
	if err := v.check(node); err != nil {
		return nil, schema.NewErrorf(schema.ErrKindMalformedAst,
			"unsupported expression %q: %s", source, err.Error()).
			WithDetails(map[string]any{"expression": source})
	}

	return &Expression{
		source:    source,
		node:      node,
		functions: sortedKeys(v.functions),
		roots:     sortedKeys(v.idents),
	}, nil
}

var binaryOperators = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
	"&&": true, "||": true, "and": true, "or": true,
	"+": true, "-": true, "*": true, "/": true, "%": true,
	"in": true, "??": true, "contains": true, "startsWith": true, "endsWith": true,
}

var unaryOperators = map[string]bool{"!": true, "not": true, "-": true, "+": true}

// checker rejects AST nodes outside the action language subset and collects
// referenced functions and identifiers.
type checker struct {
	functions map[string]bool
	idents    map[string]bool
}

type unsupportedError string

func (e unsupportedError) Error() string { return string(e) }

func (v *checker) check(node ast.Node) error {
	switch n := node.(type) {
	case *ast.NilNode, *ast.BoolNode, *ast.IntegerNode, *ast.FloatNode, *ast.StringNode:
		return nil
	case *ast.IdentifierNode:
		v.idents[n.Value] = true
		return nil
	case *ast.UnaryNode:
		if !unaryOperators[n.Operator] {
			return unsupportedError("operator " + n.Operator)
		}
		return v.check(n.Node)
	case *ast.BinaryNode:
		if !binaryOperators[n.Operator] {
			return unsupportedError("operator " + n.Operator)
		}
		if err := v.check(n.Left); err != nil {
			return err
		}
		return v.check(n.Right)
	case *ast.ChainNode:
		return v.check(n.Node)
	case *ast.MemberNode:
		if n.Method {
			return unsupportedError("method calls")
		}
		if err := v.check(n.Node); err != nil {
			return err
		}
		if _, ok := n.Property.(*ast.StringNode); ok {
			return nil
		}
		return v.check(n.Property)
	case *ast.CallNode:
		callee, ok := n.Callee.(*ast.IdentifierNode)
		if !ok {
			return unsupportedError("calls must name a builtin function")
		}
		v.functions[callee.Value] = true
		return v.checkAll(n.Arguments)
	case *ast.BuiltinNode:
		v.functions[n.Name] = true
		return v.checkAll(n.Arguments)
	case *ast.ConditionalNode:
		if err := v.check(n.Cond); err != nil {
			return err
		}
		if err := v.check(n.Exp1); err != nil {
			return err
		}
		return v.check(n.Exp2)
	case *ast.ArrayNode:
		return v.checkAll(n.Nodes)
	case *ast.MapNode:
		return v.checkAll(n.Pairs)
	case *ast.PairNode:
		if err := v.check(n.Key); err != nil {
			return err
		}
		return v.check(n.Value)
	default:
		return unsupportedError(strings.TrimPrefix(nodeKind(node), "*ast."))
	}
}

func (v *checker) checkAll(nodes []ast.Node) error {
	for _, n := range nodes {
		if err := v.check(n); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
