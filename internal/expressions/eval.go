package expressions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/rendis/applogic/pkg/schema"
)

// errNilChain unwinds an optional chain (a?.b.c) whose base was nil.
var errNilChain = errors.New("nil chain")

func eval(node ast.Node, scope *Scope) (any, error) {
	switch n := node.(type) {
	case *ast.NilNode:
		return nil, nil
	case *ast.BoolNode:
		return n.Value, nil
	case *ast.IntegerNode:
		return float64(n.Value), nil
	case *ast.FloatNode:
		return n.Value, nil
	case *ast.StringNode:
		return n.Value, nil
	case *ast.IdentifierNode:
		return evalIdentifier(n, scope)
	case *ast.UnaryNode:
		return evalUnary(n, scope)
	case *ast.BinaryNode:
		return evalBinary(n, scope)
	case *ast.ChainNode:
		v, err := eval(n.Node, scope)
		if err == errNilChain {
			return nil, nil
		}
		return v, err
	case *ast.MemberNode:
		return evalMember(n, scope)
	case *ast.CallNode:
		callee := n.Callee.(*ast.IdentifierNode)
		return evalCall(callee.Value, n.Arguments, scope)
	case *ast.BuiltinNode:
		return evalCall(n.Name, n.Arguments, scope)
	case *ast.ConditionalNode:
		cond, err := evalBool(n.Cond, scope)
		if err != nil {
			return nil, err
		}
		if cond {
			return eval(n.Exp1, scope)
		}
		return eval(n.Exp2, scope)
	case *ast.ArrayNode:
		out := make([]any, 0, len(n.Nodes))
		for _, item := range n.Nodes {
			v, err := eval(item, scope)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case *ast.MapNode:
		out := make(map[string]any, len(n.Pairs))
		for _, p := range n.Pairs {
			pair := p.(*ast.PairNode)
			k, err := eval(pair.Key, scope)
			if err != nil {
				return nil, err
			}
			key, ok := k.(string)
			if !ok {
				return nil, typeMismatch("object keys must be strings, got %s", TypeName(k))
			}
			v, err := eval(pair.Value, scope)
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
		return out, nil
	default:
		return nil, typeMismatch("cannot evaluate %s", nodeKind(node))
	}
}

func evalIdentifier(n *ast.IdentifierNode, scope *Scope) (any, error) {
	v, ok := scope.Lookup(n.Value)
	if !ok {
		if n.Value == "null" {
			return nil, nil
		}
		return nil, undefinedRef("undefined reference %q", n.Value)
	}
	return v, nil
}

func evalBool(node ast.Node, scope *Scope) (bool, error) {
	v, err := eval(node, scope)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, typeMismatch("%s must be a boolean, got %s", node.String(), TypeName(v))
	}
	return b, nil
}

func evalUnary(n *ast.UnaryNode, scope *Scope) (any, error) {
	switch n.Operator {
	case "!", "not":
		b, err := evalBool(n.Node, scope)
		if err != nil {
			return nil, err
		}
		return !b, nil
	default:
		v, err := eval(n.Node, scope)
		if err != nil {
			return nil, err
		}
		f, ok := v.(float64)
		if !ok {
			return nil, typeMismatch("unary %s expects a number, got %s", n.Operator, TypeName(v))
		}
		if n.Operator == "-" {
			return -f, nil
		}
		return f, nil
	}
}

func evalBinary(n *ast.BinaryNode, scope *Scope) (any, error) {
	switch n.Operator {
	case "&&", "and":
		l, err := evalBool(n.Left, scope)
		if err != nil || !l {
			return false, err
		}
		return evalBool(n.Right, scope)
	case "||", "or":
		l, err := evalBool(n.Left, scope)
		if err != nil || l {
			return l, err
		}
		return evalBool(n.Right, scope)
	case "??":
		l, err := eval(n.Left, scope)
		if err != nil && !isUndefined(err) {
			return nil, err
		}
		if err == nil && l != nil {
			return l, nil
		}
		return eval(n.Right, scope)
	}

	l, err := eval(n.Left, scope)
	if err != nil {
		return nil, err
	}
	r, err := eval(n.Right, scope)
	if err != nil {
		return nil, err
	}

	switch n.Operator {
	case "==":
		return Equal(l, r), nil
	case "!=":
		return !Equal(l, r), nil
	case "<", "<=", ">", ">=":
		return compare(n.Operator, l, r)
	case "+":
		return add(l, r)
	case "-", "*", "/", "%":
		return arithmetic(n.Operator, l, r)
	case "in":
		return contains(r, l)
	case "contains", "startsWith", "endsWith":
		return stringOp(n.Operator, l, r)
	}
	return nil, typeMismatch("unsupported operator %s", n.Operator)
}

func compare(op string, l, r any) (any, error) {
	var c int
	switch lv := l.(type) {
	case float64:
		rv, ok := r.(float64)
		if !ok {
			return nil, typeMismatch("cannot compare number %s %s", op, TypeName(r))
		}
		switch {
		case lv < rv:
			c = -1
		case lv > rv:
			c = 1
		}
	case string:
		rv, ok := r.(string)
		if !ok {
			return nil, typeMismatch("cannot compare string %s %s", op, TypeName(r))
		}
		c = strings.Compare(lv, rv)
	default:
		return nil, typeMismatch("cannot compare %s %s %s", TypeName(l), op, TypeName(r))
	}

	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	default:
		return c >= 0, nil
	}
}

func add(l, r any) (any, error) {
	switch lv := l.(type) {
	case float64:
		if rv, ok := r.(float64); ok {
			return lv + rv, nil
		}
	case string:
		if rv, ok := r.(string); ok {
			return lv + rv, nil
		}
	case []any:
		if rv, ok := r.([]any); ok {
			out := make([]any, 0, len(lv)+len(rv))
			out = append(out, lv...)
			return append(out, rv...), nil
		}
	}
	return nil, typeMismatch("cannot add %s and %s", TypeName(l), TypeName(r))
}

func arithmetic(op string, l, r any) (any, error) {
	lv, okL := l.(float64)
	rv, okR := r.(float64)
	if !okL || !okR {
		return nil, typeMismatch("operator %s expects numbers, got %s and %s", op, TypeName(l), TypeName(r))
	}
	switch op {
	case "-":
		return lv - rv, nil
	case "*":
		return lv * rv, nil
	case "/":
		if rv == 0 {
			return nil, divisionByZero()
		}
		return lv / rv, nil
	default:
		li, okL := AsInt(lv)
		ri, okR := AsInt(rv)
		if !okL || !okR {
			return nil, typeMismatch("operator %% expects integers")
		}
		if ri == 0 {
			return nil, divisionByZero()
		}
		return float64(li % ri), nil
	}
}

func contains(container, item any) (any, error) {
	switch c := container.(type) {
	case []any:
		for _, el := range c {
			if Equal(el, item) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		key, ok := item.(string)
		if !ok {
			return nil, typeMismatch("object keys are strings, got %s", TypeName(item))
		}
		_, found := c[key]
		return found, nil
	default:
		return nil, typeMismatch("operator in expects an array or object, got %s", TypeName(container))
	}
}

func stringOp(op string, l, r any) (any, error) {
	ls, okL := l.(string)
	rs, okR := r.(string)
	if !okL || !okR {
		return nil, typeMismatch("operator %s expects strings, got %s and %s", op, TypeName(l), TypeName(r))
	}
	switch op {
	case "contains":
		return strings.Contains(ls, rs), nil
	case "startsWith":
		return strings.HasPrefix(ls, rs), nil
	default:
		return strings.HasSuffix(ls, rs), nil
	}
}

func evalMember(n *ast.MemberNode, scope *Scope) (any, error) {
	base, err := eval(n.Node, scope)
	if err != nil {
		return nil, err
	}
	if base == nil {
		if n.Optional {
			return nil, errNilChain
		}
		return nil, undefinedRef("undefined reference %q: %s is null", n.String(), n.Node.String())
	}

	var key any
	if s, ok := n.Property.(*ast.StringNode); ok {
		key = s.Value
	} else if key, err = eval(n.Property, scope); err != nil {
		return nil, err
	}

	v, found, err := Index(base, key)
	if err != nil {
		return nil, err
	}
	if !found {
		if n.Optional {
			return nil, errNilChain
		}
		return nil, undefinedRef("undefined reference %q", n.String())
	}
	return v, nil
}

// Index reads container[key]. Objects take string keys, arrays integer indexes.
// A missing key or out-of-range index reports found=false.
func Index(container, key any) (v any, found bool, err error) {
	switch c := container.(type) {
	case map[string]any:
		k, ok := key.(string)
		if !ok {
			return nil, false, typeMismatch("object keys are strings, got %s", TypeName(key))
		}
		v, found = c[k]
		return v, found, nil
	case []any:
		i, ok := AsInt(key)
		if !ok {
			return nil, false, typeMismatch("array index must be an integer, got %s", TypeName(key))
		}
		if i < 0 {
			i += len(c)
		}
		if i < 0 || i >= len(c) {
			return nil, false, nil
		}
		return c[i], true, nil
	default:
		return nil, false, typeMismatch("cannot index %s", TypeName(container))
	}
}

func evalCall(name string, argNodes []ast.Node, scope *Scope) (any, error) {
	if !IsBuiltin(name) {
		return callBuiltin(scope.Services(), name, nil)
	}
	args := make([]any, 0, len(argNodes))
	for _, a := range argNodes {
		v, err := eval(a, scope)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return callBuiltin(scope.Services(), name, args)
}

func isUndefined(err error) bool {
	return schema.IsKind(err, schema.ErrKindUndefinedReference)
}

func divisionByZero() error {
	return schema.NewError(schema.ErrKindDivisionByZero, "division by zero")
}

func nodeKind(node ast.Node) string {
	return fmt.Sprintf("%T", node)
}
