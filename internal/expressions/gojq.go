package expressions

import (
	"context"

	"github.com/itchyny/gojq"

	"github.com/rendis/applogic/pkg/schema"
)

// GoJQEngine evaluates jq filters that extract values from recorded calls.
// Compiled code is cached per source; $ENV is always empty.
type GoJQEngine struct {
	cache *programCache[*gojq.Code]
}

// NewGoJQEngine creates a jq engine.
func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{cache: newProgramCache[*gojq.Code]()}
}

// Name returns the engine identifier.
func (e *GoJQEngine) Name() string { return "jq" }

// Evaluate runs expression with data as input. A filter yielding one value
// returns it, several values come back as []any, none as nil. data must hold
// plain JSON values; see EvaluateNormalized.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrKindMalformedAst, "empty jq expression")
	}
	code, err := e.cache.get(expression, compileJQ)
	if err != nil {
		return nil, err
	}

	var results []any
	iter := code.RunWithContext(ctx, data)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, engineError(schema.ErrKindTypeMismatch, "jq", "evaluation", expression, err)
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// EvaluateNormalized converts data to plain JSON values (float64 numbers,
// []any, map[string]any) before evaluating, as gojq requires.
func (e *GoJQEngine) EvaluateNormalized(ctx context.Context, expression string, data map[string]any) (any, error) {
	normalized, ok := Normalize(data).(map[string]any)
	if !ok {
		return nil, schema.NewError(schema.ErrKindMalformedAst, "data must be a JSON object")
	}
	return e.Evaluate(ctx, expression, normalized)
}

func compileJQ(expression string) (*gojq.Code, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, engineError(schema.ErrKindMalformedAst, "jq", "parse", expression, err)
	}
	code, err := gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, engineError(schema.ErrKindMalformedAst, "jq", "compile", expression, err)
	}
	return code, nil
}

var _ Engine = (*GoJQEngine)(nil)
