package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/rendis/applogic/pkg/schema"
)

// celVariables are the top-level names an assertion may reference.
var celVariables = []string{"result", "context", "state"}

// CELEngine evaluates sandbox assertions written in the Common Expression
// Language. Compiled programs are cached per source.
type CELEngine struct {
	env   *cel.Env
	cache *programCache[cel.Program]
}

// NewCELEngine creates a CEL engine whose environment declares:
//   - result:  the ExecutionResult as JSON
//   - context: the ExecutionContext the call ran against
//   - state:   the post-commit world state (agent, agents, shared)
//
// Each is a map(string, dyn).
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)
	opts := make([]cel.EnvOption, 0, len(celVariables))
	for _, name := range celVariables {
		opts = append(opts, cel.Variable(name, mapType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: env, cache: newProgramCache[cel.Program]()}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string { return "cel" }

// Evaluate runs expression against data. Variables missing from data are
// bound to empty maps.
func (e *CELEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrKindMalformedAst, "empty CEL expression")
	}
	prg, err := e.cache.get(expression, e.compile)
	if err != nil {
		return nil, err
	}

	activation := make(map[string]any, len(celVariables))
	for _, name := range celVariables {
		if v, ok := data[name]; ok && v != nil {
			activation[name] = v
		} else {
			activation[name] = map[string]any{}
		}
	}

	out, _, err := prg.Eval(activation)
	if err != nil {
		return nil, engineError(schema.ErrKindTypeMismatch, "CEL", "evaluation", expression, err)
	}
	return out.Value(), nil
}

func (e *CELEngine) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, engineError(schema.ErrKindMalformedAst, "CEL", "compile", expression, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, engineError(schema.ErrKindMalformedAst, "CEL", "program", expression, err)
	}
	return prg, nil
}

var _ Engine = (*CELEngine)(nil)
