package engine

import (
	"fmt"
	"sort"

	"github.com/rendis/applogic/internal/expressions"
	"github.com/rendis/applogic/internal/flowgraph"
	"github.com/rendis/applogic/internal/validation"
	"github.com/rendis/applogic/pkg/schema"
)

// CompiledAction is an ActionDefinition with every expression, template and
// target parsed, its flow graph built and its parameter schema rendered.
// Immutable and safe to execute concurrently.
type CompiledAction struct {
	def         *schema.ActionDefinition
	graph       *flowgraph.Graph
	steps       []*step
	paramSchema []byte
	warnings    []schema.ValidationIssue
}

// Name returns the action name.
func (a *CompiledAction) Name() string { return a.def.Name }

// Definition returns the source definition. Callers must not modify it.
func (a *CompiledAction) Definition() *schema.ActionDefinition { return a.def }

// Graph returns the control-flow graph built at compile time.
func (a *CompiledAction) Graph() *flowgraph.Graph { return a.graph }

// Warnings returns the non-fatal validation issues found at compile time.
func (a *CompiledAction) Warnings() []schema.ValidationIssue { return a.warnings }

// step is one block with its pre-parsed fragments. id matches the flow-graph node id.
type step struct {
	id    string
	block schema.Block

	cond       *expressions.Expression // validate, branch
	value      *expressions.Expression // update
	target     *expressions.Target     // update
	to         *expressions.Expression // notify
	collection *expressions.Expression // loop
	message    *expressions.Template   // notify, error
	fields     []field                 // notify data, return value

	then, els, body []*step
}

// field is a named expression; fields are kept in key order.
type field struct {
	key  string
	expr *expressions.Expression
}

// Compile validates def and pre-parses every fragment. Definitions that fail
// validation return MalformedAst and never reach execution.
func Compile(def *schema.ActionDefinition, validator *validation.ActionValidator, compiler *expressions.Compiler) (*CompiledAction, error) {
	result, graph := validator.Check(def)
	if err := result.ToError(); err != nil {
		return nil, err
	}

	steps, err := compileBlocks(def.Logic, "", compiler)
	if err != nil {
		return nil, err
	}

	var paramSchema []byte
	if len(def.Params) > 0 {
		paramSchema, err = validation.ParamSchema(def.Params)
		if err != nil {
			return nil, schema.NewError(schema.ErrKindMalformedAst, "cannot build parameter schema").WithCause(err)
		}
	}

	return &CompiledAction{
		def:         def,
		graph:       graph,
		steps:       steps,
		paramSchema: paramSchema,
		warnings:    result.Warnings,
	}, nil
}

func compileBlocks(blocks schema.Blocks, prefix string, c *expressions.Compiler) ([]*step, error) {
	out := make([]*step, 0, len(blocks))
	for i, blk := range blocks {
		s, err := compileBlock(blk, fmt.Sprintf("%s%d", prefix, i), c)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func compileBlock(blk schema.Block, id string, c *expressions.Compiler) (*step, error) {
	s := &step{id: id, block: blk}
	var err error

	switch b := blk.(type) {
	case *schema.ValidateBlock:
		s.cond, err = c.Compile(b.Condition)
	case *schema.UpdateBlock:
		if s.target, err = c.CompileTarget(b.Target); err == nil {
			s.value, err = c.Compile(b.Value)
		}
	case *schema.NotifyBlock:
		if s.to, err = c.Compile(b.To); err == nil {
			if s.message, err = c.CompileTemplate(b.Message); err == nil {
				s.fields, err = compileFields(b.Data, c)
			}
		}
	case *schema.ReturnBlock:
		s.fields, err = compileFields(b.Value, c)
	case *schema.ErrorBlock:
		s.message, err = c.CompileTemplate(b.Message)
	case *schema.BranchBlock:
		if s.cond, err = c.Compile(b.Condition); err == nil {
			if s.then, err = compileBlocks(b.Then, id+".then.", c); err == nil {
				s.els, err = compileBlocks(b.Else, id+".else.", c)
			}
		}
	case *schema.LoopBlock:
		if s.collection, err = c.Compile(b.Collection); err == nil {
			s.body, err = compileBlocks(b.Body, id+".body.", c)
		}
	default:
		err = schema.NewErrorf(schema.ErrKindMalformedAst, "unsupported block %T", blk)
	}

	if err != nil {
		if ae, ok := err.(*schema.ActionError); ok {
			return nil, ae.WithBlock(id)
		}
		return nil, err
	}
	return s, nil
}

func compileFields(m map[string]string, c *expressions.Compiler) ([]field, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]field, 0, len(keys))
	for _, k := range keys {
		e, err := c.Compile(m[k])
		if err != nil {
			return nil, err
		}
		out = append(out, field{key: k, expr: e})
	}
	return out, nil
}
