package engine

import (
	"context"

	"github.com/rendis/applogic/internal/expressions"
	"github.com/rendis/applogic/internal/flowgraph"
	"github.com/rendis/applogic/pkg/schema"
)

// run is the per-call interpreter state. It is owned by one goroutine.
type run struct {
	state         RunState
	budget        *Budget
	working       *workingState
	notifications []schema.Notification
	value         map[string]any
	steps         int

	trace    *schema.Trace
	branches map[schema.BranchOutcome]bool
}

// seq runs steps in order. done reports that a return directive ended the call.
// rec is false inside loop iterations after the first, so the trace holds at
// most one unrolled iteration per loop.
func (r *run) seq(ctx context.Context, steps []*step, scope *expressions.Scope, rec bool) (bool, error) {
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return false, schema.NewErrorf(schema.ErrKindResourceExhausted, "call cancelled: %s", err.Error()).
				WithCause(err).WithBlock(s.id)
		}

		r.steps++
		r.visit(rec, s.id)

		done, err := r.exec(ctx, s, scope, rec)
		if err != nil {
			if ae, ok := err.(*schema.ActionError); ok {
				return false, ae.WithBlock(s.id)
			}
			return false, err
		}
		if done {
			return true, nil
		}
	}
	return false, nil
}

func (r *run) exec(ctx context.Context, s *step, scope *expressions.Scope, rec bool) (bool, error) {
	switch b := s.block.(type) {
	case *schema.ValidateBlock:
		ok, err := s.cond.EvalBool(scope)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, schema.NewError(schema.ErrKindValidationFailed, b.ErrorMessage)
		}
		return false, nil

	case *schema.UpdateBlock:
		keys, path, err := s.target.Resolve(scope)
		if err != nil {
			return false, err
		}
		v, err := s.value.Eval(scope)
		if err != nil {
			return false, err
		}
		return false, r.working.apply(b.Operation, s.target.Root(), keys, path, v, s.id)

	case *schema.NotifyBlock:
		return false, r.notify(s, scope)

	case *schema.ReturnBlock:
		value, err := evalFields(s.fields, scope)
		if err != nil {
			return false, err
		}
		r.value = value
		return true, nil

	case *schema.ErrorBlock:
		msg, err := s.message.Render(scope)
		if err != nil {
			return false, err
		}
		return false, schema.NewError(schema.ErrKindValidationFailed, msg)

	case *schema.BranchBlock:
		ok, err := s.cond.EvalBool(scope)
		if err != nil {
			return false, err
		}
		arm, outcome := s.els, flowgraph.LabelElse
		if ok {
			arm, outcome = s.then, flowgraph.LabelThen
		}
		r.branch(s.id, outcome)
		done, err := r.seq(ctx, arm, scope, rec)
		if err != nil || done {
			return done, err
		}
		r.visit(rec, s.id+".merge")
		return false, nil

	case *schema.LoopBlock:
		return r.loop(ctx, s, b, scope, rec)

	default:
		return false, schema.NewErrorf(schema.ErrKindMalformedAst, "unsupported block %T", s.block)
	}
}

func (r *run) loop(ctx context.Context, s *step, b *schema.LoopBlock, scope *expressions.Scope, rec bool) (bool, error) {
	v, err := s.collection.Eval(scope)
	if err != nil {
		return false, err
	}
	items, ok := v.([]any)
	if !ok {
		return false, schema.NewErrorf(schema.ErrKindTypeMismatch,
			"loop collection %q must be an array, got %s", s.collection.Source(), expressions.TypeName(v))
	}

	r.visit(rec, s.id+".entry")
	if len(items) == 0 {
		r.branch(s.id, flowgraph.LabelLoopSkip)
	} else {
		r.branch(s.id, flowgraph.LabelLoopOnce)
	}

	for i, item := range items {
		done, err := r.seq(ctx, s.body, scope.Bind(b.As, item), rec && i == 0)
		if err != nil || done {
			return done, err
		}
		if err := r.budget.Tick(); err != nil {
			return false, err
		}
	}
	r.visit(rec, s.id+".exit")
	return false, nil
}

func (r *run) notify(s *step, scope *expressions.Scope) error {
	to, err := s.to.Eval(scope)
	if err != nil {
		return err
	}
	recipient, ok := to.(string)
	if !ok {
		return schema.NewErrorf(schema.ErrKindTypeMismatch,
			"notify recipient %q must be a string, got %s", s.to.Source(), expressions.TypeName(to))
	}
	msg, err := s.message.Render(scope)
	if err != nil {
		return err
	}
	n := schema.Notification{To: recipient, Message: msg}
	if len(s.fields) > 0 {
		if n.Data, err = evalFields(s.fields, scope); err != nil {
			return err
		}
	}
	r.notifications = append(r.notifications, n)
	return nil
}

func evalFields(fields []field, scope *expressions.Scope) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v, err := f.expr.Eval(scope)
		if err != nil {
			return nil, err
		}
		out[f.key] = expressions.Clone(v)
	}
	return out, nil
}

func (r *run) visit(rec bool, id string) {
	if rec && r.trace != nil {
		r.trace.Path = append(r.trace.Path, id)
	}
}

func (r *run) branch(id string, outcome flowgraph.EdgeLabel) {
	if r.trace == nil {
		return
	}
	bo := schema.BranchOutcome{Block: id, Outcome: string(outcome)}
	if r.branches[bo] {
		return
	}
	r.branches[bo] = true
	r.trace.Branches = append(r.trace.Branches, bo)
}
