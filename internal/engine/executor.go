package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/applogic/internal/expressions"
	"github.com/rendis/applogic/internal/flowgraph"
	"github.com/rendis/applogic/internal/validation"
	"github.com/rendis/applogic/pkg/schema"
)

// Observer receives every finished call with the call's context.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveExecution(ctx context.Context, action string, result *schema.ExecutionResult, elapsed time.Duration)
}

// ExecutorConfig holds configuration for the executor.
type ExecutorConfig struct {
	Limits      schema.Limits         // per-app bounds (zero = defaults)
	Services    *expressions.Services // clock, ids, rng (nil = system defaults)
	RecordTrace bool                  // attach a Trace to every result
	Logger      *slog.Logger          // nil = slog.Default()
	Observer    Observer              // optional
}

// Executor compiles action definitions and runs them against execution
// contexts. An Executor is safe for concurrent use; each Execute call is
// single-threaded and shares nothing mutable with other calls.
type Executor struct {
	compiler  *expressions.Compiler
	validator *validation.ActionValidator
	fsm       *RunFSM
	config    ExecutorConfig
	logger    *slog.Logger
}

// NewExecutor creates an Executor with its own compiler cache.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	compiler := expressions.NewCompiler()
	validator, err := validation.NewActionValidator(compiler)
	if err != nil {
		return nil, err
	}
	cfg.Limits = cfg.Limits.WithDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		compiler:  compiler,
		validator: validator,
		fsm:       NewRunFSM(),
		config:    cfg,
		logger:    logger,
	}, nil
}

// WithLimits returns an Executor sharing caches and hooks but using limits.
func (e *Executor) WithLimits(limits schema.Limits) *Executor {
	cp := *e
	cp.config.Limits = limits.WithDefaults()
	return &cp
}

// WithServices returns an Executor sharing caches and hooks but using svc.
func (e *Executor) WithServices(svc *expressions.Services) *Executor {
	cp := *e
	cp.config.Services = svc
	return &cp
}

// WithObserver returns an Executor sharing caches and hooks but reporting to o.
func (e *Executor) WithObserver(o Observer) *Executor {
	cp := *e
	cp.config.Observer = o
	return &cp
}

// WithTrace returns an Executor that records traces when on is true.
func (e *Executor) WithTrace(on bool) *Executor {
	cp := *e
	cp.config.RecordTrace = on
	return &cp
}

// Limits returns the effective limits.
func (e *Executor) Limits() schema.Limits { return e.config.Limits }

// FSM exposes the run state machine for hook registration.
func (e *Executor) FSM() *RunFSM { return e.fsm }

// Validator returns the validation pipeline shared with Compile.
func (e *Executor) Validator() *validation.ActionValidator { return e.validator }

// Compile validates def and pre-parses it for execution.
func (e *Executor) Compile(def *schema.ActionDefinition) (*CompiledAction, error) {
	return Compile(def, e.validator, e.compiler)
}

// Execute runs one call to completion. The context is never modified. Errors
// are reported in the result; a failed call carries an empty diff and no
// notifications. Cancelling ctx rolls the call back like a budget overrun.
func (e *Executor) Execute(ctx context.Context, action *CompiledAction, ectx *schema.ExecutionContext) *schema.ExecutionResult {
	svc := e.config.Services.WithDefaults()
	started := svc.Clock.Now()
	if ectx == nil {
		ectx = &schema.ExecutionContext{}
	}

	r := &run{
		state:   RunRunning,
		budget:  NewBudget(e.config.Limits, svc.Clock),
		working: newWorkingState(ectx),
	}
	if e.config.RecordTrace {
		r.trace = &schema.Trace{Path: []string{flowgraph.EntryID}}
		r.branches = make(map[schema.BranchOutcome]bool)
	}

	name := ""
	to, err := RunErrored, error(nil)
	switch {
	case action == nil:
		err = schema.NewError(schema.ErrKindMalformedAst, "action is not compiled")
	default:
		name = action.Name()
		to, err = e.interpret(ctx, r, action, ectx, svc)
	}

	if terr := e.fsm.Transition(r.state, to); terr != nil {
		to, err = RunErrored, terr
	}
	r.state = to

	result := r.result(err)
	elapsed := svc.Clock.Now().Sub(started)
	e.log(ctx, name, result, elapsed)
	if e.config.Observer != nil {
		e.config.Observer.ObserveExecution(ctx, name, result, elapsed)
	}
	return result
}

func (e *Executor) interpret(ctx context.Context, r *run, action *CompiledAction, ectx *schema.ExecutionContext, svc *expressions.Services) (RunState, error) {
	params := expressions.NormalizeMap(ectx.Params)
	if params == nil {
		params = map[string]any{}
	}
	if action.paramSchema != nil {
		if err := e.validator.ValidateInput(params, action.paramSchema); err != nil {
			return RunErrored, err
		}
	}

	scope := expressions.NewScope(ectx.AgentID, params,
		r.working.agent, r.working.agents, r.working.shared,
		expressions.NormalizeMap(ectx.Config), svc)

	done, err := r.seq(ctx, action.steps, scope, true)
	switch {
	case err != nil && schema.IsKind(err, schema.ErrKindResourceExhausted):
		return RunAborted, err
	case err != nil:
		return RunErrored, err
	case !done:
		// Flow validation rejects definitions that can fall off the end.
		return RunErrored, schema.NewErrorf(schema.ErrKindMalformedAst,
			"action %q finished without a return or error directive", action.Name())
	default:
		return RunReturned, nil
	}
}

// result renders the terminal state. Only a returned call exposes its diff,
// value and notifications.
func (r *run) result(err error) *schema.ExecutionResult {
	res := &schema.ExecutionResult{
		Success:          r.state == RunReturned,
		StateDiff:        []schema.DiffEntry{},
		Notifications:    []schema.Notification{},
		StepsExecuted:    r.steps,
		TerminatedReason: r.state.Reason(),
		Trace:            r.trace,
	}
	if res.Success {
		res.Value = r.value
		if res.Value == nil {
			res.Value = map[string]any{}
		}
		res.StateDiff = r.working.Diff()
		if r.notifications != nil {
			res.Notifications = r.notifications
		}
		return res
	}

	info := &schema.ErrorInfo{Kind: schema.ErrKindMalformedAst, Message: "call ended without a result"}
	if err != nil {
		info.Kind, info.Message = schema.ErrKindMalformedAst, err.Error()
		if ae, ok := err.(*schema.ActionError); ok {
			info.Kind, info.Message, info.Block = ae.Kind, ae.Message, ae.Block
		}
	}
	res.Error = info
	return res
}

func (e *Executor) log(ctx context.Context, action string, res *schema.ExecutionResult, elapsed time.Duration) {
	attrs := []any{
		slog.String("action", action),
		slog.String("terminated_reason", string(res.TerminatedReason)),
		slog.Int("steps", res.StepsExecuted),
		slog.Int("diff_entries", len(res.StateDiff)),
		slog.Duration("elapsed", elapsed),
	}
	if res.Error != nil {
		attrs = append(attrs, slog.String("error_kind", res.Error.Kind), slog.String("block", res.Error.Block))
		e.logger.DebugContext(ctx, "action failed", attrs...)
		return
	}
	e.logger.DebugContext(ctx, "action returned", attrs...)
}
