package engine

import (
	"sync"

	"github.com/rendis/applogic/pkg/schema"
)

// RunState is the lifecycle state of one action call.
type RunState string

const (
	RunRunning  RunState = "running"
	RunReturned RunState = "returned"
	RunErrored  RunState = "errored"
	RunAborted  RunState = "aborted"
)

// IsTerminal reports whether no further transition is possible.
func (s RunState) IsTerminal() bool {
	return s == RunReturned || s == RunErrored || s == RunAborted
}

// Reason maps a terminal state to the reported terminated_reason.
func (s RunState) Reason() schema.TerminatedReason {
	switch s {
	case RunReturned:
		return schema.TerminatedReturned
	case RunAborted:
		return schema.TerminatedResourceExhausted
	default:
		return schema.TerminatedErrored
	}
}

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to RunState) error

type runHookKey struct {
	from, to RunState
}

// RunFSM validates run state transitions and dispatches hooks. One RunFSM is
// shared by every call of an Executor; per-call state lives in the caller.
type RunFSM struct {
	mu     sync.RWMutex
	before map[runHookKey][]TransitionHook
	after  map[runHookKey][]TransitionHook
}

// NewRunFSM creates a RunFSM with no hooks.
func NewRunFSM() *RunFSM {
	return &RunFSM{
		before: make(map[runHookKey][]TransitionHook),
		after:  make(map[runHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a run transition.
func (f *RunFSM) OnBefore(from, to RunState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a run transition.
func (f *RunFSM) OnAfter(from, to RunState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates from -> to and runs the registered hooks.
// A failing before hook blocks the transition.
func (f *RunFSM) Transition(from, to RunState) error {
	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrKindInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}

	f.mu.RLock()
	key := runHookKey{from, to}
	before, after := f.before[key], f.after[key]
	f.mu.RUnlock()

	for _, hook := range before {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	for _, hook := range after {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	return nil
}

func isValidRunTransition(from, to RunState) bool {
	allowed, ok := ValidRunTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

// ValidRunTransitions defines the allowed state transitions for a call.
var ValidRunTransitions = map[RunState][]RunState{
	RunRunning:  {RunReturned, RunErrored, RunAborted},
	RunReturned: {},
	RunErrored:  {},
	RunAborted:  {},
}
