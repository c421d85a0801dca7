package engine

import (
	"time"

	"github.com/rendis/applogic/internal/expressions"
	"github.com/rendis/applogic/pkg/schema"
)

// Budget tracks the loop iterations and wall time of one call. It is created
// per call and passed by pointer through every nested branch and loop, so
// nested loops draw from the same counter.
type Budget struct {
	IterationsUsed int
	StartTime      time.Time

	maxIterations int
	timeout       time.Duration
	clock         expressions.Clock
}

// NewBudget starts a budget at clock.Now().
func NewBudget(limits schema.Limits, clock expressions.Clock) *Budget {
	limits = limits.WithDefaults()
	if clock == nil {
		clock = expressions.SystemClock{}
	}
	return &Budget{
		StartTime:     clock.Now(),
		maxIterations: limits.MaxIterations,
		timeout:       time.Duration(limits.TimeoutSeconds) * time.Second,
		clock:         clock,
	}
}

// Tick records one completed loop iteration and checks both bounds.
// The check only runs between iterations; it never interrupts an expression.
// With MaxIterations n, ticks 1..n pass and tick n+1 fails: a call may
// complete n iterations and aborts when iteration n+1 finishes.
func (b *Budget) Tick() error {
	b.IterationsUsed++
	if b.IterationsUsed > b.maxIterations {
		return schema.NewErrorf(schema.ErrKindResourceExhausted,
			"iteration limit of %d exceeded", b.maxIterations).
			WithDetails(map[string]any{"iterations_used": b.IterationsUsed, "max_iterations": b.maxIterations})
	}
	if elapsed := b.Elapsed(); elapsed > b.timeout {
		return schema.NewErrorf(schema.ErrKindResourceExhausted,
			"timeout of %s exceeded after %s", b.timeout, elapsed.Round(time.Millisecond)).
			WithDetails(map[string]any{"iterations_used": b.IterationsUsed, "timeout_seconds": b.timeout.Seconds()})
	}
	return nil
}

// Elapsed returns the time since the call started.
func (b *Budget) Elapsed() time.Duration {
	return b.clock.Now().Sub(b.StartTime)
}
