package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/applogic/internal/app"
	"github.com/rendis/applogic/internal/coverage"
	"github.com/rendis/applogic/internal/expressions"
	"github.com/rendis/applogic/internal/world"
	"github.com/rendis/applogic/pkg/schema"
)

// DefaultNow is the clock start of a case that does not set one.
var DefaultNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// CaseReport is the outcome of one case.
type CaseReport struct {
	Name     string                  `json:"name"`
	Action   string                  `json:"action"`
	Passed   bool                    `json:"passed"`
	Failures []string                `json:"failures,omitempty"`
	Result   *schema.ExecutionResult `json:"result,omitempty"`
	Duration time.Duration           `json:"duration_ns"`
}

// SuiteReport is the outcome of a suite, cases in suite order.
type SuiteReport struct {
	App      string                 `json:"app"`
	Passed   int                    `json:"passed"`
	Failed   int                    `json:"failed"`
	Cases    []CaseReport           `json:"cases"`
	Coverage *schema.CoverageReport `json:"coverage,omitempty"`
}

// OK reports whether every case passed.
func (r *SuiteReport) OK() bool { return r.Failed == 0 }

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// Concurrency bounds parallel cases. Zero runs one at a time.
	Concurrency int
	// Coverage, when set, receives the trace of every case.
	Coverage *coverage.Collector
	// PathLimit bounds path enumeration in the coverage report.
	PathLimit int
	Logger    *slog.Logger
}

// Runner executes suites against one app.
type Runner struct {
	app    *app.App
	check  *checker
	config RunnerConfig
	logger *slog.Logger
}

// NewRunner creates a Runner for a.
func NewRunner(a *app.App, cfg RunnerConfig) (*Runner, error) {
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		app: a,
		check: &checker{
			jq:        expressions.NewGoJQEngine(),
			cel:       cel,
			validator: a.Executor().Validator(),
		},
		config: cfg,
		logger: logger,
	}, nil
}

// Run executes every case. Case failures are reported, not returned; the
// error is non-nil only when the suite could not run at all.
func (r *Runner) Run(ctx context.Context, s *Suite) (*SuiteReport, error) {
	if s.App != "" && s.App != r.app.Name() {
		return nil, schema.NewErrorf(schema.ErrKindNotFound, "suite targets app %q, loaded %q", s.App, r.app.Name())
	}

	report := &SuiteReport{App: r.app.Name(), Cases: make([]CaseReport, len(s.Cases))}
	pool := NewPool(r.config.Concurrency)
	defer pool.Close()

	var mu sync.Mutex
	for i, c := range s.Cases {
		err := pool.Go(ctx, func(ctx context.Context) error {
			cr := r.runCase(ctx, c)
			mu.Lock()
			report.Cases[i] = cr
			mu.Unlock()
			if !cr.Passed {
				return fmt.Errorf("case %s failed", c.Name)
			}
			return nil
		}, func(err error) {
			mu.Lock()
			report.Cases[i] = CaseReport{Name: c.Name, Action: c.Action, Failures: []string{err.Error()}}
			mu.Unlock()
		})
		if err != nil {
			return nil, err
		}
	}
	pool.Wait()

	for _, cr := range report.Cases {
		if cr.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
	}
	if r.config.Coverage != nil {
		report.Coverage = r.config.Coverage.Report(r.app.Actions(), r.config.PathLimit)
	}

	r.logger.InfoContext(ctx, "suite finished",
		slog.String("app", report.App),
		slog.Int("passed", report.Passed),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

func (r *Runner) runCase(ctx context.Context, c Case) CaseReport {
	start := time.Now()
	cr := CaseReport{Name: c.Name, Action: c.Action}

	res, ectx, state, err := r.execute(ctx, c)
	cr.Duration = time.Since(start)
	if err != nil {
		cr.Failures = []string{err.Error()}
		return cr
	}
	cr.Result = res
	if r.config.Coverage != nil {
		r.config.Coverage.Record(c.Action, res.Trace)
	}

	cr.Failures = expectations(c.Expect, res)
	if len(c.Expect.Assertions) > 0 {
		data, _ := expressions.Normalize(map[string]any{
			"result":  res,
			"context": ectx,
			"state":   state,
		}).(map[string]any)
		for i, a := range c.Expect.Assertions {
			if msg := r.check.assert(ctx, i, a, data); msg != "" {
				cr.Failures = append(cr.Failures, msg)
			}
		}
	}
	cr.Passed = len(cr.Failures) == 0

	r.logger.DebugContext(ctx, "case finished",
		slog.String("case", c.Name),
		slog.String("action", c.Action),
		slog.Bool("passed", cr.Passed),
		slog.Duration("duration", cr.Duration),
	)
	return cr
}

// execute runs the case's call and returns the result, the context it ran
// against and the state after committing a successful diff.
func (r *Runner) execute(ctx context.Context, c Case) (*schema.ExecutionResult, *schema.ExecutionContext, map[string]any, error) {
	now := DefaultNow
	if c.Now != nil {
		now = *c.Now
	}
	exec := r.app.Executor().
		WithServices(expressions.Deterministic(c.Seed, now)).
		WithTrace(true)

	var w *world.World
	var agentID string
	var ectx *schema.ExecutionContext
	if c.Context != nil {
		agentID = c.Context.AgentID
		if agentID == "" {
			agentID = "self"
		}
		w = world.New(c.Context.Agents, c.Context.Shared, c.Context.Config)
		if _, ok := c.Context.Agents[agentID]; !ok || c.Context.Agent != nil {
			w.AddAgent(agentID, c.Context.Agent)
		}
		ectx = c.Context
		if c.Params != nil {
			cp := *c.Context
			cp.Params = c.Params
			ectx = &cp
		}
	} else {
		agentID = c.Agent
		if agentID == "" {
			return nil, nil, nil, schema.NewErrorf(schema.ErrKindMalformedAst, "case %s needs an agent or a context", c.Name)
		}
		w = world.FromBundle(r.app.Bundle())
		var err error
		if ectx, err = w.Snapshot(agentID, c.Params); err != nil {
			return nil, nil, nil, err
		}
	}

	res, err := r.app.RunWith(ctx, exec, c.Action, ectx)
	if err != nil {
		return nil, nil, nil, err
	}
	if res.Success {
		if err := w.Commit(agentID, res.StateDiff); err != nil {
			return nil, nil, nil, fmt.Errorf("commit: %w", err)
		}
	}
	agents, shared := w.Export()
	return res, ectx, map[string]any{
		"agent":  agents[agentID],
		"agents": agents,
		"shared": shared,
	}, nil
}
