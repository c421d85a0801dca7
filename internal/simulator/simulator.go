// Package simulator serves action calls against live worlds: one world per
// registered app, with every call recorded, observed and broadcast.
package simulator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/applogic/internal/app"
	"github.com/rendis/applogic/internal/coverage"
	"github.com/rendis/applogic/internal/engine"
	"github.com/rendis/applogic/internal/flowgraph"
	"github.com/rendis/applogic/internal/logging"
	"github.com/rendis/applogic/internal/store"
	"github.com/rendis/applogic/internal/streaming"
	"github.com/rendis/applogic/internal/world"
	"github.com/rendis/applogic/pkg/schema"
)

// Deps holds the collaborators of a Simulator. Only Registry is required.
type Deps struct {
	Registry *app.Registry
	Store    store.Store
	Hub      streaming.EventHub
	Observer engine.Observer
	Logger   *slog.Logger
	// PathLimit bounds path enumeration for Paths and Coverage.
	PathLimit int
}

// Request is one action call. With Context set the call runs statelessly
// against it; otherwise it runs as AgentID against the app's world and a
// successful diff is committed.
type Request struct {
	App     string                   `json:"app"`
	Action  string                   `json:"action"`
	AgentID string                   `json:"agent_id,omitempty"`
	Params  map[string]any           `json:"params,omitempty"`
	Context *schema.ExecutionContext `json:"context,omitempty"`
}

// Simulator is safe for concurrent use.
type Simulator struct {
	deps Deps

	mu       sync.Mutex
	worlds   map[string]*world.World
	coverage map[string]*coverage.Collector
}

// New creates a Simulator.
func New(deps Deps) *Simulator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Simulator{
		deps:     deps,
		worlds:   make(map[string]*world.World),
		coverage: make(map[string]*coverage.Collector),
	}
}

// Registry returns the served apps.
func (s *Simulator) Registry() *app.Registry { return s.deps.Registry }

// Store returns the execution log, or nil when none is configured.
func (s *Simulator) Store() store.Store { return s.deps.Store }

// Hub returns the event hub, or nil when none is configured.
func (s *Simulator) Hub() streaming.EventHub { return s.deps.Hub }

// World returns the live world of an app, seeding it from the bundle on
// first use.
func (s *Simulator) World(name string) (*world.World, error) {
	a, err := s.deps.Registry.Get(name)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worldLocked(a), nil
}

func (s *Simulator) worldLocked(a *app.App) *world.World {
	w, ok := s.worlds[a.Name()]
	if !ok {
		w = world.FromBundle(a.Bundle())
		s.worlds[a.Name()] = w
	}
	return w
}

func (s *Simulator) collector(name string) *coverage.Collector {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.coverage[name]
	if !ok {
		c = coverage.NewCollector()
		s.coverage[name] = c
	}
	return c
}

// Reset reseeds an app's world from its bundle and drops its coverage.
func (s *Simulator) Reset(name string) error {
	a, err := s.deps.Registry.Get(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.worlds[name] = world.FromBundle(a.Bundle())
	delete(s.coverage, name)
	s.mu.Unlock()

	s.deps.Logger.Info("world reset", slog.String("app", name))
	return nil
}

// Execute runs one call. The returned error covers lookups and commit
// failures; failed calls are reported in the execution's result.
func (s *Simulator) Execute(ctx context.Context, req Request) (*store.Execution, error) {
	a, err := s.deps.Registry.Get(req.App)
	if err != nil {
		return nil, err
	}
	agentID := req.AgentID
	if req.Context != nil && req.Context.AgentID != "" {
		agentID = req.Context.AgentID
	}

	id := uuid.NewString()
	ctx = logging.WithCall(ctx, req.App, req.Action, agentID)
	ctx = logging.WithExecutionID(ctx, id)

	exec := a.Executor().WithTrace(true)
	if s.deps.Observer != nil {
		exec = exec.WithObserver(s.deps.Observer)
	}

	start := time.Now()
	var res *schema.ExecutionResult
	if req.Context != nil {
		ectx := req.Context
		if req.Params != nil {
			cp := *req.Context
			cp.Params = req.Params
			ectx = &cp
		}
		res, err = a.RunWith(ctx, exec, req.Action, ectx)
	} else {
		if agentID == "" {
			return nil, schema.NewError(schema.ErrKindMalformedAst, "agent_id is required without a context")
		}
		w, werr := s.World(req.App)
		if werr != nil {
			return nil, werr
		}
		res, err = w.Run(ctx, a, exec, agentID, req.Action, req.Params)
	}
	if err != nil {
		return nil, err
	}

	record := &store.Execution{
		ID:        id,
		App:       req.App,
		Action:    req.Action,
		AgentID:   agentID,
		Params:    req.Params,
		Result:    *res,
		Duration:  time.Since(start),
		CreatedAt: time.Now().UTC(),
	}
	s.collector(req.App).Record(req.Action, res.Trace)

	if s.deps.Store != nil {
		if err := s.deps.Store.SaveExecution(ctx, record); err != nil {
			logging.LogWith(ctx, s.deps.Logger).Error("save execution failed", slog.String("error", err.Error()))
		}
	}
	s.publish(ctx, record)
	return record, nil
}

// publish broadcasts the outcome and, for a successful call, each delivered
// notification.
func (s *Simulator) publish(ctx context.Context, rec *store.Execution) {
	if s.deps.Hub == nil {
		return
	}
	base := streaming.Event{
		App:         rec.App,
		Action:      rec.Action,
		AgentID:     rec.AgentID,
		ExecutionID: rec.ID,
	}
	events := make([]streaming.Event, 0, 1+len(rec.Result.Notifications))
	outcome := base
	outcome.Type = streaming.EventExecuted
	if !rec.Result.Success {
		outcome.Type = streaming.EventFailed
	}
	outcome.Payload = rec.Result
	events = append(events, outcome)
	for _, n := range rec.Result.Notifications {
		e := base
		e.Type = streaming.EventNotification
		e.Payload = n
		events = append(events, e)
	}
	for _, e := range events {
		if err := s.deps.Hub.Publish(ctx, e); err != nil {
			logging.LogWith(ctx, s.deps.Logger).Warn("publish event failed",
				slog.String("type", e.Type), slog.String("error", err.Error()))
			return
		}
	}
}

// Coverage reports the coverage of every call served for an app since the
// last reset.
func (s *Simulator) Coverage(name string) (*schema.CoverageReport, error) {
	a, err := s.deps.Registry.Get(name)
	if err != nil {
		return nil, err
	}
	return s.collector(name).Report(a.Actions(), s.deps.PathLimit), nil
}

// Paths enumerates the control-flow paths of one action.
func (s *Simulator) Paths(appName, action string, limit int) ([]flowgraph.Path, bool, error) {
	a, err := s.deps.Registry.Get(appName)
	if err != nil {
		return nil, false, err
	}
	compiled, err := a.Action(action)
	if err != nil {
		return nil, false, err
	}
	if limit <= 0 {
		limit = s.deps.PathLimit
	}
	paths, truncated := flowgraph.EnumeratePaths(compiled.Graph(), limit)
	return paths, truncated, nil
}
