package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rendis/applogic/internal/engine"
	"github.com/rendis/applogic/pkg/schema"
)

// App is a compiled bundle. Every action is validated and parsed once; Run
// only walks the compiled form.
type App struct {
	bundle  *Bundle
	exec    *engine.Executor
	actions map[string]*engine.CompiledAction
	order   []string
}

// New compiles every action of b on exec, configured with the bundle limits.
// Any invalid action fails the whole app with MalformedAst naming the action.
func New(b *Bundle, exec *engine.Executor) (*App, error) {
	if b == nil {
		return nil, schema.NewError(schema.ErrKindMalformedAst, "bundle is nil")
	}
	a := &App{
		bundle:  b,
		exec:    exec.WithLimits(b.Limits),
		actions: make(map[string]*engine.CompiledAction, len(b.Actions)),
	}

	for i, def := range b.Actions {
		if def == nil {
			return nil, schema.NewErrorf(schema.ErrKindMalformedAst, "app %q: action %d is null", b.Name, i)
		}
		if _, dup := a.actions[def.Name]; dup {
			return nil, schema.NewErrorf(schema.ErrKindMalformedAst, "app %q: duplicate action %q", b.Name, def.Name)
		}
		compiled, err := a.exec.Compile(def)
		if err != nil {
			if ae, ok := err.(*schema.ActionError); ok {
				return nil, schema.NewErrorf(ae.Kind, "app %q: action %q: %s", b.Name, def.Name, ae.Message).
					WithDetails(ae.Details).WithCause(err)
			}
			return nil, fmt.Errorf("app %q: action %q: %w", b.Name, def.Name, err)
		}
		a.actions[def.Name] = compiled
		a.order = append(a.order, def.Name)
	}
	return a, nil
}

// Name returns the app name.
func (a *App) Name() string { return a.bundle.Name }

// Bundle returns the source bundle. Callers must not modify it.
func (a *App) Bundle() *Bundle { return a.bundle }

// Limits returns the effective limits.
func (a *App) Limits() schema.Limits { return a.exec.Limits() }

// Executor returns the executor bound to this app's limits.
func (a *App) Executor() *engine.Executor { return a.exec }

// Action returns a compiled action by name.
func (a *App) Action(name string) (*engine.CompiledAction, error) {
	c, ok := a.actions[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrKindNotFound, "app %q has no action %q", a.bundle.Name, name)
	}
	return c, nil
}

// Actions lists compiled actions in bundle order.
func (a *App) Actions() []*engine.CompiledAction {
	out := make([]*engine.CompiledAction, 0, len(a.order))
	for _, name := range a.order {
		out = append(out, a.actions[name])
	}
	return out
}

// Run executes an action. The bundle config is used when ectx carries none.
// The error return is reserved for lookup failures; call failures are in the result.
func (a *App) Run(ctx context.Context, action string, ectx *schema.ExecutionContext) (*schema.ExecutionResult, error) {
	return a.RunWith(ctx, a.exec, action, ectx)
}

// RunWith is Run on a caller-supplied executor, such as one with
// deterministic services or tracing enabled.
func (a *App) RunWith(ctx context.Context, exec *engine.Executor, action string, ectx *schema.ExecutionContext) (*schema.ExecutionResult, error) {
	compiled, err := a.Action(action)
	if err != nil {
		return nil, err
	}
	if ectx == nil {
		ectx = &schema.ExecutionContext{}
	}
	if ectx.Config == nil && a.bundle.Config != nil {
		cp := *ectx
		cp.Config = a.bundle.Config
		ectx = &cp
	}
	return exec.WithLimits(a.Limits()).Execute(ctx, compiled, ectx), nil
}

// Registry holds the apps served by one process.
type Registry struct {
	mu   sync.RWMutex
	apps map[string]*App
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{apps: make(map[string]*App)}
}

// Register adds or replaces an app.
func (r *Registry) Register(a *App) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[a.Name()] = a
}

// Get returns an app by name.
func (r *Registry) Get(name string) (*App, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.apps[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrKindNotFound, "app %q not found", name)
	}
	return a, nil
}

// List returns all apps sorted by name.
func (r *Registry) List() []*App {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*App, 0, len(r.apps))
	for _, a := range r.apps {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
