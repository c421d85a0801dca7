package world

import (
	"context"

	"github.com/rendis/applogic/internal/app"
	"github.com/rendis/applogic/internal/engine"
	"github.com/rendis/applogic/pkg/schema"
)

// FromBundle creates a world seeded with the bundle's initial state and config.
func FromBundle(b *app.Bundle) *World {
	if b.State == nil {
		return New(nil, nil, b.Config)
	}
	return New(b.State.Agents, b.State.Shared, b.Config)
}

// Run snapshots the world for agentID, executes action and commits the diff
// when the call returned. exec may be nil to use the app's executor.
func (w *World) Run(ctx context.Context, a *app.App, exec *engine.Executor, agentID, action string, params map[string]any) (*schema.ExecutionResult, error) {
	ectx, err := w.Snapshot(agentID, params)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		exec = a.Executor()
	}
	res, err := a.RunWith(ctx, exec, action, ectx)
	if err != nil {
		return nil, err
	}
	if res.Success {
		if err := w.Commit(agentID, res.StateDiff); err != nil {
			return res, err
		}
	}
	return res, nil
}
