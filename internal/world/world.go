// Package world holds the authoritative simulation state that action calls
// read snapshots of and commit diffs into.
package world

import (
	"sort"
	"strconv"
	"sync"

	"github.com/rendis/applogic/internal/expressions"
	"github.com/rendis/applogic/pkg/schema"
)

// World is the mutable state of one simulated app. Snapshots are deep copies,
// so calls never observe each other's uncommitted writes. Commits are
// serialized; overlapping commits are last-writer-wins.
type World struct {
	mu      sync.RWMutex
	agents  map[string]any
	shared  map[string]any
	config  map[string]any
	version int64
}

// New creates a world from initial agent and shared state. Inputs are copied.
func New(agents map[string]map[string]any, shared, config map[string]any) *World {
	w := &World{
		agents: map[string]any{},
		shared: map[string]any{},
		config: expressions.NormalizeMap(config),
	}
	if agents != nil {
		w.agents = expressions.Normalize(agents).(map[string]any)
	}
	if shared != nil {
		w.shared = expressions.NormalizeMap(shared)
	}
	return w
}

// Version counts committed diffs.
func (w *World) Version() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.version
}

// AddAgent creates or replaces an agent's state.
func (w *World) AddAgent(id string, state map[string]any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	norm := expressions.NormalizeMap(state)
	if norm == nil {
		norm = map[string]any{}
	}
	w.agents[id] = norm
}

// Agents lists agent ids.
func (w *World) Agents() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.agents))
	for id := range w.agents {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Snapshot builds the read-only context for agentID. Every agent, including
// the acting one, appears under Agents; the acting agent is also Agent.
func (w *World) Snapshot(agentID string, params map[string]any) (*schema.ExecutionContext, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	self, ok := w.agents[agentID].(map[string]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrKindNotFound, "agent %q not found", agentID)
	}

	agents := make(map[string]map[string]any, len(w.agents))
	for id, st := range w.agents {
		if m, ok := st.(map[string]any); ok {
			agents[id] = expressions.Clone(m).(map[string]any)
		}
	}
	var config map[string]any
	if w.config != nil {
		config = expressions.Clone(w.config).(map[string]any)
	}
	return &schema.ExecutionContext{
		AgentID: agentID,
		Params:  params,
		Agent:   expressions.Clone(self).(map[string]any),
		Agents:  agents,
		Shared:  expressions.Clone(w.shared).(map[string]any),
		Config:  config,
	}, nil
}

// Commit applies the after-values of a successful call's diff. Paths are
// parsed with expressions.ParsePath; paths under
// "agent" are applied to agentID. Entries are applied in order to a staged
// copy; a path whose parent no longer exists is created as nested objects.
// Either every entry lands or the world is unchanged.
func (w *World) Commit(agentID string, diff []schema.DiffEntry) error {
	if len(diff) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	staged := &World{
		agents: expressions.Clone(w.agents).(map[string]any),
		shared: expressions.Clone(w.shared).(map[string]any),
	}
	for _, d := range diff {
		root, keys, err := staged.resolve(agentID, d.Path)
		if err != nil {
			return err
		}
		if err := put(root, keys, expressions.Clone(d.After)); err != nil {
			return schema.NewErrorf(schema.ErrKindNotFound, "commit %s: %s", d.Path, messageOf(err))
		}
	}
	w.agents, w.shared = staged.agents, staged.shared
	w.version++
	return nil
}

// Export returns a deep copy of the whole world.
func (w *World) Export() (agents map[string]any, shared map[string]any) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return expressions.Clone(w.agents).(map[string]any), expressions.Clone(w.shared).(map[string]any)
}

// resolve maps a diff path onto the container it addresses. Keys come from
// expressions.ParsePath, so quoted keys containing dots stay single keys.
func (w *World) resolve(agentID, path string) (map[string]any, []any, error) {
	root, keys, err := expressions.ParsePath(path)
	if err != nil {
		return nil, nil, err
	}
	if len(keys) == 0 {
		return nil, nil, schema.NewErrorf(schema.ErrKindMalformedAst, "diff path %q has no field", path)
	}
	switch root {
	case expressions.RootAgent:
		self, ok := w.agents[agentID].(map[string]any)
		if !ok {
			return nil, nil, schema.NewErrorf(schema.ErrKindNotFound, "agent %q not found", agentID)
		}
		return self, keys, nil
	case expressions.RootAgents:
		return w.agents, keys, nil
	case expressions.RootShared, expressions.RootState:
		return w.shared, keys, nil
	default:
		return nil, nil, schema.NewErrorf(schema.ErrKindMalformedAst, "diff path %q has an unknown root", path)
	}
}

// put writes v at keys below root. Int keys index existing arrays; missing
// objects along the way are created.
func put(root map[string]any, keys []any, v any) error {
	var cur any = root
	for i, k := range keys {
		last := i == len(keys)-1
		switch c := cur.(type) {
		case map[string]any:
			name, ok := k.(string)
			if !ok {
				name = strconv.Itoa(k.(int))
			}
			if last {
				c[name] = v
				return nil
			}
			next, ok := c[name]
			if !ok || next == nil {
				next = map[string]any{}
				c[name] = next
			}
			cur = next
		case []any:
			idx, ok := k.(int)
			if !ok || idx < 0 || idx >= len(c) {
				return schema.NewErrorf(schema.ErrKindNotFound, "index %v out of range", k)
			}
			if last {
				c[idx] = v
				return nil
			}
			cur = c[idx]
		default:
			return schema.NewErrorf(schema.ErrKindNotFound, "segment %v is not a container", k)
		}
	}
	return nil
}

func messageOf(err error) string {
	if ae, ok := err.(*schema.ActionError); ok {
		return ae.Message
	}
	return err.Error()
}
