package engine

import (
	"github.com/rendis/applogic/internal/expressions"
	"github.com/rendis/applogic/pkg/schema"
)

// workingState is the call-private copy of the writable roots. Update
// directives apply to it immediately so later reads observe them, and every
// change is recorded so it can be reported or thrown away as a whole.
type workingState struct {
	agent  map[string]any
	agents map[string]any
	shared map[string]any

	mutations []mutation
}

// mutation is a MutationRecord plus the resolved location it was applied to.
type mutation struct {
	schema.MutationRecord
	root string
	keys []any
}

func newWorkingState(ectx *schema.ExecutionContext) *workingState {
	ws := &workingState{
		agent:  map[string]any{},
		agents: map[string]any{},
		shared: map[string]any{},
	}
	if ectx == nil {
		return ws
	}
	if ectx.Agent != nil {
		ws.agent = expressions.NormalizeMap(ectx.Agent)
	}
	if ectx.Agents != nil {
		ws.agents = expressions.Normalize(ectx.Agents).(map[string]any)
	}
	if ectx.Shared != nil {
		ws.shared = expressions.NormalizeMap(ectx.Shared)
	}
	return ws
}

func (ws *workingState) root(name string) map[string]any {
	switch name {
	case expressions.RootAgent:
		return ws.agent
	case expressions.RootAgents:
		return ws.agents
	default:
		return ws.shared
	}
}

// Records returns the mutation buffer in directive order.
func (ws *workingState) Records() []schema.MutationRecord {
	out := make([]schema.MutationRecord, len(ws.mutations))
	for i, m := range ws.mutations {
		out[i] = m.MutationRecord
	}
	return out
}

// apply performs op at root/keys with value and appends a record.
// Remove of an absent element is a no-op and records nothing.
func (ws *workingState) apply(op schema.UpdateOp, root string, keys []any, path string, value any, blockID string) error {
	parent, last, err := ws.locate(root, keys, path)
	if err != nil {
		return err
	}
	current, found, err := expressions.Index(parent, last)
	if err != nil {
		return err
	}

	var next any
	switch op {
	case schema.OpSet:
		if _, isArray := parent.([]any); isArray && !found {
			return schema.NewErrorf(schema.ErrKindUndefinedReference, "index out of range at %s", path)
		}
		next = expressions.Clone(value)

	case schema.OpAdd, schema.OpSubtract:
		if !found {
			return schema.NewErrorf(schema.ErrKindUndefinedReference, "%s is not defined", path)
		}
		cur, ok := current.(float64)
		if !ok {
			return schema.NewErrorf(schema.ErrKindTypeMismatch, "%s %s requires a number target, got %s",
				op, path, expressions.TypeName(current))
		}
		delta, ok := value.(float64)
		if !ok {
			return schema.NewErrorf(schema.ErrKindTypeMismatch, "%s %s requires a number value, got %s",
				op, path, expressions.TypeName(value))
		}
		if op == schema.OpAdd {
			next = cur + delta
		} else {
			next = cur - delta
		}

	case schema.OpAppend:
		arr, err := arrayAt(path, current, found)
		if err != nil {
			return err
		}
		grown := make([]any, len(arr), len(arr)+1)
		copy(grown, arr)
		next = append(grown, expressions.Clone(value))

	case schema.OpRemove:
		arr, err := arrayAt(path, current, found)
		if err != nil {
			return err
		}
		idx := -1
		for i, item := range arr {
			if expressions.Equal(item, value) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil
		}
		shrunk := make([]any, 0, len(arr)-1)
		shrunk = append(append(shrunk, arr[:idx]...), arr[idx+1:]...)
		next = shrunk

	default:
		return schema.NewErrorf(schema.ErrKindMalformedAst, "unknown update operation %q", op)
	}

	store(parent, last, next)
	ws.mutations = append(ws.mutations, mutation{
		MutationRecord: schema.MutationRecord{
			Path:     path,
			OldValue: expressions.Clone(current),
			NewValue: expressions.Clone(next),
			Block:    blockID,
		},
		root: root,
		keys: keys,
	})
	return nil
}

// locate walks to the container holding the last key. Every intermediate
// segment must already exist.
func (ws *workingState) locate(root string, keys []any, path string) (any, any, error) {
	var cur any = ws.root(root)
	for _, k := range keys[:len(keys)-1] {
		next, found, err := expressions.Index(cur, k)
		if err != nil {
			return nil, nil, schema.NewErrorf(schema.ErrKindTypeMismatch, "cannot address %s: %s", path, messageOf(err))
		}
		if !found {
			return nil, nil, schema.NewErrorf(schema.ErrKindUndefinedReference, "%s: parent of %v is not defined", path, k)
		}
		cur = next
	}
	return cur, keys[len(keys)-1], nil
}

// lookup reads the current value at root/keys.
func (ws *workingState) lookup(root string, keys []any) (any, bool) {
	var cur any = ws.root(root)
	for _, k := range keys {
		next, found, err := expressions.Index(cur, k)
		if err != nil || !found {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func arrayAt(path string, current any, found bool) ([]any, error) {
	if !found {
		return nil, schema.NewErrorf(schema.ErrKindUndefinedReference, "%s is not defined", path)
	}
	arr, ok := current.([]any)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrKindTypeMismatch, "%s must be an array, got %s",
			path, expressions.TypeName(current))
	}
	return arr, nil
}

// store writes v into a container already validated by Index.
func store(container, key, v any) {
	switch c := container.(type) {
	case map[string]any:
		c[key.(string)] = v
	case []any:
		i, _ := expressions.AsInt(key)
		if i < 0 {
			i += len(c)
		}
		c[i] = v
	}
}

func messageOf(err error) string {
	if ae, ok := err.(*schema.ActionError); ok {
		return ae.Message
	}
	return err.Error()
}
