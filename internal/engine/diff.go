package engine

import (
	"github.com/rendis/applogic/internal/expressions"
	"github.com/rendis/applogic/pkg/schema"
)

// Diff collapses the mutation buffer into one entry per touched path, in
// first-touch order. Before is the value ahead of the first write; After is
// the value at commit. Entries are leaf paths as addressed by Update targets,
// in expressions.FormatPath form: an append to agent.cart is one entry for
// agent.cart, and shared["a.b"] stays distinct from shared.a.b.
func (ws *workingState) Diff() []schema.DiffEntry {
	out := make([]schema.DiffEntry, 0, len(ws.mutations))
	firsts := make([]mutation, 0, len(ws.mutations))
	index := make(map[string]int, len(ws.mutations))

	for _, m := range ws.mutations {
		if i, seen := index[m.Path]; seen {
			out[i].After = m.NewValue
			continue
		}
		index[m.Path] = len(out)
		firsts = append(firsts, m)
		out = append(out, schema.DiffEntry{
			Path:   m.Path,
			Before: m.OldValue,
			After:  m.NewValue,
		})
	}

	// A later write to a parent path can change a child's final value without
	// a record of its own, so read the committed value back where possible.
	for i, m := range firsts {
		if v, ok := ws.lookup(m.root, m.keys); ok {
			out[i].After = expressions.Clone(v)
		}
	}
	return out
}

// DiffPaths lists the paths of a diff in order.
func DiffPaths(diff []schema.DiffEntry) []string {
	out := make([]string, len(diff))
	for i, d := range diff {
		out[i] = d.Path
	}
	return out
}
