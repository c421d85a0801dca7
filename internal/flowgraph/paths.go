package flowgraph

import "strings"

// DefaultPathLimit caps EnumeratePaths when the caller passes no limit.
const DefaultPathLimit = 10000

// Path is an ordered node-id sequence from the entry node to an exit node.
type Path []string

// Key returns a stable string form of the path.
func (p Path) Key() string {
	return strings.Join(p, " > ")
}

// EnumeratePaths returns every path from entry to an exit node, depth-first
// in edge insertion order. Paths with identical node sequences are reported
// once. truncated is true when more than limit paths exist.
func EnumeratePaths(g *Graph, limit int) (paths []Path, truncated bool) {
	if g == nil || g.Node(EntryID) == nil {
		return nil, false
	}
	if limit <= 0 {
		limit = DefaultPathLimit
	}

	seen := make(map[string]bool)
	stack := []string{EntryID}

	var walk func(id string) bool
	walk = func(id string) bool {
		if g.Node(id).IsExit() {
			p := make(Path, len(stack))
			copy(p, stack)
			if key := p.Key(); !seen[key] {
				if len(paths) == limit {
					truncated = true
					return false
				}
				seen[key] = true
				paths = append(paths, p)
			}
			return true
		}
		for _, e := range g.Successors(id) {
			stack = append(stack, e.To)
			ok := walk(e.To)
			stack = stack[:len(stack)-1]
			if !ok {
				return false
			}
		}
		return true
	}
	walk(EntryID)
	return paths, truncated
}
