package diagram

import (
	"strings"

	"github.com/rendis/applogic/internal/flowgraph"
	"github.com/rendis/applogic/pkg/schema"
)

// Build converts an action's flow graph into a DiagramModel. With a trace,
// nodes on the trace path are marked visited and the rest skipped, and each
// edge between consecutive path nodes is marked taken.
func Build(g *flowgraph.Graph, trace *schema.Trace) *DiagramModel {
	model := &DiagramModel{Title: g.Action}
	if model.Title == "" {
		model.Title = "Action"
	}

	visited := make(map[string]bool)
	taken := make(map[[2]string]bool)
	if trace != nil {
		for i, id := range trace.Path {
			visited[id] = true
			if i > 0 {
				taken[[2]string{trace.Path[i-1], id}] = true
			}
		}
	}

	groups := make(map[string]*SubGraph)
	for _, n := range g.Nodes {
		node := &Node{
			ID:    n.ID,
			Label: n.Label,
			Kind:  kindOf(n.Kind),
			Group: groupOf(n.ID),
		}
		if trace != nil {
			node.Status = StatusSkipped
			if visited[n.ID] {
				node.Status = StatusVisited
			}
		}
		if node.Group != "" {
			sg, ok := groups[node.Group]
			if !ok {
				sg = &SubGraph{ID: node.Group, Label: groupLabel(node.Group)}
				groups[node.Group] = sg
				model.Groups = append(model.Groups, sg)
			}
			sg.Nodes = append(sg.Nodes, n.ID)
		}
		model.Nodes = append(model.Nodes, node)
	}

	for _, e := range g.Edges {
		label := ""
		if e.Label != flowgraph.LabelFallthrough {
			label = string(e.Label)
		}
		model.Edges = append(model.Edges, Edge{
			From:  e.From,
			To:    e.To,
			Label: label,
			Taken: taken[[2]string{e.From, e.To}],
		})
	}

	model.Levels = buildLevels(g)
	return model
}

func kindOf(k flowgraph.NodeKind) NodeKind {
	switch k {
	case flowgraph.KindEntry:
		return NodeKindStart
	case flowgraph.KindValidate:
		return NodeKindCheck
	case flowgraph.KindBranch:
		return NodeKindCondition
	case flowgraph.KindLoop, flowgraph.KindLoopEntry:
		return NodeKindLoop
	case flowgraph.KindMerge, flowgraph.KindLoopExit:
		return NodeKindJoin
	case flowgraph.KindReturn:
		return NodeKindReturn
	case flowgraph.KindError:
		return NodeKindError
	default:
		return NodeKindStep
	}
}

// groupOf returns the innermost "<block>.<arm>" prefix of a node id, so
// "2.then.0" belongs to "2.then" and "2.then.1.body.0" to "2.then.1.body".
// Synthetic merge, entry and exit nodes belong with their block.
func groupOf(id string) string {
	parts := strings.Split(id, ".")
	for i := len(parts) - 1; i > 0; i-- {
		switch parts[i] {
		case "then", "else", "body":
			if i == len(parts)-1 {
				continue
			}
			return strings.Join(parts[:i+1], ".")
		}
	}
	return ""
}

func groupLabel(id string) string {
	i := strings.LastIndex(id, ".")
	return id[:i] + ": " + id[i+1:]
}

// buildLevels layers nodes by longest distance from the entry node.
func buildLevels(g *flowgraph.Graph) [][]string {
	indeg := make(map[string]int, len(g.Nodes))
	for _, e := range g.Edges {
		indeg[e.To]++
	}
	depth := make(map[string]int, len(g.Nodes))
	queue := []string{flowgraph.EntryID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.Successors(id) {
			if d := depth[id] + 1; d > depth[e.To] {
				depth[e.To] = d
			}
			indeg[e.To]--
			if indeg[e.To] == 0 {
				queue = append(queue, e.To)
			}
		}
	}

	var levels [][]string
	for _, n := range g.Nodes {
		if _, ok := depth[n.ID]; !ok && n.ID != flowgraph.EntryID {
			continue
		}
		d := depth[n.ID]
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], n.ID)
	}
	return levels
}
