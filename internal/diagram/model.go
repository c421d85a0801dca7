package diagram

// NodeKind selects the shape a renderer draws for a node.
type NodeKind string

const (
	NodeKindStart     NodeKind = "start"
	NodeKindStep      NodeKind = "step"
	NodeKindCheck     NodeKind = "check"
	NodeKindCondition NodeKind = "condition"
	NodeKindLoop      NodeKind = "loop"
	NodeKindJoin      NodeKind = "join"
	NodeKindReturn    NodeKind = "return"
	NodeKindError     NodeKind = "error"
)

// Overlay states a node or edge can carry when a trace is applied.
const (
	StatusVisited = "visited"
	StatusSkipped = "skipped"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Groups []*SubGraph
	Levels [][]string
}

// Node is one flow-graph vertex.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Group  string // id of the innermost SubGraph, "" at top level
	Status string // StatusVisited, StatusSkipped or "" without a trace
}

// SubGraph is a branch arm or loop body and the nodes directly inside it.
type SubGraph struct {
	ID    string
	Label string
	Nodes []string
}

// Edge is a labeled control transfer.
type Edge struct {
	From  string
	To    string
	Label string
	Taken bool
}

func (m *DiagramModel) node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
