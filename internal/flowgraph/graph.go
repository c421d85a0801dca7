package flowgraph

import (
	"fmt"
	"strings"

	"github.com/rendis/applogic/pkg/schema"
)

// NodeKind classifies a flow-graph node.
type NodeKind string

const (
	KindEntry     NodeKind = "entry"
	KindValidate  NodeKind = "validate"
	KindUpdate    NodeKind = "update"
	KindNotify    NodeKind = "notify"
	KindReturn    NodeKind = "return"
	KindError     NodeKind = "error"
	KindBranch    NodeKind = "branch"
	KindMerge     NodeKind = "merge"
	KindLoop      NodeKind = "loop"
	KindLoopEntry NodeKind = "loop-entry"
	KindLoopExit  NodeKind = "loop-exit"
)

// EdgeLabel names the control transfer an edge represents.
type EdgeLabel string

const (
	LabelThen        EdgeLabel = "then"
	LabelElse        EdgeLabel = "else"
	LabelLoopSkip    EdgeLabel = "loop-skip"
	LabelLoopOnce    EdgeLabel = "loop-once"
	LabelFallthrough EdgeLabel = "fallthrough"
)

// EntryID is the id of the synthetic start node.
const EntryID = "entry"

// Node is one vertex. Block is nil for synthetic nodes.
type Node struct {
	ID    string       `json:"id"`
	Kind  NodeKind     `json:"kind"`
	Label string       `json:"label"`
	Block schema.Block `json:"-"`
}

// IsExit reports whether the node ends the call.
func (n *Node) IsExit() bool {
	return n.Kind == KindReturn || n.Kind == KindError
}

// Edge is a directed, labeled transfer between two nodes.
type Edge struct {
	From  string    `json:"from"`
	To    string    `json:"to"`
	Label EdgeLabel `json:"label"`
}

// BranchArm is one outcome of a branch or loop node.
type BranchArm struct {
	Block     string    `json:"block"`
	Outcome   EdgeLabel `json:"outcome"`
	Condition string    `json:"condition"`
}

// Graph is the acyclic control-flow graph of one action. Loops are unrolled
// to a skip path and a single-iteration path, so the graph approximates
// rather than enumerates real executions. Immutable after Build.
type Graph struct {
	Action      string   `json:"action"`
	Nodes       []*Node  `json:"nodes"`
	Edges       []Edge   `json:"edges"`
	Exits       []string `json:"exits"`
	Unreachable []string `json:"unreachable,omitempty"`

	index map[string]*Node
	out   map[string][]Edge
	arms  []BranchArm
}

// Node returns a node by id, or nil.
func (g *Graph) Node(id string) *Node {
	return g.index[id]
}

// Successors returns the outgoing edges of id in insertion order.
func (g *Graph) Successors(id string) []Edge {
	return g.out[id]
}

// BranchArms lists every branch and loop outcome in block order.
func (g *Graph) BranchArms() []BranchArm {
	return g.arms
}

// BlockNodes returns the nodes that stand for concrete blocks, in block order.
func (g *Graph) BlockNodes() []*Node {
	out := make([]*Node, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.Block != nil {
			out = append(out, n)
		}
	}
	return out
}

type pending struct {
	from  string
	label EdgeLabel
}

type builder struct {
	g *Graph
}

// Build constructs the flow graph of def. A definition with no logic, a nil
// block, or any path that can run off the end without a return or error
// directive is MalformedAst. Blocks after a terminal directive are recorded
// in Unreachable and left out of the graph.
func Build(def *schema.ActionDefinition) (*Graph, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrKindMalformedAst, "action definition is nil")
	}
	if len(def.Logic) == 0 {
		return nil, schema.NewErrorf(schema.ErrKindMalformedAst, "action %q has no logic", def.Name)
	}

	b := &builder{g: &Graph{
		Action: def.Name,
		index:  make(map[string]*Node),
		out:    make(map[string][]Edge),
	}}
	b.addNode(EntryID, KindEntry, "start", nil)

	dangling, err := b.seq(def.Logic, "", []pending{{from: EntryID, label: LabelFallthrough}})
	if err != nil {
		return nil, err
	}
	if len(dangling) > 0 {
		from := make([]string, 0, len(dangling))
		for _, p := range dangling {
			from = append(from, p.from)
		}
		return nil, schema.NewErrorf(schema.ErrKindMalformedAst,
			"action %q can finish without a return or error directive (after %s)",
			def.Name, strings.Join(from, ", ")).
			WithDetails(map[string]any{"dangling": from})
	}
	return b.g, nil
}

// seq wires blocks in order. in holds the edges waiting for the next node;
// the returned slice holds the edges left waiting after the last block.
func (b *builder) seq(blocks schema.Blocks, prefix string, in []pending) ([]pending, error) {
	for i, blk := range blocks {
		id := fmt.Sprintf("%s%d", prefix, i)
		if blk == nil {
			return nil, schema.NewError(schema.ErrKindMalformedAst, "nil block").WithBlock(id)
		}
		if len(in) == 0 {
			b.g.Unreachable = append(b.g.Unreachable, id)
			continue
		}

		kind := blockKind(blk)
		b.addNode(id, kind, Describe(blk), blk)
		b.connect(in, id)

		switch v := blk.(type) {
		case *schema.ReturnBlock, *schema.ErrorBlock:
			b.g.Exits = append(b.g.Exits, id)
			in = nil

		case *schema.BranchBlock:
			b.g.arms = append(b.g.arms,
				BranchArm{Block: id, Outcome: LabelThen, Condition: v.Condition},
				BranchArm{Block: id, Outcome: LabelElse, Condition: v.Condition})

			thenOut, err := b.seq(v.Then, id+".then.", []pending{{from: id, label: LabelThen}})
			if err != nil {
				return nil, err
			}
			elseOut, err := b.seq(v.Else, id+".else.", []pending{{from: id, label: LabelElse}})
			if err != nil {
				return nil, err
			}
			joined := make([]pending, 0, len(thenOut)+len(elseOut))
			joined = append(append(joined, thenOut...), elseOut...)
			if len(joined) == 0 {
				in = nil
				continue
			}
			merge := id + ".merge"
			b.addNode(merge, KindMerge, "merge", nil)
			b.connect(joined, merge)
			in = []pending{{from: merge, label: LabelFallthrough}}

		case *schema.LoopBlock:
			b.g.arms = append(b.g.arms,
				BranchArm{Block: id, Outcome: LabelLoopSkip, Condition: v.Collection},
				BranchArm{Block: id, Outcome: LabelLoopOnce, Condition: v.Collection})

			entry, exit := id+".entry", id+".exit"
			b.addNode(entry, KindLoopEntry, "for each "+v.As, nil)
			b.addEdge(id, entry, LabelFallthrough)

			bodyOut, err := b.seq(v.Body, id+".body.", []pending{{from: entry, label: LabelLoopOnce}})
			if err != nil {
				return nil, err
			}
			b.addNode(exit, KindLoopExit, "end loop", nil)
			b.addEdge(entry, exit, LabelLoopSkip)
			b.connect(bodyOut, exit)
			in = []pending{{from: exit, label: LabelFallthrough}}

		default:
			in = []pending{{from: id, label: LabelFallthrough}}
		}
	}
	return in, nil
}

func (b *builder) addNode(id string, kind NodeKind, label string, blk schema.Block) {
	n := &Node{ID: id, Kind: kind, Label: label, Block: blk}
	b.g.Nodes = append(b.g.Nodes, n)
	b.g.index[id] = n
}

func (b *builder) connect(in []pending, to string) {
	for _, p := range in {
		b.addEdge(p.from, to, p.label)
	}
}

func (b *builder) addEdge(from, to string, label EdgeLabel) {
	e := Edge{From: from, To: to, Label: label}
	b.g.Edges = append(b.g.Edges, e)
	b.g.out[from] = append(b.g.out[from], e)
}

func blockKind(b schema.Block) NodeKind {
	switch b.(type) {
	case *schema.ValidateBlock:
		return KindValidate
	case *schema.UpdateBlock:
		return KindUpdate
	case *schema.NotifyBlock:
		return KindNotify
	case *schema.ReturnBlock:
		return KindReturn
	case *schema.ErrorBlock:
		return KindError
	case *schema.BranchBlock:
		return KindBranch
	case *schema.LoopBlock:
		return KindLoop
	default:
		return NodeKind(b.Type())
	}
}

// Describe renders a one-line summary of a block for labels and reports.
func Describe(b schema.Block) string {
	switch v := b.(type) {
	case *schema.ValidateBlock:
		return "validate " + v.Condition
	case *schema.UpdateBlock:
		if v.Value == "" {
			return fmt.Sprintf("%s %s", v.Operation, v.Target)
		}
		return fmt.Sprintf("%s %s %s", v.Operation, v.Target, v.Value)
	case *schema.NotifyBlock:
		return "notify " + v.To
	case *schema.ReturnBlock:
		return "return"
	case *schema.ErrorBlock:
		return "error " + v.Message
	case *schema.BranchBlock:
		return "if " + v.Condition
	case *schema.LoopBlock:
		return fmt.Sprintf("for %s in %s", v.As, v.Collection)
	default:
		return string(b.Type())
	}
}
