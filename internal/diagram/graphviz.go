package diagram

import (
	"bytes"
	"context"
	"fmt"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// ImageFormat is an output format RenderImage supports.
type ImageFormat string

const (
	ImagePNG ImageFormat = "png"
	ImageSVG ImageFormat = "svg"
)

const (
	colorTaken   = "#2d6a2d"
	colorFailed  = "#8b1a1a"
	colorSkipped = "#888888"
)

var kindShape = map[NodeKind]cgraph.Shape{
	NodeKindStart:     cgraph.CircleShape,
	NodeKindStep:      cgraph.BoxShape,
	NodeKindCheck:     cgraph.ParallelogramShape,
	NodeKindCondition: cgraph.DiamondShape,
	NodeKindLoop:      cgraph.HexagonShape,
	NodeKindJoin:      cgraph.CircleShape,
	NodeKindReturn:    cgraph.DoubleCircleShape,
	NodeKindError:     cgraph.OctagonShape,
}

// RenderImage lays the model out with dot. Branch arms and loop bodies become
// dashed clusters.
func RenderImage(ctx context.Context, model *DiagramModel, format ImageFormat) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("diagram: graphviz: %w", err)
	}
	defer gv.Close()
	gv.SetLayout(graphviz.DOT)

	root, err := gv.Graph()
	if err != nil {
		return nil, fmt.Errorf("diagram: graph: %w", err)
	}
	defer root.Close()
	root.SetRankDir(cgraph.TBRank)
	if model.Title != "" {
		root.SetLabel(model.Title)
	}

	d := dotBuilder{root: root, clusters: map[string]*cgraph.Graph{}, nodes: map[string]*cgraph.Node{}}
	if err := d.build(model); err != nil {
		return nil, fmt.Errorf("diagram: %w", err)
	}

	out := graphviz.PNG
	if format == ImageSVG {
		out = graphviz.SVG
	}
	var buf bytes.Buffer
	if err := gv.Render(ctx, root, out, &buf); err != nil {
		return nil, fmt.Errorf("diagram: render %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

type dotBuilder struct {
	root     *cgraph.Graph
	clusters map[string]*cgraph.Graph
	nodes    map[string]*cgraph.Node
}

func (d *dotBuilder) build(model *DiagramModel) error {
	for _, g := range model.Groups {
		c, err := d.root.CreateSubGraphByName("cluster_" + g.ID)
		if err != nil {
			return fmt.Errorf("cluster %s: %w", g.ID, err)
		}
		c.SetLabel(g.Label)
		c.SetStyle(cgraph.DashedGraphStyle)
		d.clusters[g.ID] = c
	}
	for _, n := range model.Nodes {
		if err := d.addNode(n); err != nil {
			return err
		}
	}
	for _, e := range model.Edges {
		if err := d.addEdge(e); err != nil {
			return err
		}
	}
	return nil
}

// addNode creates n inside its cluster, if any, so dot boxes it.
func (d *dotBuilder) addNode(n *Node) error {
	parent := d.root
	if c, ok := d.clusters[n.Group]; ok {
		parent = c
	}
	gn, err := parent.CreateNodeByName(n.ID)
	if err != nil {
		return fmt.Errorf("node %s: %w", n.ID, err)
	}
	gn.SetLabel(firstLine(n.Label))
	if shape, ok := kindShape[n.Kind]; ok {
		gn.SetShape(shape)
	}
	if n.Kind == NodeKindStart || n.Kind == NodeKindJoin {
		gn.SetWidth(0.5)
		gn.SetHeight(0.5)
	}

	switch n.Status {
	case StatusVisited:
		fill := colorTaken
		if n.Kind == NodeKindError {
			fill = colorFailed
		}
		gn.SetStyle(cgraph.FilledNodeStyle)
		gn.SetFillColor(fill)
		gn.SetFontColor("white")
	case StatusSkipped:
		gn.SetStyle(cgraph.DashedNodeStyle)
		gn.SetFontColor(colorSkipped)
	}
	d.nodes[n.ID] = gn
	return nil
}

func (d *dotBuilder) addEdge(e Edge) error {
	from, to := d.nodes[e.From], d.nodes[e.To]
	if from == nil || to == nil {
		return nil
	}
	ge, err := d.root.CreateEdgeByName("", from, to)
	if err != nil {
		return fmt.Errorf("edge %s->%s: %w", e.From, e.To, err)
	}
	if e.Label != "" {
		ge.SetLabel(e.Label)
	}
	if e.Taken {
		ge.SetColor(colorTaken)
		ge.SetPenWidth(2.5)
	}
	return nil
}
