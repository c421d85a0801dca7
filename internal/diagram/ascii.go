package diagram

import (
	"fmt"
	"strings"
	"text/tabwriter"
)

var kindGlyph = map[NodeKind]string{
	NodeKindStart:     "●",
	NodeKindStep:      "▪",
	NodeKindCheck:     "?",
	NodeKindCondition: "◆",
	NodeKindLoop:      "↻",
	NodeKindJoin:      "○",
	NodeKindReturn:    "■",
	NodeKindError:     "✖",
}

// RenderASCII draws the model top to bottom, one line per node grouped by
// level, followed by the labeled edges and the contents of each group.
// Edges taken by the overlaid trace are starred.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder
	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	for i, level := range model.Levels {
		if i > 0 {
			fmt.Fprintln(tw, "  │\t\t\t")
		}
		for _, id := range level {
			if n := model.node(id); n != nil {
				fmt.Fprintf(tw, "  %s %s\t%s\t%s\t\n", glyph(n), n.ID, firstLine(n.Label), statusTag(n))
			}
		}
	}
	tw.Flush()

	printed := false
	for _, e := range model.Edges {
		if e.Label == "" {
			continue
		}
		if !printed {
			b.WriteString("\n--- branches ---\n")
			printed = true
		}
		star := ""
		if e.Taken {
			star = " *"
		}
		fmt.Fprintf(&b, "  %s ─%s→ %s%s\n", e.From, e.Label, e.To, star)
	}

	for _, g := range model.Groups {
		fmt.Fprintf(&b, "\n  [%s]\n", g.Label)
		for _, id := range g.Nodes {
			if n := model.node(id); n != nil {
				line := strings.TrimSpace(lastSegment(n.ID) + " " + firstLine(n.Label) + " " + statusTag(n))
				fmt.Fprintf(&b, "    %s\n", line)
			}
		}
	}
	return b.String()
}

func glyph(n *Node) string {
	if g, ok := kindGlyph[n.Kind]; ok {
		return g
	}
	return "·"
}

// statusTag marks the trace overlay: visited error nodes are failures.
func statusTag(n *Node) string {
	switch {
	case n.Status == StatusVisited && n.Kind == NodeKindError:
		return "[FAIL]"
	case n.Status == StatusVisited:
		return "[OK]"
	case n.Status == StatusSkipped:
		return "[SKIP]"
	}
	return ""
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// lastSegment turns "2.then.0" into "0".
func lastSegment(id string) string {
	return id[strings.LastIndex(id, ".")+1:]
}
