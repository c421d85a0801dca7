package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		if node.Group == "" {
			b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
		}
	}
	for _, sg := range model.Groups {
		b.WriteString(fmt.Sprintf("    subgraph %s[\"%s\"]\n", mermaidSafeID("g_"+sg.ID), mermaidEscapeLabel(sg.Label)))
		for _, id := range sg.Nodes {
			if node := model.node(id); node != nil {
				b.WriteString(fmt.Sprintf("        %s\n", mermaidNodeDef(node)))
			}
		}
		b.WriteString("    end\n")
	}

	var takenEdges []int
	for i, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", edge.Label)
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n",
			mermaidSafeID(edge.From), label, mermaidSafeID(edge.To)))
		if edge.Taken {
			takenEdges = append(takenEdges, i)
		}
	}

	b.WriteString("\n")
	b.WriteString("    classDef visited fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")
	b.WriteString("    classDef failure fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")

	for _, node := range model.Nodes {
		if cls := mermaidStatusClass(node); cls != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), cls))
		}
	}
	if len(takenEdges) > 0 {
		ids := make([]string, len(takenEdges))
		for i, n := range takenEdges {
			ids[i] = fmt.Sprint(n)
		}
		b.WriteString(fmt.Sprintf("    linkStyle %s stroke:#2d6a2d,stroke-width:3px\n", strings.Join(ids, ",")))
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(firstLine(node.Label))

	switch node.Kind {
	case NodeKindCondition:
		return fmt.Sprintf("%s{\"%s\"}", id, label)
	case NodeKindCheck:
		return fmt.Sprintf("%s[/\"%s\"/]", id, label)
	case NodeKindLoop:
		return fmt.Sprintf("%s[[\"%s\"]]", id, label)
	case NodeKindJoin:
		return fmt.Sprintf("%s((\"%s\"))", id, label)
	case NodeKindStart:
		return fmt.Sprintf("%s((\"%s\"))", id, label)
	case NodeKindReturn:
		return fmt.Sprintf("%s([\"%s\"])", id, label)
	case NodeKindError:
		return fmt.Sprintf("%s{{\"%s\"}}", id, label)
	default:
		return fmt.Sprintf("%s[\"%s\"]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier. Flow-graph
// ids start with digits, so every id gets an "n_" prefix.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return "n_" + r.Replace(id)
}

// mermaidEscapeLabel escapes characters Mermaid treats as syntax inside a
// quoted label.
func mermaidEscapeLabel(s string) string {
	r := strings.NewReplacer(`"`, "#quot;", "<", "#lt;", ">", "#gt;")
	return r.Replace(s)
}

// mermaidStatusClass maps a node's overlay to a Mermaid class name.
func mermaidStatusClass(node *Node) string {
	switch node.Status {
	case StatusVisited:
		if node.Kind == NodeKindError {
			return "failure"
		}
		return "visited"
	case StatusSkipped:
		return "skipped"
	default:
		return ""
	}
}
