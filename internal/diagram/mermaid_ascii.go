package diagram

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const mermaidASCIIBinary = "mermaid-ascii"

// RenderASCIIAuto prefers the mermaid-ascii binary installed in binDir and
// falls back to RenderASCII when it is missing or fails.
func RenderASCIIAuto(ctx context.Context, model *DiagramModel, binDir string) string {
	if bin, ok := findMermaidASCII(binDir); ok {
		if out, err := RenderASCIIViaCLI(ctx, model, bin); err == nil {
			return out
		}
	}
	return RenderASCII(model)
}

func findMermaidASCII(binDir string) (string, bool) {
	if binDir == "" {
		return "", false
	}
	bin := filepath.Join(binDir, mermaidASCIIBinary)
	info, err := os.Stat(bin)
	if err != nil || info.IsDir() {
		return "", false
	}
	return bin, true
}

// RenderASCIIViaCLI feeds RenderMermaidForCLI output to the binary at bin.
func RenderASCIIViaCLI(ctx context.Context, model *DiagramModel, bin string) (string, error) {
	var out, errOut bytes.Buffer
	cmd := exec.CommandContext(ctx, bin)
	cmd.Stdin = strings.NewReader(RenderMermaidForCLI(model))
	cmd.Stdout, cmd.Stderr = &out, &errOut
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", mermaidASCIIBinary, err, strings.TrimSpace(errOut.String()))
	}
	return out.String(), nil
}

// RenderMermaidForCLI writes the subset of Mermaid that mermaid-ascii reads:
// bare edges between self-describing node ids. mermaid-ascii has no node
// declarations or styling, so each id carries its label and overlay tag,
// e.g. "2.then.0-error-too-small-SKIP".
func RenderMermaidForCLI(model *DiagramModel) string {
	names := make(map[string]string, len(model.Nodes))
	for _, n := range model.Nodes {
		names[n.ID] = cliName(n)
	}
	name := func(id string) string {
		if s, ok := names[id]; ok {
			return s
		}
		return mermaidSafeID(id)
	}

	var b strings.Builder
	b.WriteString("graph TD\n")
	for _, e := range model.Edges {
		arrow := "-->"
		if e.Label != "" {
			arrow += "|" + e.Label + "|"
		}
		fmt.Fprintf(&b, "    %s %s %s\n", name(e.From), arrow, name(e.To))
	}
	return b.String()
}

var cliNameReplacer = strings.NewReplacer(" ", "-", "[", "(", "]", ")", "|", "/", "\"", "'", ";", ",")

func cliName(n *Node) string {
	parts := []string{n.ID, firstLine(n.Label)}
	if n.Kind == NodeKindStart {
		parts = []string{"start"}
	}
	if tag := strings.Trim(statusTag(n), "[]"); tag != "" {
		parts = append(parts, tag)
	}
	return cliNameReplacer.Replace(strings.Join(parts, "-"))
}
