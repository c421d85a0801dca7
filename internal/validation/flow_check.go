package validation

import (
	"sort"

	"github.com/rendis/applogic/internal/flowgraph"
	"github.com/rendis/applogic/pkg/schema"
)

// validateFlow builds the flow graph: every path must end in a return or
// error directive. Blocks after a terminal directive are reported as warnings.
func validateFlow(def *schema.ActionDefinition) (*flowgraph.Graph, *schema.ValidationResult) {
	result := &schema.ValidationResult{}

	g, err := flowgraph.Build(def)
	if err != nil {
		result.AddError("logic", schema.IssueNoTerminal, messageOf(err))
		return nil, result
	}
	for _, id := range g.Unreachable {
		result.AddWarning("logic."+id, schema.IssueUnreachable, "block follows a return or error and never runs")
	}
	return g, result
}

func sortedStringKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
