package diagram

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/applogic/internal/engine"
	"github.com/rendis/applogic/internal/flowgraph"
	"github.com/rendis/applogic/pkg/schema"
)

const tierLogic = `[
	{"type":"validate","condition":"amount > 0","error_message":"bad amount"},
	{"type":"loop","collection":"items","as":"x","body":[
		{"type":"update","target":"shared.total","operation":"add","value":"x"}
	]},
	{"type":"branch","condition":"amount > 50",
		"then":[{"type":"return","value":{"tier":"'gold'"}}],
		"else":[{"type":"error","message":"too small"}]}
]`

func definition(t *testing.T, logic string) *schema.ActionDefinition {
	t.Helper()
	var def schema.ActionDefinition
	require.NoError(t, json.Unmarshal([]byte(`{"name":"tier","logic":`+logic+`}`), &def))
	return &def
}

func graph(t *testing.T) *flowgraph.Graph {
	t.Helper()
	g, err := flowgraph.Build(definition(t, tierLogic))
	require.NoError(t, err)
	return g
}

func trace(t *testing.T, amount int) *schema.Trace {
	t.Helper()
	e, err := engine.NewExecutor(engine.ExecutorConfig{RecordTrace: true})
	require.NoError(t, err)
	a, err := e.Compile(definition(t, tierLogic))
	require.NoError(t, err)
	res := e.Execute(context.Background(), a, &schema.ExecutionContext{
		Params: map[string]any{"amount": amount, "items": []any{1}},
		Shared: map[string]any{"total": 0},
	})
	require.NotNil(t, res.Trace)
	return res.Trace
}

func TestBuild_NodesKindsAndGroups(t *testing.T) {
	model := Build(graph(t), nil)

	assert.Equal(t, "tier", model.Title)
	kinds := map[string]NodeKind{}
	groups := map[string]string{}
	for _, n := range model.Nodes {
		kinds[n.ID] = n.Kind
		groups[n.ID] = n.Group
		assert.Empty(t, n.Status)
	}
	assert.Equal(t, NodeKindStart, kinds["entry"])
	assert.Equal(t, NodeKindCheck, kinds["0"])
	assert.Equal(t, NodeKindLoop, kinds["1"])
	assert.Equal(t, NodeKindJoin, kinds["1.exit"])
	assert.Equal(t, NodeKindStep, kinds["1.body.0"])
	assert.Equal(t, NodeKindCondition, kinds["2"])
	assert.Equal(t, NodeKindReturn, kinds["2.then.0"])
	assert.Equal(t, NodeKindError, kinds["2.else.0"])

	assert.Equal(t, "1.body", groups["1.body.0"])
	assert.Equal(t, "", groups["1.entry"])
	require.Len(t, model.Groups, 3)
	assert.Equal(t, &SubGraph{ID: "1.body", Label: "1: body", Nodes: []string{"1.body.0"}}, model.Groups[0])

	var labels []string
	for _, e := range model.Edges {
		if e.Label != "" {
			labels = append(labels, e.Label)
		}
	}
	assert.ElementsMatch(t, []string{"loop-once", "loop-skip", "then", "else"}, labels)
}

func TestBuild_Levels(t *testing.T) {
	model := Build(graph(t), nil)

	require.NotEmpty(t, model.Levels)
	assert.Equal(t, []string{"entry"}, model.Levels[0])
	assert.Equal(t, []string{"0"}, model.Levels[1])
	assert.Equal(t, []string{"1"}, model.Levels[2])
	assert.Equal(t, []string{"1.entry"}, model.Levels[3])
	assert.Equal(t, []string{"1.body.0"}, model.Levels[4])
	// The skip edge is shorter, so the exit sits after the body.
	assert.Equal(t, []string{"1.exit"}, model.Levels[5])
	assert.ElementsMatch(t, []string{"2.then.0", "2.else.0"}, model.Levels[7])

	placed := 0
	for _, level := range model.Levels {
		placed += len(level)
	}
	assert.Equal(t, len(model.Nodes), placed)
}

func TestBuild_TraceOverlay(t *testing.T) {
	model := Build(graph(t), trace(t, 100))

	status := map[string]string{}
	for _, n := range model.Nodes {
		status[n.ID] = n.Status
	}
	assert.Equal(t, StatusVisited, status["entry"])
	assert.Equal(t, StatusVisited, status["1.body.0"])
	assert.Equal(t, StatusVisited, status["2.then.0"])
	assert.Equal(t, StatusSkipped, status["2.else.0"])

	for _, e := range model.Edges {
		switch {
		case e.From == "2" && e.To == "2.then.0":
			assert.True(t, e.Taken)
		case e.From == "1.entry" && e.To == "1.exit":
			assert.False(t, e.Taken)
		}
	}
}

func TestRenderMermaid(t *testing.T) {
	output := RenderMermaid(Build(graph(t), trace(t, 10)))

	assert.Contains(t, output, "graph TD")
	assert.Contains(t, output, "%% tier")
	assert.Contains(t, output, `n_entry(("start"))`)
	assert.Contains(t, output, `n_0[/"validate amount #gt; 0"/]`)
	assert.Contains(t, output, `n_2{"if amount #gt; 50"}`)
	assert.Contains(t, output, `n_2_then_0(["return"])`)
	assert.Contains(t, output, `n_2_else_0{{"error too small"}}`)
	assert.Contains(t, output, `subgraph n_g_1_body["1: body"]`)
	assert.Contains(t, output, "n_2 -->|else| n_2_else_0")
	assert.Contains(t, output, "n_entry --> n_0")
	assert.Contains(t, output, "class n_2_else_0 failure")
	assert.Contains(t, output, "class n_2_then_0 skipped")
	assert.Contains(t, output, "linkStyle")
}

func TestRenderASCII(t *testing.T) {
	output := RenderASCII(Build(graph(t), trace(t, 100)))

	assert.Contains(t, output, "=== tier ===")
	assert.Contains(t, output, "● entry")
	assert.Contains(t, output, "[OK]")
	assert.Contains(t, output, "[SKIP]")
	assert.Contains(t, output, "--- branches ---")
	assert.Contains(t, output, "2 ─then→ 2.then.0 *")
	assert.Contains(t, output, "[1: body]")
}

func TestRenderMermaidForCLI(t *testing.T) {
	output := RenderMermaidForCLI(Build(graph(t), trace(t, 100)))

	assert.Contains(t, output, "graph TD")
	assert.NotContains(t, output, "subgraph")
	assert.Contains(t, output, "start-OK --> 0-validate-amount->-0-OK")
	assert.Contains(t, output, "-->|else| 2.else.0-error-too-small-SKIP")
}

func TestRenderASCIIAuto_FallsBack(t *testing.T) {
	model := Build(graph(t), nil)
	assert.Equal(t, RenderASCII(model), RenderASCIIAuto(context.Background(), model, t.TempDir()))
}

func TestRender_Formats(t *testing.T) {
	g := graph(t)
	ctx := context.Background()

	out, err := Render(ctx, g, nil, FormatMermaid)
	require.NoError(t, err)
	assert.Contains(t, string(out), "graph TD")

	out, err = Render(ctx, g, nil, FormatASCII)
	require.NoError(t, err)
	assert.Contains(t, string(out), "=== tier ===")

	_, err = Render(ctx, g, nil, "gif")
	assert.True(t, schema.IsKind(err, schema.ErrKindMalformedAst))

	assert.Equal(t, "image/png", FormatPNG.ContentType())
	assert.Len(t, Formats(), 4)
}

func TestRenderImage_PNG(t *testing.T) {
	png, err := RenderImage(context.Background(), Build(graph(t), trace(t, 100)), ImagePNG)
	require.NoError(t, err)
	require.True(t, len(png) > 8, "PNG should be larger than header")
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}
