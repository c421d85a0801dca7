package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/applogic/internal/app"
	"github.com/rendis/applogic/internal/engine"
	"github.com/rendis/applogic/internal/metrics"
	"github.com/rendis/applogic/internal/panel"
	"github.com/rendis/applogic/internal/simulator"
	"github.com/rendis/applogic/internal/store"
	"github.com/rendis/applogic/internal/streaming"
	appmcp "github.com/rendis/applogic/pkg/mcp"
)

// --- Test infrastructure ---

// testEnv wires one simulator behind both the panel and the MCP server.
type testEnv struct {
	store   *store.LibSQLStore
	hub     *streaming.MemoryHub
	sim     *simulator.Simulator
	server  *appmcp.Server
	panel   *httptest.Server
	metrics *metrics.Metrics
}

func examplesDir() string {
	return filepath.Join("..", "..", "examples")
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "e2e.db")
	s, err := store.NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	b, err := app.LoadBundle(filepath.Join(examplesDir(), "payments", "payments.yaml"))
	require.NoError(t, err)
	exec, err := engine.NewExecutor(engine.ExecutorConfig{})
	require.NoError(t, err)
	a, err := app.New(b, exec)
	require.NoError(t, err)
	reg := app.NewRegistry()
	reg.Register(a)

	hub := streaming.NewMemoryHub()
	m := metrics.New(false)
	sim := simulator.New(simulator.Deps{
		Registry: reg,
		Store:    s,
		Hub:      hub,
		Observer: m,
	})

	srv, err := appmcp.NewServer(appmcp.ServerDeps{Simulator: sim, Version: "e2e"})
	require.NoError(t, err)

	web := httptest.NewServer(panel.NewPanelServer(panel.PanelDeps{Simulator: sim, Metrics: m}).Handler())
	t.Cleanup(web.Close)

	return &testEnv{store: s, hub: hub, sim: sim, server: srv, panel: web, metrics: m}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

// rpc sends one JSON-RPC message after initializing a session.
func (e *testEnv) rpc(t *testing.T, method string, params map[string]any) []byte {
	t.Helper()
	ctx := context.Background()
	mcpSrv := e.server.MCPServer()

	initResp := mcpSrv.HandleMessage(ctx, mustJSON(t, map[string]any{
		"jsonrpc": "2.0", "id": 0, "method": "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "e2e-test", "version": "1.0.0"},
		},
	}))
	require.NotNil(t, initResp)

	resp := mcpSrv.HandleMessage(ctx, mustJSON(t, map[string]any{
		"jsonrpc": "2.0", "id": 1, "method": method, "params": params,
	}))
	require.NotNil(t, resp)
	return mustJSON(t, resp)
}

// callTool invokes a tool through a full JSON-RPC round-trip.
func (e *testEnv) callTool(t *testing.T, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	raw := e.rpc(t, "tools/call", map[string]any{"name": name, "arguments": args})

	var rpcResp struct {
		Result *mcp.CallToolResult `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &rpcResp))
	if rpcResp.Error != nil {
		t.Fatalf("JSON-RPC error: code=%d, msg=%s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	require.NotNil(t, rpcResp.Result)
	return rpcResp.Result
}

func extractJSON(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text := mcp.GetTextFromContent(result.Content[0])
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

func (e *testEnv) get(t *testing.T, path string, target any) int {
	t.Helper()
	resp, err := http.Get(e.panel.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if target != nil {
		require.NoError(t, json.Unmarshal(body, target), string(body))
	}
	return resp.StatusCode
}

func (e *testEnv) post(t *testing.T, path, body string, target any) int {
	t.Helper()
	resp, err := http.Post(e.panel.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if target != nil {
		require.NoError(t, json.Unmarshal(data, target), string(data))
	}
	return resp.StatusCode
}

// --- Tests ---

// TestSharedWorldAcrossSurfaces calls through MCP and reads back through the
// panel: both see one world and one execution history.
func TestSharedWorldAcrossSurfaces(t *testing.T) {
	env := newTestEnv(t)

	res := env.callTool(t, "payments.transfer", map[string]any{
		"agent_id": "alice", "to": "bob", "amount": 100,
	})
	require.False(t, res.IsError)
	var value struct {
		Success bool           `json:"success"`
		Value   map[string]any `json:"value"`
	}
	extractJSON(t, res, &value)
	assert.True(t, value.Success)
	assert.Equal(t, 900.0, value.Value["new_balance"])

	var state struct {
		Version int64                     `json:"version"`
		Agents  map[string]map[string]any `json:"agents"`
	}
	require.Equal(t, http.StatusOK, env.get(t, "/apps/payments/state", &state))
	assert.Equal(t, int64(1), state.Version)
	assert.Equal(t, 350.0, state.Agents["bob"]["balance"])

	var rec store.Execution
	require.Equal(t, http.StatusOK, env.post(t, "/apps/payments/actions/transfer/execute",
		`{"agent_id":"bob","params":{"to":"alice","amount":50}}`, &rec))
	require.True(t, rec.Result.Success)

	res = env.callTool(t, "payments.balance", map[string]any{"agent_id": "bob"})
	extractJSON(t, res, &value)
	assert.Equal(t, 300.0, value.Value["balance"])

	var execs []store.Execution
	require.Equal(t, http.StatusOK, env.get(t, "/apps/payments/executions", &execs))
	assert.Len(t, execs, 3)
}

func TestFailedCallLeavesWorldUntouched(t *testing.T) {
	env := newTestEnv(t)

	res := env.callTool(t, "payments.transfer", map[string]any{
		"agent_id": "bob", "to": "alice", "amount": 5000,
	})
	assert.True(t, res.IsError)
	var out struct {
		Success bool `json:"success"`
		Error   struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	extractJSON(t, res, &out)
	assert.False(t, out.Success)
	assert.Equal(t, "ValidationFailed", out.Error.Kind)
	assert.Equal(t, "insufficient funds", out.Error.Message)

	var state struct {
		Version int64                     `json:"version"`
		Agents  map[string]map[string]any `json:"agents"`
	}
	env.get(t, "/apps/payments/state", &state)
	assert.Equal(t, int64(0), state.Version)
	assert.Equal(t, 250.0, state.Agents["bob"]["balance"])

	var failed []store.Execution
	env.get(t, "/apps/payments/executions?success=false", &failed)
	require.Len(t, failed, 1)
	assert.Equal(t, "bob", failed[0].AgentID)
}

func TestCoverageGrowsWithCalls(t *testing.T) {
	env := newTestEnv(t)

	var cov struct {
		ActionCoverage float64 `json:"action_coverage"`
		PathCoverage   float64 `json:"path_coverage"`
	}
	env.get(t, "/apps/payments/coverage", &cov)
	assert.Equal(t, 0.0, cov.ActionCoverage)

	env.callTool(t, "payments.balance", map[string]any{"agent_id": "alice"})
	env.callTool(t, "payments.transfer", map[string]any{"agent_id": "alice", "to": "bob", "amount": 1})
	env.callTool(t, "payments.pay_fees", map[string]any{"agent_id": "alice", "amounts": []any{}})

	env.get(t, "/apps/payments/coverage", &cov)
	assert.Equal(t, 1.0, cov.ActionCoverage)
	assert.Less(t, cov.PathCoverage, 1.0)

	res := env.callTool(t, "applogic.coverage", map[string]any{"app": "payments"})
	require.False(t, res.IsError)
	var viaMCP struct {
		ActionCoverage float64 `json:"action_coverage"`
	}
	extractJSON(t, res, &viaMCP)
	assert.Equal(t, 1.0, viaMCP.ActionCoverage)

	require.Equal(t, http.StatusOK, env.post(t, "/apps/payments/reset", "", nil))
	env.get(t, "/apps/payments/coverage", &cov)
	assert.Equal(t, 0.0, cov.ActionCoverage)
}

func TestToolsListViaJSONRPC(t *testing.T) {
	env := newTestEnv(t)

	var rpcResp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(env.rpc(t, "tools/list", map[string]any{}), &rpcResp))

	names := make([]string, len(rpcResp.Result.Tools))
	for i, tool := range rpcResp.Result.Tools {
		names[i] = tool.Name
	}
	assert.ElementsMatch(t, []string{
		"applogic.paths", "applogic.diagram", "applogic.state", "applogic.coverage",
		"payments.transfer", "payments.balance", "payments.pay_fees",
	}, names)
}

func TestMetricsCountCalls(t *testing.T) {
	env := newTestEnv(t)
	env.callTool(t, "payments.balance", map[string]any{"agent_id": "alice"})
	env.callTool(t, "payments.transfer", map[string]any{"agent_id": "alice", "to": "alice", "amount": 1})

	resp, err := http.Get(env.panel.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `action="balance"`)
	assert.Contains(t, string(body), `action="transfer"`)
}
