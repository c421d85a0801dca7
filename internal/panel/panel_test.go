package panel

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/applogic/internal/app"
	"github.com/rendis/applogic/internal/engine"
	"github.com/rendis/applogic/internal/metrics"
	"github.com/rendis/applogic/internal/simulator"
	"github.com/rendis/applogic/internal/store"
	"github.com/rendis/applogic/internal/streaming"
	"github.com/rendis/applogic/pkg/schema"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	b, err := app.LoadBundle("../app/testdata/payments.yaml")
	require.NoError(t, err)
	exec, err := engine.NewExecutor(engine.ExecutorConfig{})
	require.NoError(t, err)
	a, err := app.New(b, exec)
	require.NoError(t, err)
	reg := app.NewRegistry()
	reg.Register(a)

	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "panel.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	m := metrics.New(false)
	sim := simulator.New(simulator.Deps{
		Registry: reg,
		Store:    st,
		Hub:      streaming.NewMemoryHub(),
		Observer: m,
	})
	srv := httptest.NewServer(NewPanelServer(PanelDeps{Simulator: sim, Metrics: m}).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf strings.Builder
	_, err = bufio.NewReader(resp.Body).WriteTo(&buf)
	require.NoError(t, err)
	return resp, []byte(buf.String())
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

func TestRoutes_Status(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"health", http.MethodGet, "/healthz", "", http.StatusOK},
		{"apps", http.MethodGet, "/apps", "", http.StatusOK},
		{"app", http.MethodGet, "/apps/payments", "", http.StatusOK},
		{"unknown app", http.MethodGet, "/apps/chess/actions", "", http.StatusNotFound},
		{"action", http.MethodGet, "/apps/payments/actions/transfer", "", http.StatusOK},
		{"unknown action", http.MethodGet, "/apps/payments/actions/refund/paths", "", http.StatusNotFound},
		{"bad body", http.MethodPost, "/apps/payments/actions/transfer/execute", "{", http.StatusBadRequest},
		{"missing agent", http.MethodPost, "/apps/payments/actions/balance/execute", "{}", http.StatusBadRequest},
		{"unknown agent", http.MethodPost, "/apps/payments/actions/balance/execute", `{"agent_id":"carol"}`, http.StatusNotFound},
		{"bad diagram format", http.MethodGet, "/apps/payments/actions/transfer/diagram?format=gif", "", http.StatusBadRequest},
		{"unknown execution", http.MethodGet, "/executions/nope", "", http.StatusNotFound},
		{"bad since", http.MethodGet, "/apps/payments/executions?since=yesterday", "", http.StatusBadRequest},
		{"preflight", http.MethodOptions, "/apps", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := do(t, tc.method, srv.URL+tc.path, tc.body)
			assert.Equal(t, tc.status, resp.StatusCode, string(body))
		})
	}
}

func TestListActions(t *testing.T) {
	srv := newTestServer(t)

	_, body := do(t, http.MethodGet, srv.URL+"/apps/payments/actions", "")
	actions := decode[[]actionSummary](t, body)
	require.Len(t, actions, 3)
	assert.Equal(t, "transfer", actions[0].Name)
	assert.Equal(t, schema.ToolTypeWrite, actions[0].ToolType)
	assert.True(t, actions[0].Params["to"].Required)
	assert.Equal(t, "balance", actions[1].Name)
}

func TestExecute_UpdatesWorldAndLog(t *testing.T) {
	srv := newTestServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/apps/payments/actions/transfer/execute",
		`{"agent_id":"alice","params":{"to":"bob","amount":100}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	rec := decode[store.Execution](t, body)
	require.True(t, rec.Result.Success)
	assert.Equal(t, 900.0, rec.Result.Value["new_balance"])
	require.Len(t, rec.Result.Notifications, 1)

	// A failing call is reported in the result, not as a transport error.
	resp, body = do(t, http.MethodPost, srv.URL+"/apps/payments/actions/transfer/execute",
		`{"agent_id":"alice","params":{"to":"bob","amount":5000}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	failed := decode[store.Execution](t, body)
	assert.False(t, failed.Result.Success)
	assert.Equal(t, schema.ErrKindValidationFailed, failed.Result.Error.Kind)

	_, body = do(t, http.MethodGet, srv.URL+"/apps/payments/state", "")
	state := decode[map[string]any](t, body)
	assert.Equal(t, 1.0, state["version"])
	assert.Equal(t, 350.0, state["agents"].(map[string]any)["bob"].(map[string]any)["balance"])

	_, body = do(t, http.MethodGet, srv.URL+"/apps/payments/executions?success=true", "")
	execs := decode[[]store.Execution](t, body)
	require.Len(t, execs, 1)
	assert.Equal(t, rec.ID, execs[0].ID)

	_, body = do(t, http.MethodGet, srv.URL+"/executions/"+failed.ID, "")
	got := decode[store.Execution](t, body)
	assert.Equal(t, "transfer", got.Action)
	assert.False(t, got.Result.Success)

	resp, body = do(t, http.MethodGet, srv.URL+"/apps/payments/actions/transfer/diagram?format=ascii&execution="+rec.ID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), "[OK]")

	resp, _ = do(t, http.MethodGet, srv.URL+"/apps/payments/actions/balance/diagram?execution="+rec.ID, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, body = do(t, http.MethodGet, srv.URL+"/metrics", "")
	assert.Contains(t, string(body), `applogic_executions_total{action="transfer",app="payments",reason="returned"} 1`)

	resp, _ = do(t, http.MethodPost, srv.URL+"/apps/payments/reset", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, body = do(t, http.MethodGet, srv.URL+"/apps/payments/state", "")
	state = decode[map[string]any](t, body)
	assert.Equal(t, 0.0, state["version"])
}

func TestExecute_ContextMode(t *testing.T) {
	srv := newTestServer(t)

	_, body := do(t, http.MethodPost, srv.URL+"/apps/payments/actions/balance/execute",
		`{"context":{"agent_id":"zed","agent":{"balance":5}}}`)
	rec := decode[store.Execution](t, body)
	require.True(t, rec.Result.Success)
	assert.Equal(t, "$5.00", rec.Result.Value["display"])
}

func TestPathsAndCoverage(t *testing.T) {
	srv := newTestServer(t)

	_, body := do(t, http.MethodGet, srv.URL+"/apps/payments/actions/pay_fees/paths", "")
	paths := decode[pathsResponse](t, body)
	assert.Equal(t, "pay_fees", paths.Action)
	assert.Equal(t, len(paths.Paths), paths.Count)
	assert.False(t, paths.Truncated)
	for _, p := range paths.Paths {
		assert.Equal(t, "entry", p[0])
	}

	_, body = do(t, http.MethodGet, srv.URL+"/apps/payments/actions/pay_fees/paths?limit=1", "")
	paths = decode[pathsResponse](t, body)
	assert.True(t, paths.Truncated)
	assert.Equal(t, 1, paths.Count)

	do(t, http.MethodPost, srv.URL+"/apps/payments/actions/balance/execute", `{"agent_id":"bob"}`)
	_, body = do(t, http.MethodGet, srv.URL+"/apps/payments/coverage", "")
	report := decode[schema.CoverageReport](t, body)
	assert.InDelta(t, 1.0/3.0, report.ActionCoverage, 1e-9)
	assert.ElementsMatch(t, []string{"transfer", "pay_fees"}, report.UncoveredActions)

	resp, body := do(t, http.MethodGet, srv.URL+"/apps/payments/actions/pay_fees/diagram", "")
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(string(body), "graph TD"), string(body))
}

func TestEvents_StreamNotifications(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/apps/payments/events?recipient=bob", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	do(t, http.MethodPost, srv.URL+"/apps/payments/actions/transfer/execute",
		`{"agent_id":"alice","params":{"to":"bob","amount":1}}`)

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
			break
		}
	}
	require.Equal(t, streaming.EventNotification, event)
	got := decode[map[string]any](t, []byte(data))
	assert.Equal(t, "alice", got["agent_id"])
	assert.Equal(t, "bob", got["payload"].(map[string]any)["to"])
}
