package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/applogic/internal/logging"
	"github.com/rendis/applogic/pkg/schema"
)

func TestObserveExecution(t *testing.T) {
	m := New(false)
	ctx := logging.WithApp(context.Background(), "payments")

	m.ObserveExecution(ctx, "transfer", &schema.ExecutionResult{
		Success:          true,
		StateDiff:        []schema.DiffEntry{{Path: "agent.balance"}, {Path: "agents.bob.balance"}},
		Notifications:    []schema.Notification{{To: "bob"}},
		StepsExecuted:    6,
		TerminatedReason: schema.TerminatedReturned,
	}, 2*time.Millisecond)
	m.ObserveExecution(ctx, "transfer", &schema.ExecutionResult{
		Error:            &schema.ErrorInfo{Kind: schema.ErrKindValidationFailed, Message: "insufficient funds"},
		StepsExecuted:    2,
		TerminatedReason: schema.TerminatedErrored,
	}, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("payments", "transfer", "returned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("payments", "transfer", "errored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("payments", "transfer", schema.ErrKindValidationFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("payments", "transfer")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.diffEntries.WithLabelValues("payments", "transfer")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.executions))
}

func TestHandler(t *testing.T) {
	m := New(true)
	m.ObserveExecution(context.Background(), "ping", &schema.ExecutionResult{
		Success:          true,
		TerminatedReason: schema.TerminatedReturned,
	}, time.Microsecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `applogic_executions_total{action="ping",app="",reason="returned"} 1`)
	assert.Contains(t, body, "applogic_execution_duration_seconds_bucket")
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
