package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/applogic/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewLibSQLStore("file:" + filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

func returned(value map[string]any) schema.ExecutionResult {
	return schema.ExecutionResult{
		Success:          true,
		Value:            value,
		StateDiff:        []schema.DiffEntry{{Path: "agent.balance", Before: 1000.0, After: 900.0}},
		Notifications:    []schema.Notification{},
		StepsExecuted:    6,
		TerminatedReason: schema.TerminatedReturned,
	}
}

func TestSaveAndGetExecution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec := &Execution{
		App:      "payments",
		Action:   "transfer",
		AgentID:  "alice",
		Params:   map[string]any{"to": "bob", "amount": 100.0},
		Result:   returned(map[string]any{"new_balance": 900.0}),
		Duration: 1500 * time.Microsecond,
	}
	require.NoError(t, s.SaveExecution(ctx, exec))
	require.NotEmpty(t, exec.ID)
	assert.False(t, exec.CreatedAt.IsZero())

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "payments", got.App)
	assert.Equal(t, "transfer", got.Action)
	assert.Equal(t, "alice", got.AgentID)
	assert.Equal(t, map[string]any{"to": "bob", "amount": 100.0}, got.Params)
	assert.Equal(t, 1500*time.Microsecond, got.Duration)
	assert.True(t, got.Result.Success)
	assert.Equal(t, 900.0, got.Result.Value["new_balance"])
	assert.Equal(t, exec.Result.StateDiff, got.Result.StateDiff)

	_, err = s.GetExecution(ctx, "missing")
	assert.True(t, schema.IsKind(err, schema.ErrKindNotFound))
}

func TestSaveExecution_DuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exec := &Execution{ID: "x-1", App: "a", Action: "b", Result: returned(nil)}
	require.NoError(t, s.SaveExecution(ctx, exec))
	assert.Error(t, s.SaveExecution(ctx, exec))
}

func TestListExecutions_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	failed := schema.ExecutionResult{
		Error:            &schema.ErrorInfo{Kind: schema.ErrKindValidationFailed, Message: "insufficient funds", Block: "1"},
		StateDiff:        []schema.DiffEntry{},
		Notifications:    []schema.Notification{},
		StepsExecuted:    2,
		TerminatedReason: schema.TerminatedErrored,
	}
	seed := []*Execution{
		{App: "payments", Action: "transfer", AgentID: "alice", Result: returned(nil), CreatedAt: base},
		{App: "payments", Action: "transfer", AgentID: "bob", Result: failed, CreatedAt: base.Add(time.Minute)},
		{App: "payments", Action: "balance", AgentID: "alice", Result: returned(nil), CreatedAt: base.Add(2 * time.Minute)},
		{App: "shop", Action: "buy", AgentID: "alice", Result: returned(nil), CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, e := range seed {
		require.NoError(t, s.SaveExecution(ctx, e))
	}

	no := false
	since := base.Add(90 * time.Second)
	tests := []struct {
		name    string
		filter  ExecutionFilter
		actions []string
	}{
		{"all newest first", ExecutionFilter{}, []string{"buy", "balance", "transfer", "transfer"}},
		{"by app", ExecutionFilter{App: "payments"}, []string{"balance", "transfer", "transfer"}},
		{"by action", ExecutionFilter{App: "payments", Action: "transfer"}, []string{"transfer", "transfer"}},
		{"by agent", ExecutionFilter{AgentID: "bob"}, []string{"transfer"}},
		{"failures", ExecutionFilter{Success: &no}, []string{"transfer"}},
		{"since", ExecutionFilter{Since: &since}, []string{"buy", "balance"}},
		{"page", ExecutionFilter{Limit: 2, Offset: 1}, []string{"balance", "transfer"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListExecutions(ctx, tt.filter)
			require.NoError(t, err)
			actions := make([]string, len(got))
			for i, e := range got {
				actions[i] = e.Action
			}
			assert.Equal(t, tt.actions, actions)
		})
	}

	got, err := s.ListExecutions(ctx, ExecutionFilter{AgentID: "bob"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, schema.ErrKindValidationFailed, got[0].Result.Error.Kind)
}

func TestMigrate_IdempotentOnOpenStore(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}
