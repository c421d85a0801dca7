package world

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/applogic/internal/app"
	"github.com/rendis/applogic/internal/engine"
	"github.com/rendis/applogic/internal/expressions"
	"github.com/rendis/applogic/pkg/schema"
)

func seeded() *World {
	return New(
		map[string]map[string]any{
			"alice": {"balance": 1000, "tags": []any{"vip"}},
			"bob":   {"balance": 250},
		},
		map[string]any{"fees": 0, "stock": map[string]any{"apples": 3}},
		map[string]any{"fee_rate": 0.01},
	)
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	w := seeded()

	ectx, err := w.Snapshot("alice", map[string]any{"amount": 5})
	require.NoError(t, err)
	assert.Equal(t, "alice", ectx.AgentID)
	assert.Equal(t, 1000.0, ectx.Agent["balance"])
	assert.Equal(t, 250.0, ectx.Agents["bob"]["balance"])
	assert.Equal(t, 0.01, ectx.Config["fee_rate"])

	ectx.Agent["balance"] = 1.0
	ectx.Agents["bob"]["balance"] = 1.0
	ectx.Shared["stock"].(map[string]any)["apples"] = 0.0

	again, err := w.Snapshot("alice", nil)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, again.Agent["balance"])
	assert.Equal(t, 250.0, again.Agents["bob"]["balance"])
	assert.Equal(t, 3.0, again.Shared["stock"].(map[string]any)["apples"])

	_, err = w.Snapshot("carol", nil)
	assert.True(t, schema.IsKind(err, schema.ErrKindNotFound))
}

func TestCommit_AppliesAfterValues(t *testing.T) {
	w := seeded()

	require.NoError(t, w.Commit("alice", []schema.DiffEntry{
		{Path: "agent.balance", Before: 1000.0, After: 900.0},
		{Path: "agents.bob.balance", Before: 250.0, After: 350.0},
		{Path: "shared.stock.apples", Before: 3.0, After: 2.0},
		{Path: "agent.tags.0", Before: "vip", After: "gold"},
		{Path: "shared.ledger.last", Before: nil, After: "tx-1"},
	}))
	assert.Equal(t, int64(1), w.Version())

	agents, shared := w.Export()
	assert.Equal(t, 900.0, agents["alice"].(map[string]any)["balance"])
	assert.Equal(t, []any{"gold"}, agents["alice"].(map[string]any)["tags"])
	assert.Equal(t, 350.0, agents["bob"].(map[string]any)["balance"])
	assert.Equal(t, 2.0, shared["stock"].(map[string]any)["apples"])
	assert.Equal(t, "tx-1", shared["ledger"].(map[string]any)["last"])
}

func TestCommit_KeysContainingDots(t *testing.T) {
	w := seeded()

	require.NoError(t, w.Commit("alice", []schema.DiffEntry{
		{Path: `shared.subscribers["bob@example.com"]`, After: true},
		{Path: `shared.stock["v1.2"]`, After: 7.0},
		{Path: `agent["nick.name"]`, After: "al"},
	}))

	agents, shared := w.Export()
	assert.Equal(t, map[string]any{"bob@example.com": true}, shared["subscribers"])
	assert.Equal(t, map[string]any{"apples": 3.0, "v1.2": 7.0}, shared["stock"])
	assert.Equal(t, "al", agents["alice"].(map[string]any)["nick.name"])

	assert.True(t, schema.IsKind(w.Commit("alice", []schema.DiffEntry{{Path: `shared["open`, After: 1.0}}),
		schema.ErrKindMalformedAst))
}

func TestRun_CommitsDottedKeyFromEngineDiff(t *testing.T) {
	exec, err := engine.NewExecutor(engine.ExecutorConfig{})
	require.NoError(t, err)
	action, err := exec.Compile(&schema.ActionDefinition{
		Name: "subscribe",
		Logic: schema.Blocks{
			&schema.UpdateBlock{Target: "shared.subscribers[params.email]", Operation: schema.OpSet, Value: "true"},
			&schema.ReturnBlock{Value: map[string]string{}},
		},
	})
	require.NoError(t, err)

	w := New(map[string]map[string]any{"bob": {}}, map[string]any{"subscribers": map[string]any{}}, nil)
	ectx, err := w.Snapshot("bob", map[string]any{"email": "bob@example.com"})
	require.NoError(t, err)

	res := exec.Execute(context.Background(), action, ectx)
	require.True(t, res.Success, "error: %+v", res.Error)
	require.NoError(t, w.Commit("bob", res.StateDiff))

	_, shared := w.Export()
	assert.Equal(t, map[string]any{"bob@example.com": true}, shared["subscribers"])
}

func TestCommit_IsAllOrNothing(t *testing.T) {
	w := seeded()

	err := w.Commit("alice", []schema.DiffEntry{
		{Path: "agent.balance", After: 1.0},
		{Path: "agent.tags.7", After: "x"},
	})
	require.Error(t, err)
	assert.Equal(t, int64(0), w.Version())

	agents, _ := w.Export()
	assert.Equal(t, 1000.0, agents["alice"].(map[string]any)["balance"])

	assert.Error(t, w.Commit("alice", []schema.DiffEntry{{Path: "config.fee_rate", After: 1.0}}))
	assert.Error(t, w.Commit("carol", []schema.DiffEntry{{Path: "agent.balance", After: 1.0}}))
	assert.NoError(t, w.Commit("alice", nil))
}

func TestAddAgent(t *testing.T) {
	w := New(nil, nil, nil)
	w.AddAgent("zed", map[string]any{"balance": 1})
	w.AddAgent("amy", nil)
	assert.Equal(t, []string{"amy", "zed"}, w.Agents())

	ectx, err := w.Snapshot("amy", nil)
	require.NoError(t, err)
	assert.Empty(t, ectx.Agent)
}

func loadApp(t *testing.T) (*app.App, *app.Bundle) {
	t.Helper()
	b, err := app.LoadBundle("../app/testdata/payments.yaml")
	require.NoError(t, err)
	exec, err := engine.NewExecutor(engine.ExecutorConfig{
		Services: expressions.Deterministic(1, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	a, err := app.New(b, exec)
	require.NoError(t, err)
	return a, b
}

func TestRun_CommitsOnlyReturnedCalls(t *testing.T) {
	a, b := loadApp(t)
	w := FromBundle(b)
	ctx := context.Background()

	res, err := w.Run(ctx, a, nil, "alice", "transfer", map[string]any{"to": "bob", "amount": 100})
	require.NoError(t, err)
	require.True(t, res.Success, "error: %+v", res.Error)

	res, err = w.Run(ctx, a, nil, "bob", "transfer", map[string]any{"to": "alice", "amount": 100000})
	require.NoError(t, err)
	assert.False(t, res.Success)

	agents, _ := w.Export()
	assert.Equal(t, 900.0, agents["alice"].(map[string]any)["balance"])
	assert.Equal(t, 350.0, agents["bob"].(map[string]any)["balance"])
	assert.Equal(t, int64(1), w.Version())

	_, err = w.Run(ctx, a, nil, "carol", "balance", nil)
	assert.True(t, schema.IsKind(err, schema.ErrKindNotFound))
}

func TestRun_SerializesConcurrentCommits(t *testing.T) {
	a, b := loadApp(t)
	w := FromBundle(b)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = w.Run(context.Background(), a, nil, "alice", "pay_fees", map[string]any{"amounts": []any{100}})
		}()
	}
	wg.Wait()

	// Every call commits, but concurrent snapshots may overwrite each other.
	assert.Equal(t, int64(20), w.Version())
	_, shared := w.Export()
	fees := shared["fees"].(float64)
	assert.GreaterOrEqual(t, fees, 1.0)
	assert.LessOrEqual(t, fees, 20.0)
}
