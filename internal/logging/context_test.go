package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", App(ctx))
	assert.Equal(t, "", Action(ctx))
	assert.Equal(t, "", AgentID(ctx))
	assert.Equal(t, "", ExecutionID(ctx))

	ctx = WithCall(ctx, "payments", "transfer", "alice")
	ctx = WithExecutionID(ctx, "ex-1")

	assert.Equal(t, "payments", App(ctx))
	assert.Equal(t, "transfer", Action(ctx))
	assert.Equal(t, "alice", AgentID(ctx))
	assert.Equal(t, "ex-1", ExecutionID(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithCall(context.Background(), "payments", "transfer", "alice")
	LogWith(ctx, logger).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "app=payments")
	assert.Contains(t, output, "action=transfer")
	assert.Contains(t, output, "agent_id=alice")
	assert.NotContains(t, output, "execution_id")
	assert.Contains(t, output, "test message")
}

func TestCorrelationHandler(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		contains []string
		absent   []string
	}{
		{
			name:     "all ids",
			ctx:      WithExecutionID(WithCall(context.Background(), "payments", "transfer", "alice"), "ex-9"),
			contains: []string{`"app":"payments"`, `"action":"transfer"`, `"agent_id":"alice"`, `"execution_id":"ex-9"`},
		},
		{
			name:     "partial",
			ctx:      WithAction(context.Background(), "balance"),
			contains: []string{`"action":"balance"`},
			absent:   []string{"app", "agent_id", "execution_id"},
		},
		{
			name:   "empty",
			ctx:    context.Background(),
			absent: []string{"app", "action", "agent_id", "execution_id"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))
			logger.InfoContext(tt.ctx, "msg")

			output := buf.String()
			for _, s := range tt.contains {
				assert.Contains(t, output, s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, output, `"`+s+`"`)
			}
		})
	}
}

func TestCorrelationHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	handler := NewCorrelationHandler(slog.NewJSONHandler(&buf, nil))
	logger := slog.New(handler.WithAttrs([]slog.Attr{slog.String("component", "engine")}).WithGroup("call"))

	logger.InfoContext(WithApp(context.Background(), "shop"), "grouped", "key", "val")

	output := buf.String()
	assert.Contains(t, output, `"component":"engine"`)
	assert.Contains(t, output, "shop")
	assert.Contains(t, output, `"key":"val"`)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		" warn": slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, slog.LevelWarn, "json")
	require.NoError(t, err)

	ctx := WithApp(context.Background(), "payments")
	logger.InfoContext(ctx, "hidden")
	logger.WarnContext(ctx, "shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"app":"payments"`)

	_, err = New(&buf, slog.LevelInfo, "xml")
	assert.Error(t, err)
}
