package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/applogic/internal/streaming"
	"github.com/rendis/applogic/pkg/schema"
)

// AgentNotifier pushes delivered notifications to connected agents.
type AgentNotifier interface {
	Notify(ctx context.Context, app string, n schema.Notification) error
}

// MCPNotifier implements AgentNotifier with MCP log-message notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes to MCP sessions.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends n to the recipient's session.
// Best-effort: returns nil if the recipient is not connected.
func (n *MCPNotifier) Notify(_ context.Context, app string, note schema.Notification) error {
	sessionID, ok := n.sessions.SessionFor(app, note.To)
	if !ok {
		return nil
	}
	payload := map[string]any{
		"level":  "info",
		"logger": app,
		"data": map[string]any{
			"to":      note.To,
			"message": note.Message,
			"data":    note.Data,
		},
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}

// Forward delivers every notification published on hub until ctx ends.
func Forward(ctx context.Context, hub streaming.EventHub, notifier AgentNotifier, logger *slog.Logger) error {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{Types: []string{streaming.EventNotification}})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			note, ok := event.Payload.(schema.Notification)
			if !ok {
				continue
			}
			if err := notifier.Notify(ctx, event.App, note); err != nil {
				logger.WarnContext(ctx, "notification push failed",
					slog.String("app", event.App),
					slog.String("to", note.To),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
