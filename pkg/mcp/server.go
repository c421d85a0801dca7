// Package mcp exposes app actions as Model Context Protocol tools, so agents
// can act inside a simulated app.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/applogic/internal/simulator"
)

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Simulator *simulator.Simulator
	Logger    *slog.Logger
	Version   string
}

// Server wraps an MCP server with one tool per app action plus the
// applogic.* introspection tools.
type Server struct {
	sim       *simulator.Simulator
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  *MCPNotifier
	mcpServer *server.MCPServer
}

// NewServer registers a tool for every action of every registered app.
func NewServer(deps ServerDeps) (*Server, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		sim:      deps.Simulator,
		logger:   logger,
		sessions: NewSessionRegistry(),
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})

	apps := s.sim.Registry().List()
	names := make([]string, 0, len(apps))
	for _, a := range apps {
		names = append(names, a.Name())
	}
	mcpSrv := server.NewMCPServer(
		"applogic",
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions(fmt.Sprintf(
			"Simulated apps: %s. Each <app>.<action> tool performs one action as agent_id against the shared world; "+
				"applogic.paths, applogic.diagram, applogic.state and applogic.coverage inspect an app.",
			strings.Join(names, ", "))),
	)

	tools, err := s.tools()
	if err != nil {
		return nil, err
	}
	mcpSrv.AddTools(tools...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s, nil
}

// Serve runs the stdio transport until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.forwardNotifications(ctx)

	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// ServeSSE runs the SSE transport on addr until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.forwardNotifications(ctx)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))
	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())
	httpServer := &http.Server{Addr: addr, Handler: mux}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", slog.String("address", addr))
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) forwardNotifications(ctx context.Context) {
	hub := s.sim.Hub()
	if hub == nil {
		return
	}
	go func() {
		if err := Forward(ctx, hub, s.notifier, s.logger); err != nil {
			s.logger.Warn("notification forwarding stopped", slog.String("error", err.Error()))
		}
	}()
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Sessions returns the agent session registry.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}
