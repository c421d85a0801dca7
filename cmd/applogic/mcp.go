package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/applogic/pkg/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp [bundle|dir]...",
	Short: "Serve apps as MCP tools",
	Long: `Exposes every action of the loaded apps as an MCP tool named
<app>.<action>, plus path, diagram, state and coverage tools. Agents that
call an action as an agent id receive that agent's notifications.

Transports:
- stdio (default): standard input and output, for local agent processes.
- sse: Server-Sent Events over HTTP, for remote agents.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		listen, _ := cmd.Flags().GetString("listen")
		baseURL, _ := cmd.Flags().GetString("base-url")
		if baseURL == "" {
			baseURL = "http://localhost" + listen
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := openRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.Close()
		sim, err := rt.newSimulator(bundleArgs(args))
		if err != nil {
			return err
		}
		srv, err := mcp.NewServer(mcp.ServerDeps{Simulator: sim, Logger: logger, Version: version})
		if err != nil {
			return err
		}
		logger.Info("apps loaded", slog.Int("apps", len(sim.Registry().List())))
		return serveMCP(ctx, srv, transport, listen, baseURL)
	},
}

func init() {
	mcpCmd.Flags().String("transport", "stdio", "stdio or sse")
	mcpCmd.Flags().String("listen", ":4201", "listen address for the sse transport")
	mcpCmd.Flags().String("base-url", "", "public base URL for the sse transport")
	mcpCmd.Flags().String("db-path", "", "execution history database")
	mcpCmd.Flags().Bool("store", true, "record executions")
	mcpCmd.Flags().StringSlice("bundles", nil, "bundle files or directories")
	rootCmd.AddCommand(mcpCmd)
}

func serveMCP(ctx context.Context, srv *mcp.Server, transport, listen, baseURL string) error {
	switch transport {
	case "stdio":
		// Stdout carries JSON-RPC; logs already go to stderr.
		logger.Info("MCP server starting (stdio)")
		if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case "sse":
		if err := srv.ServeSSE(ctx, listen, baseURL); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		logger.Info("MCP server stopped")
	default:
		return fmt.Errorf("unknown transport %q, want stdio or sse", transport)
	}
	return nil
}
