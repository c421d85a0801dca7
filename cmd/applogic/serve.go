package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/applogic/internal/engine"
	"github.com/rendis/applogic/internal/metrics"
	"github.com/rendis/applogic/internal/panel"
	"github.com/rendis/applogic/internal/simulator"
	"github.com/rendis/applogic/internal/store"
	"github.com/rendis/applogic/internal/streaming"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve [bundle|dir]...",
	Short: "Serve apps over the HTTP panel API",
	Long: `Loads the bundles into a live simulator and serves the panel API.
SIGHUP reloads the bundles and resets every world; SIGINT or SIGTERM stops
the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), bundleArgs(args))
	},
}

func init() {
	serveCmd.Flags().String("listen-addr", ":4200", "TCP listen address")
	serveCmd.Flags().String("db-path", "", "execution history database")
	serveCmd.Flags().Bool("store", true, "record executions")
	serveCmd.Flags().Bool("metrics", true, "expose /metrics")
	serveCmd.Flags().StringSlice("bundles", nil, "bundle files or directories")
	rootCmd.AddCommand(serveCmd)
}

// runtimeDeps are the parts of a simulator that outlive a bundle reload.
type runtimeDeps struct {
	store   store.Store
	metrics *metrics.Metrics
	hub     *streaming.MemoryHub
}

func openRuntime(ctx context.Context) (*runtimeDeps, error) {
	rt := &runtimeDeps{hub: streaming.NewMemoryHub()}
	if cfg.Store {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
			return nil, err
		}
		st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("migrate store: %w", err)
		}
		rt.store = st
	}
	if cfg.Metrics {
		rt.metrics = metrics.New(true)
	}
	return rt, nil
}

func (rt *runtimeDeps) Close() {
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			logger.Warn("close store", slog.String("error", err.Error()))
		}
	}
}

// newSimulator loads the bundles into a fresh simulator over rt.
func (rt *runtimeDeps) newSimulator(paths []string) (*simulator.Simulator, error) {
	reg, err := loadRegistry(paths)
	if err != nil {
		return nil, err
	}
	var observer engine.Observer
	if rt.metrics != nil {
		observer = rt.metrics
	}
	return simulator.New(simulator.Deps{
		Registry:  reg,
		Store:     rt.store,
		Hub:       rt.hub,
		Observer:  observer,
		Logger:    logger,
		PathLimit: cfg.PathLimit,
	}), nil
}

func (rt *runtimeDeps) handler(sim *simulator.Simulator) http.Handler {
	return panel.NewPanelServer(panel.PanelDeps{
		Simulator: sim,
		Metrics:   rt.metrics,
		Logger:    logger,
	}).Handler()
}

func runServe(ctx context.Context, paths []string) error {
	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	sim, err := rt.newSimulator(paths)
	if err != nil {
		return err
	}
	swapper := newHandlerSwapper(rt.handler(sim))
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           swapper,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := writePidFile(); err != nil {
		logger.Warn("write pidfile", slog.String("error", err.Error()))
	}
	defer os.Remove(pidPath())

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("panel listening",
			slog.String("addr", srv.Addr),
			slog.Int("apps", len(sim.Registry().List())),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	for {
		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err

		case <-ctx.Done():
			return shutdown(srv)

		case sig := <-signals:
			if sig != syscall.SIGHUP {
				logger.Info("shutting down", slog.String("signal", sig.String()))
				return shutdown(srv)
			}
			next, err := rt.newSimulator(paths)
			if err != nil {
				logger.Error("reload failed, keeping current bundles", slog.String("error", err.Error()))
				continue
			}
			swapper.Swap(rt.handler(next))
			logger.Info("bundles reloaded", slog.Int("apps", len(next.Registry().List())))
		}
	}
}

func shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown did not complete", slog.String("error", err.Error()))
		return srv.Close()
	}
	return nil
}

func writePidFile() error {
	if err := os.MkdirAll(filepath.Dir(pidPath()), 0o700); err != nil {
		return err
	}
	return os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644)
}
