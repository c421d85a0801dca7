// Package panel serves the JSON API of the simulator: app introspection,
// action calls against the live world, diagrams, coverage and a live event
// stream.
package panel

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rendis/applogic/internal/metrics"
	"github.com/rendis/applogic/internal/simulator"
)

// PanelDeps holds the dependencies for the panel server.
type PanelDeps struct {
	Simulator *simulator.Simulator
	Metrics   *metrics.Metrics // optional; enables GET /metrics
	Logger    *slog.Logger
}

// PanelServer serves the HTTP API.
type PanelServer struct {
	deps PanelDeps
}

// NewPanelServer creates a new PanelServer.
func NewPanelServer(deps PanelDeps) *PanelServer {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &PanelServer{deps: deps}
}

// Handler returns the HTTP handler for the panel routes.
func (s *PanelServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Get("/apps", s.handleApps)
	r.Route("/apps/{app}", func(r chi.Router) {
		r.Get("/", s.handleApp)
		r.Get("/state", s.handleState)
		r.Post("/reset", s.handleReset)
		r.Get("/coverage", s.handleCoverage)
		r.Get("/executions", s.handleExecutions)
		r.Get("/events", s.handleSSE)

		r.Get("/actions", s.handleActions)
		r.Route("/actions/{action}", func(r chi.Router) {
			r.Get("/", s.handleAction)
			r.Post("/execute", s.handleExecute)
			r.Get("/paths", s.handlePaths)
			r.Get("/diagram", s.handleDiagram)
		})
	})
	r.Get("/executions/{id}", s.handleExecution)

	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
