// Package metrics exports action call counters and latencies to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rendis/applogic/internal/engine"
	"github.com/rendis/applogic/internal/logging"
	"github.com/rendis/applogic/pkg/schema"
)

const namespace = "applogic"

// Metrics is an engine.Observer backed by its own Prometheus registry.
// The app label comes from the call context (logging.WithApp).
type Metrics struct {
	registry      *prometheus.Registry
	executions    *prometheus.CounterVec
	failures      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	steps         *prometheus.HistogramVec
	notifications *prometheus.CounterVec
	diffEntries   *prometheus.CounterVec
}

// New creates and registers the collectors. withRuntime adds the Go and
// process collectors.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Action calls by terminated reason.",
		}, []string{"app", "action", "reason"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_errors_total",
			Help:      "Failed action calls by error kind.",
		}, []string{"app", "action", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of action calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"app", "action"}),
		steps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_steps",
			Help:      "Directives executed per call.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}, []string{"app", "action"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications delivered by successful calls.",
		}, []string{"app", "action"}),
		diffEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_diff_entries_total",
			Help:      "State paths changed by successful calls.",
		}, []string{"app", "action"}),
	}
	m.registry.MustRegister(m.executions, m.failures, m.duration, m.steps, m.notifications, m.diffEntries)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// ObserveExecution records one finished call.
func (m *Metrics) ObserveExecution(ctx context.Context, action string, res *schema.ExecutionResult, elapsed time.Duration) {
	app := logging.App(ctx)
	m.executions.WithLabelValues(app, action, string(res.TerminatedReason)).Inc()
	m.duration.WithLabelValues(app, action).Observe(elapsed.Seconds())
	m.steps.WithLabelValues(app, action).Observe(float64(res.StepsExecuted))
	if res.Error != nil {
		m.failures.WithLabelValues(app, action, res.Error.Kind).Inc()
		return
	}
	m.notifications.WithLabelValues(app, action).Add(float64(len(res.Notifications)))
	m.diffEntries.WithLabelValues(app, action).Add(float64(len(res.StateDiff)))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

var _ engine.Observer = (*Metrics)(nil)
