// Package metrics exposes the process-wide Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects counters and histograms for the orchestration core.
//
// Labels are intentionally low-cardinality: runtime ids come from a closed
// set, action types from the catalog, cron results from {ok, error, busy}.
type Metrics struct {
	// Invocations counts runtime invocations by runtime id and status.
	Invocations *prometheus.CounterVec

	// InvokeDuration measures runtime invocation latency in seconds.
	InvokeDuration *prometheus.HistogramVec

	// RuntimeErrors counts terminal error events by runtime id.
	RuntimeErrors *prometheus.CounterVec

	// Actions counts executed actions by type and outcome.
	Actions *prometheus.CounterVec

	// CronRuns counts cron job executions by result.
	CronRuns *prometheus.CounterVec

	// MessagesHandled counts pipeline completions by outcome.
	MessagesHandled *prometheus.CounterVec

	// InflightReplies gauges currently open placeholder messages.
	InflightReplies prometheus.Gauge
}

// New creates and registers all metrics with reg. Pass a fresh registry in
// tests to avoid duplicate-registration panics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Invocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discoclaw_invocations_total",
				Help: "Runtime invocations by runtime id and status",
			},
			[]string{"runtime", "status"},
		),
		InvokeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "discoclaw_invoke_duration_seconds",
				Help:    "Runtime invocation duration in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 900, 1800},
			},
			[]string{"runtime"},
		),
		RuntimeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discoclaw_runtime_errors_total",
				Help: "Terminal runtime error events by runtime id",
			},
			[]string{"runtime"},
		),
		Actions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discoclaw_actions_total",
				Help: "Executed actions by type and outcome",
			},
			[]string{"type", "ok"},
		),
		CronRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discoclaw_cron_runs_total",
				Help: "Cron job executions by result",
			},
			[]string{"result"},
		),
		MessagesHandled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discoclaw_messages_handled_total",
				Help: "Message pipeline completions by outcome",
			},
			[]string{"outcome"},
		),
		InflightReplies: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "discoclaw_inflight_replies",
				Help: "Currently open placeholder replies",
			},
		),
	}
}

// Default creates metrics on the default Prometheus registry.
func Default() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
