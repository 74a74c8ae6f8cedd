// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Plugin dispatch
	PluginCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redseat_plugin_calls_total",
			Help: "Plugin function calls by outcome",
		},
		[]string{"plugin", "function", "result"}, // ok, absent, plugin_error, transport_error, unsupported
	)

	PluginCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redseat_plugin_call_duration_seconds",
			Help:    "Duration of plugin calls including lock wait",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"plugin", "function"},
	)

	PluginLockWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redseat_plugin_lock_wait_seconds",
			Help:    "Time spent waiting for the per-plugin call lock",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"plugin"},
	)

	PluginsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "redseat_plugins_loaded",
			Help: "Number of plugin modules currently loaded",
		},
	)

	// Request processing
	ReconcilePasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redseat_reconcile_passes_total",
			Help: "Reconciliation passes by library",
		},
		[]string{"library"},
	)

	ReconcileJobResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redseat_reconcile_jobs_total",
			Help: "Per-job reconciliation outcomes",
		},
		[]string{"result"}, // changed, unchanged, failed, backoff
	)

	ProgressEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redseat_progress_events_dropped_total",
			Help: "Progress notifications dropped because no consumer kept up",
		},
	)

	// Remote ZIP
	ZipRangeFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redseat_zip_range_fetches_total",
			Help: "Ranged HTTP fetches issued by the ZIP page extractor",
		},
		[]string{"part"}, // tail, central_directory, local_header, data
	)

	ZipExtractErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redseat_zip_extract_errors_total",
			Help: "ZIP page extraction failures by kind",
		},
		[]string{"kind"},
	)

	// Outbound HTTP
	OutboundRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redseat_outbound_requests_total",
			Help: "Outbound HTTP requests by result",
		},
		[]string{"result"}, // success, failure, rejected, retry
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "redseat_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
