package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Outbox / dispatch metrics
	ItemsEnqueued     *prometheus.CounterVec
	ItemsDeduplicated *prometheus.CounterVec
	ItemsSent         *prometheus.CounterVec
	ItemsFailed       *prometheus.CounterVec
	ItemsRateLimited  *prometheus.CounterVec
	ItemsDeadLettered *prometheus.CounterVec
	DispatchLatency   prometheus.Histogram
	ProviderCallTime  *prometheus.HistogramVec
	QueueDepth        *prometheus.GaugeVec

	// Reconcile metrics
	ReconcileRuns       *prometheus.CounterVec
	ReconcileDriftFixed *prometheus.CounterVec
	ReconcileDuration   *prometheus.HistogramVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics on the default
// Prometheus registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers the metrics on an explicit registerer. Tests use
// this with a fresh registry to avoid duplicate registration panics.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ItemsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_items_enqueued_total",
			Help:      "Total number of outbox items enqueued",
		}, []string{"integration"}),
		ItemsDeduplicated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_items_deduplicated_total",
			Help:      "Total number of enqueue requests collapsed onto an existing item",
		}, []string{"integration"}),
		ItemsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_items_sent_total",
			Help:      "Total number of outbox items delivered",
		}, []string{"integration"}),
		ItemsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_items_failed_total",
			Help:      "Total number of failed delivery attempts",
		}, []string{"integration"}),
		ItemsRateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_items_ratelimited_total",
			Help:      "Total number of provider 429 responses",
		}, []string{"integration"}),
		ItemsDeadLettered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_items_deadlettered_total",
			Help:      "Total number of items moved to the dead letter state",
		}, []string{"integration"}),
		DispatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_batch_duration_seconds",
			Help:      "Time spent draining one dispatch batch",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		ProviderCallTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Duration of individual provider transport calls",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"integration", "outcome"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_queue_depth",
			Help:      "Current number of dispatch-eligible items",
		}, []string{"integration"}),
		ReconcileRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Total number of reconcile sweeps by final status",
		}, []string{"integration", "status"}),
		ReconcileDriftFixed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_drift_fixed_total",
			Help:      "Total number of stuck items made dispatch-eligible again",
		}, []string{"integration"}),
		ReconcileDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Wall-clock duration of reconcile sweeps",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600, 6900},
		}, []string{"integration"}),
		DatabaseOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}
