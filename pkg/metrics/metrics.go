// Package metrics exposes the Prometheus collectors indexnode records
// against, following the teacher's pkg/metrics package/vector idiom:
// a private Registry, Namespace/Subsystem/Name collectors registered once
// in init, and small Record* helpers call sites use instead of touching
// the collectors directly.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds indexnode's Prometheus collectors.
var Registry = prometheus.NewRegistry()

var (
	blocksProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "indexnode",
			Subsystem: "sync",
			Name:      "blocks_processed_total",
			Help:      "Total number of blocks committed per deployment.",
		},
		[]string{"deployment", "network"},
	)

	blocksReverted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "indexnode",
			Subsystem: "sync",
			Name:      "blocks_reverted_total",
			Help:      "Total number of blocks reverted by reorg handling per deployment.",
		},
		[]string{"deployment", "network"},
	)

	entitiesCommitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "indexnode",
			Subsystem: "entities",
			Name:      "operations_committed_total",
			Help:      "Total number of entity operations committed per deployment.",
		},
		[]string{"deployment", "op"},
	)

	handlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "indexnode",
			Subsystem: "mapping",
			Name:      "handler_duration_seconds",
			Help:      "Duration of mapping handler invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~2s
		},
		[]string{"deployment", "data_source", "outcome"},
	)

	handlerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "indexnode",
			Subsystem: "mapping",
			Name:      "handler_failures_total",
			Help:      "Total number of trapped mapping handler invocations.",
		},
		[]string{"deployment", "data_source"},
	)

	activeSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "indexnode",
			Subsystem: "subscription",
			Name:      "active",
			Help:      "Current number of open subscription streams.",
		},
	)

	assignmentsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "indexnode",
			Subsystem: "assignment",
			Name:      "deployments_running",
			Help:      "Current number of deployments running on this node.",
		},
	)
)

func init() {
	Registry.MustRegister(
		blocksProcessed,
		blocksReverted,
		entitiesCommitted,
		handlerDuration,
		handlerFailures,
		activeSubscriptions,
		assignmentsRunning,
	)
}

// Handler serves indexnode's Prometheus collectors.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordBlockProcessed records one committed block for deployment/network.
func RecordBlockProcessed(deployment, network string) {
	blocksProcessed.WithLabelValues(deployment, network).Inc()
}

// RecordBlockReverted records one reorg-driven revert for deployment/network.
func RecordBlockReverted(deployment, network string) {
	blocksReverted.WithLabelValues(deployment, network).Inc()
}

// RecordOperationsCommitted records a batch of committed operations, one
// increment per operation kind (e.g. "set", "remove").
func RecordOperationsCommitted(deployment string, counts map[string]int) {
	for op, n := range counts {
		entitiesCommitted.WithLabelValues(deployment, op).Add(float64(n))
	}
}

// RecordHandlerInvocation records one mapping handler call's duration and
// outcome ("ok" or "trapped").
func RecordHandlerInvocation(deployment, dataSource, outcome string, d time.Duration) {
	handlerDuration.WithLabelValues(deployment, dataSource, outcome).Observe(d.Seconds())
	if outcome != "ok" {
		handlerFailures.WithLabelValues(deployment, dataSource).Inc()
	}
}

// SetActiveSubscriptions reports the current open subscription-stream count.
func SetActiveSubscriptions(n int) {
	activeSubscriptions.Set(float64(n))
}

// SetAssignmentsRunning reports the current number of deployments running
// on this node.
func SetAssignmentsRunning(n int) {
	assignmentsRunning.Set(float64(n))
}
