// Package metrics exposes Prometheus counters for sync invocations.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ledgerlink"

var (
	// SyncInvocations counts orchestrator invocations by mode (single, bulk) and final status.
	SyncInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_invocations_total",
			Help:      "Total number of sync invocations by mode and status",
		},
		[]string{"mode", "status"},
	)

	// SyncErrors counts classified failures by kind.
	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_errors_total",
			Help:      "Total number of classified sync errors by kind",
		},
		[]string{"kind"},
	)

	// TokenRefreshes counts refresh-token grants by result.
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Total number of OAuth token refreshes by result",
		},
		[]string{"result"},
	)

	// QueueEnqueued counts queue upserts by result (created, reset, failed).
	QueueEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_enqueued_total",
			Help:      "Total number of pending sync queue upserts by result",
		},
		[]string{"result"},
	)

	// SyncDuration observes wall time of a single-entity invocation.
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of single-entity sync invocations",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"local_type"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
