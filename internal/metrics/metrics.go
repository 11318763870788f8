package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Intake pass duration (seconds).
	PassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "foe_intake_pass_duration_seconds",
			Help:    "Duration of one mailbox intake pass in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	// Messages processed per outcome.
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foe_intake_messages_total",
			Help: "Total mailbox messages processed by outcome",
		},
		[]string{"outcome"}, // persisted, ignored, rejected, malformed, duplicate, failed
	)

	// Request rows persisted per type.
	RequestsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foe_requests_persisted_total",
			Help: "Total request rows persisted by request type",
		},
		[]string{"type"},
	)

	// Pass-level failures (connection, fetch, store).
	PassFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foe_intake_pass_failures_total",
			Help: "Total aborted intake passes by failure stage",
		},
		[]string{"stage"}, // connect, fetch, store
	)
)

// RecordPass records the duration of a completed pass.
func RecordPass(duration time.Duration) {
	PassDuration.Observe(duration.Seconds())
}

// IncrementMessage counts one processed message.
func IncrementMessage(outcome string) {
	MessagesProcessed.WithLabelValues(outcome).Inc()
}

// IncrementRequest counts one persisted request row.
func IncrementRequest(requestType string) {
	RequestsPersisted.WithLabelValues(requestType).Inc()
}

// IncrementPassFailure counts one aborted pass.
func IncrementPassFailure(stage string) {
	PassFailures.WithLabelValues(stage).Inc()
}
