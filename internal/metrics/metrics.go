// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessagesIngested counts stored incoming messages; duplicates are not
	// counted.
	MessagesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailpilot_messages_ingested_total",
		Help: "Incoming messages stored after fingerprint deduplication",
	})

	// SyncPasses counts sync passes by outcome.
	SyncPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailpilot_sync_passes_total",
		Help: "Mailbox sync passes by outcome",
	}, []string{"outcome"})

	// SendAttempts counts outbound dispatches by final status.
	SendAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailpilot_send_attempts_total",
		Help: "Outbound send attempts by final status",
	}, []string{"status"})

	// ProviderAttempts counts reply generation calls per provider and outcome.
	ProviderAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mailpilot_reply_provider_attempts_total",
		Help: "Reply generation attempts by provider and outcome",
	}, []string{"provider", "outcome"})

	// SyncDuration observes how long one full sync pass takes.
	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mailpilot_sync_pass_duration_seconds",
		Help:    "Duration of one full mailbox sync pass",
		Buckets: prometheus.DefBuckets,
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
