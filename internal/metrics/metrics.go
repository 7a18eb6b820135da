// Package metrics defines the Prometheus collectors exposed on /metrics.
// Collectors register on the default registry at init; recording a metric
// never affects control flow.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhooksReceived counts webhook posts that passed signature and
	// eventType validation, labeled by ADO event type.
	WebhooksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_webhooks_received_total",
		Help: "Webhook events accepted for processing.",
	}, []string{"event_type"})

	// WebhooksRejected counts webhook posts rejected before processing.
	// Reasons: bad_signature, invalid_json, missing_event_type.
	WebhooksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_webhooks_rejected_total",
		Help: "Webhook events rejected before processing.",
	}, []string{"reason"})

	// EventsDropped counts accepted events the formatter produced no
	// notification for.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_events_dropped_total",
		Help: "Accepted events that produced no notification.",
	}, []string{"event_type"})

	// Deliveries counts per-client delivery attempts by outcome
	// (success or failure).
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_deliveries_total",
		Help: "Notification delivery attempts by outcome.",
	}, []string{"outcome"})

	// DeliveryDuration observes the wall time of each client POST.
	DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hermes_delivery_duration_seconds",
		Help:    "Duration of notification POSTs to clients.",
		Buckets: prometheus.DefBuckets,
	})

	// IdentityCache counts identity cache lookups. Kind is avatar or
	// groups; result is hit or miss.
	IdentityCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_identity_cache_total",
		Help: "Identity cache lookups by kind and result.",
	}, []string{"kind", "result"})
)
