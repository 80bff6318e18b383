// Package metrics holds the process-wide Prometheus collectors for the
// messaging pipeline. Recording is fire-and-forget and never blocks the
// caller; the collectors are registered once at init and exposed through the
// promhttp scrape server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Webhook events received, by outcome",
	}, []string{"outcome"})

	messagesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbound_messages_total",
		Help: "Outbound delivery receipts, by outcome",
	}, []string{"outcome"})

	deliveryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "delivery_latency_seconds",
		Help:    "End-to-end latency from event receipt to delivery receipt",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "outbound_queue_depth",
		Help: "Jobs waiting in the outbound queue, per priority band",
	}, []string{"priority"})

	conversions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conversions_total",
		Help: "Conversion events emitted by the conversation engine",
	}, []string{"type"})

	conversionValue = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conversion_value_total",
		Help: "Accumulated sale value attributed to conversations",
	})
)

// Webhook event outcomes.
const (
	EventAccepted  = "accepted"
	EventDeduped   = "deduped"
	EventMalformed = "malformed"
	EventIgnored   = "ignored"
	EventRejected  = "rejected"
)

func IncEvent(outcome string) {
	eventsReceived.WithLabelValues(outcome).Inc()
}

func IncDelivery(outcome string) {
	messagesDelivered.WithLabelValues(outcome).Inc()
}

func ObserveDeliveryLatency(d time.Duration) {
	deliveryLatency.Observe(d.Seconds())
}

func SetQueueDepth(priority string, depth int) {
	queueDepth.WithLabelValues(priority).Set(float64(depth))
}

func IncConversion(conversionType string, value int64) {
	conversions.WithLabelValues(conversionType).Inc()
	if value > 0 {
		conversionValue.Add(float64(value))
	}
}
