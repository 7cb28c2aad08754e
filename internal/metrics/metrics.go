// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the application's collectors.
type Metrics struct {
	InboundMessages   *prometheus.CounterVec
	IntentFallbacks   prometheus.Counter
	RemindersCreated  prometheus.Counter
	Clarifications    *prometheus.CounterVec
	NotifyClamped     prometheus.Counter
	DeliveriesSent    prometheus.Counter
	DeliveryFailures  prometheus.Counter
	MarkSentConflicts prometheus.Counter
	PollDuration      prometheus.Histogram
	DueReminders      prometheus.Gauge
}

// New registers all collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not panic.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		InboundMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "memobot_inbound_messages_total",
			Help: "Inbound WhatsApp messages by routed intent",
		}, []string{"intent"}),
		IntentFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "memobot_intent_fallbacks_total",
			Help: "Classifications that fell back to chat after a model failure",
		}),
		RemindersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "memobot_reminders_created_total",
			Help: "Reminders persisted",
		}),
		Clarifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "memobot_clarifications_total",
			Help: "Clarifying questions asked, by missing field",
		}, []string{"field"}),
		NotifyClamped: factory.NewCounter(prometheus.CounterOpts{
			Name: "memobot_notify_clamped_total",
			Help: "Reminders whose notification time was moved forward because it had already passed",
		}),
		DeliveriesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "memobot_deliveries_sent_total",
			Help: "Reminder notifications delivered and marked sent",
		}),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "memobot_delivery_failures_total",
			Help: "Reminder notifications that failed and were left for the next poll",
		}),
		MarkSentConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "memobot_mark_sent_conflicts_total",
			Help: "Deliveries whose sent transition was already taken by another poll",
		}),
		PollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "memobot_poll_duration_seconds",
			Help:    "Duration of a scheduler poll cycle",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		DueReminders: factory.NewGauge(prometheus.GaugeOpts{
			Name: "memobot_due_reminders",
			Help: "Due-but-unsent reminders found by the last poll",
		}),
	}
}

// NewNop returns collectors registered on a throwaway registry.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
