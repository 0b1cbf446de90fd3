// Package metrics exposes the handful of Prometheus counters the
// observability section calls for: messages processed, bookings confirmed,
// reminders sent. There is no dashboard or aggregation math here, just the
// counters themselves behind a /metrics endpoint. Grounded on the teacher's
// internal/observability/metrics.MessagingMetrics shape, regeneralized from
// Telnyx-specific inbound/outbound counters to this system's conversation,
// booking, and reminder pipelines.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the shared counter set, safe for concurrent use and safe to
// call on a nil receiver so callers don't need to guard every call site.
type Metrics struct {
	messagesProcessed *prometheus.CounterVec
	bookingsConfirmed *prometheus.CounterVec
	remindersSent     *prometheus.CounterVec
	webhookLatency    *prometheus.HistogramVec
}

// New builds the counter set and registers it against reg, or the default
// Prometheus registry when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookingai",
			Subsystem: "conversation",
			Name:      "messages_processed_total",
			Help:      "Total inbound chat messages processed by the conversation engine",
		}, []string{"channel", "status"}),
		bookingsConfirmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookingai",
			Subsystem: "booking",
			Name:      "bookings_confirmed_total",
			Help:      "Total appointments confirmed through the booking pipeline",
		}, []string{"source"}),
		remindersSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookingai",
			Subsystem: "reminders",
			Name:      "reminders_sent_total",
			Help:      "Total day-of reminder messages dispatched",
		}, []string{"status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookingai",
			Subsystem: "conversation",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of inbound chat-platform webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.messagesProcessed, m.bookingsConfirmed, m.remindersSent, m.webhookLatency)
	return m
}

// ObserveMessageProcessed records one inbound message handled for the given
// channel ("whatsapp" or "webchat") and outcome ("ok" or "error").
func (m *Metrics) ObserveMessageProcessed(channel, status string) {
	if m == nil {
		return
	}
	m.messagesProcessed.WithLabelValues(channel, status).Inc()
}

// ObserveBookingConfirmed records one appointment reaching the confirmed
// state, tagged by how it was confirmed ("direct" or "payment").
func (m *Metrics) ObserveBookingConfirmed(source string) {
	if m == nil {
		return
	}
	m.bookingsConfirmed.WithLabelValues(source).Inc()
}

// ObserveReminderSent records one reminder send attempt, tagged "sent" or
// "failed".
func (m *Metrics) ObserveReminderSent(status string) {
	if m == nil {
		return
	}
	m.remindersSent.WithLabelValues(status).Inc()
}

// ObserveWebhookLatency records how long one webhook POST took to process.
func (m *Metrics) ObserveWebhookLatency(channel string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(channel).Observe(seconds)
}
