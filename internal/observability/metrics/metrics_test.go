package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsObserve(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveMessageProcessed("whatsapp", "ok")
	m.ObserveBookingConfirmed("direct")
	m.ObserveReminderSent("sent")
	m.ObserveWebhookLatency("whatsapp", 0.5)
}

func TestMetricsCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveBookingConfirmed("payment")
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveMessageProcessed("webchat", "error")
	m.ObserveBookingConfirmed("direct")
	m.ObserveReminderSent("failed")
	m.ObserveWebhookLatency("webchat", 0.1)
}
