// Package metrics exposes Prometheus instrumentation for the sync service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the instrumentation surface used by handlers and the gate.
type Recorder interface {
	RecordWebhook(result string)
	RecordReconcile(kind, outcome string, duration time.Duration)
	RecordGateDecision(decision string)
}

// Collector records metrics into a Prometheus registry.
type Collector struct {
	webhookRequests *prometheus.CounterVec
	reconciles      *prometheus.CounterVec
	reconcileTime   *prometheus.HistogramVec
	gateDecisions   *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		webhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identitysync_webhook_requests_total",
			Help: "Webhook deliveries by handling result.",
		}, []string{"result"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identitysync_reconcile_total",
			Help: "Reconciliations by event kind and outcome.",
		}, []string{"kind", "outcome"}),
		reconcileTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "identitysync_reconcile_duration_seconds",
			Help:    "Time spent applying an event to the datastore.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		gateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "identitysync_gate_decisions_total",
			Help: "Route gate decisions.",
		}, []string{"decision"}),
	}

	reg.MustRegister(
		c.webhookRequests,
		c.reconciles,
		c.reconcileTime,
		c.gateDecisions,
	)

	return c
}

func (c *Collector) RecordWebhook(result string) {
	c.webhookRequests.WithLabelValues(result).Inc()
}

func (c *Collector) RecordReconcile(kind, outcome string, duration time.Duration) {
	c.reconciles.WithLabelValues(kind, outcome).Inc()
	c.reconcileTime.WithLabelValues(kind).Observe(duration.Seconds())
}

func (c *Collector) RecordGateDecision(decision string) {
	c.gateDecisions.WithLabelValues(decision).Inc()
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordWebhook(string)                          {}
func (Nop) RecordReconcile(string, string, time.Duration) {}
func (Nop) RecordGateDecision(string)                     {}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
