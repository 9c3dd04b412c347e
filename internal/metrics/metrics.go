// Package metrics holds the prometheus collectors shared by all process roles.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "bank"

// Metrics groups the collectors of one process.
type Metrics struct {
	Registry *prometheus.Registry

	gatewayInvocations *prometheus.CounterVec
	gatewayWait        *prometheus.HistogramVec
	consumerMessages   *prometheus.CounterVec
	transfers          *prometheus.CounterVec
	connections        prometheus.Gauge
}

// New registers all collectors on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		gatewayInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "invocations_total",
			Help:      "Number of gateway invocations by action and final status.",
		}, []string{"action", "status"}),
		gatewayWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a correlated response.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"action"}),
		consumerMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "messages_total",
			Help:      "Number of broker messages processed by queue, action and response status.",
		}, []string{"queue", "action", "status"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "transfers_total",
			Help:      "Number of transfer requests by outcome reason.",
		}, []string{"outcome"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "connections",
			Help:      "Number of open realtime connections.",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.gatewayInvocations,
		m.gatewayWait,
		m.consumerMessages,
		m.transfers,
		m.connections,
	)
	return m
}

// ObserveInvocation records a finished gateway invocation.
func (m *Metrics) ObserveInvocation(action string, status int, waited time.Duration) {
	if m == nil {
		return
	}
	m.gatewayInvocations.WithLabelValues(action, strconv.Itoa(status)).Inc()
	m.gatewayWait.WithLabelValues(action).Observe(waited.Seconds())
}

// ObserveMessage records a consumed broker message.
func (m *Metrics) ObserveMessage(queue, action string, status int) {
	if m == nil {
		return
	}
	m.consumerMessages.WithLabelValues(queue, action, strconv.Itoa(status)).Inc()
}

// ObserveTransfer records a transfer outcome ("completed" or a rejection reason).
func (m *Metrics) ObserveTransfer(outcome string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(outcome).Inc()
}

// ConnectionOpened tracks a realtime connection and returns the matching close func.
func (m *Metrics) ConnectionOpened() func() {
	if m == nil {
		return func() {}
	}
	m.connections.Inc()
	return m.connections.Dec
}
