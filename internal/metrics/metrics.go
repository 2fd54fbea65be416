// Package metrics exposes Prometheus instruments for ledger operations
// and bridge traffic. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by every counter.
const (
	OutcomeOK = "ok"
)

// Metrics holds the instruments of one node.
type Metrics struct {
	registry       *prometheus.Registry
	operations     *prometheus.CounterVec   // operations counts calls by op and outcome
	opDuration     *prometheus.HistogramVec // opDuration times calls by op
	bridgeMessages *prometheus.CounterVec   // bridgeMessages counts bridge calls by kind, direction, outcome
	delegated      prometheus.Gauge         // delegated tracks pairs currently held by a venue
}

// New registers the instruments under namespace (e.g. "ledgerd") on a
// private registry, along with the Go and process collectors.
func New(namespace string) *Metrics {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = "cassegrain"
	}

	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Operations by name and outcome kind.",
		}, []string{"op", "outcome"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"op"}),
		bridgeMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_messages_total",
			Help:      "Bridge messages by kind, direction and outcome kind.",
		}, []string{"kind", "direction", "outcome"}),
		delegated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "delegated_pairs",
			Help:      "Batch and event pairs currently held by a rollup venue.",
		}),
	}

	reg.MustRegister(
		m.operations,
		m.opDuration,
		m.bridgeMessages,
		m.delegated,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveOp records one operation. outcome is the error kind, or OutcomeOK.
func (m *Metrics) ObserveOp(op, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// ObserveBridge records one bridge message. direction is "in" or "out".
func (m *Metrics) ObserveBridge(kind, direction, outcome string) {
	if m == nil {
		return
	}
	m.bridgeMessages.WithLabelValues(kind, direction, outcome).Inc()
}

// AddDelegated moves the delegated-pairs gauge by delta.
func (m *Metrics) AddDelegated(delta float64) {
	if m == nil {
		return
	}
	m.delegated.Add(delta)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
