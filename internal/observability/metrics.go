package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery outcomes recorded per recipient.
const (
	OutcomeDelivered = "delivered"
	OutcomeOffline   = "offline"
	OutcomeFailed    = "failed"
)

// Metrics holds the Prometheus collectors for the relay.
// A nil *Metrics is valid; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	connections   prometheus.Counter
	actions       *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	historyWrites *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance backed by its own registry.
//
// Postcondition: Returns a Metrics with Go runtime and process collectors registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "connections_total",
			Help:      "Transport connections accepted.",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "actions_total",
			Help:      "Inbound actions processed, by action and success.",
		}, []string{"action", "success"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "deliveries_total",
			Help:      "Per-recipient delivery attempts, by payload kind and outcome.",
		}, []string{"kind", "outcome"}),
		historyWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "history_writes_total",
			Help:      "Background chat history writes, by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connections,
		m.actions,
		m.deliveries,
		m.historyWrites,
	)
	return m
}

// TrackPresence registers gauges that sample live session and lobby counts on scrape.
//
// Precondition: stats must be safe for concurrent use.
func (m *Metrics) TrackPresence(stats func() (sessions, lobbies int)) {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "sessions",
			Help:      "Authenticated sessions currently registered.",
		}, func() float64 {
			s, _ := stats()
			return float64(s)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "lobbies",
			Help:      "Lobby channels with at least one member.",
		}, func() float64 {
			_, l := stats()
			return float64(l)
		}),
	)
}

// ConnectionAccepted counts a new transport connection.
func (m *Metrics) ConnectionAccepted() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ActionHandled counts one processed inbound action.
func (m *Metrics) ActionHandled(action string, success bool) {
	if m == nil {
		return
	}
	label := "false"
	if success {
		label = "true"
	}
	m.actions.WithLabelValues(action, label).Inc()
}

// Delivery counts one per-recipient delivery outcome.
func (m *Metrics) Delivery(kind, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(kind, outcome).Inc()
}

// HistoryWrite counts one background history write.
func (m *Metrics) HistoryWrite(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.historyWrites.WithLabelValues(result).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
