package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics is
// valid and records nothing, so components can take it as an optional
// dependency.
type Metrics struct {
	HTTPRequestDuration *prometheus.HistogramVec
	RealtimeSessions    prometheus.Gauge
	EventsBroadcast     *prometheus.CounterVec
	DeliveriesDropped   *prometheus.CounterVec
	SessionWriteErrors  prometheus.Counter
	Mutations           *prometheus.CounterVec
	RelayErrors         *prometheus.CounterVec
	RelayDropped        *prometheus.CounterVec
}

// New creates and registers all metrics on reg. Pass
// prometheus.DefaultRegisterer in main and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lagerkoll_http_request_duration_seconds",
			Help:    "Duration of HTTP requests by route pattern",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route", "status"}),
		RealtimeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lagerkoll_realtime_sessions",
			Help: "Number of registered real-time client sessions",
		}),
		EventsBroadcast: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lagerkoll_realtime_events_broadcast_total",
			Help: "Change events handed to the fan-out, by event type",
		}, []string{"type"}),
		DeliveriesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lagerkoll_realtime_deliveries_dropped_total",
			Help: "Per-session deliveries dropped, by reason",
		}, []string{"reason"}),
		SessionWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "lagerkoll_realtime_session_write_errors_total",
			Help: "Transport write failures that removed a session",
		}),
		Mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lagerkoll_mutations_total",
			Help: "Committed mutations, by resource and action",
		}, []string{"resource", "action"}),
		RelayErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lagerkoll_relay_errors_total",
			Help: "Cross-instance relay publish/consume failures",
		}, []string{"relay", "op"}),
		RelayDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lagerkoll_relay_dropped_total",
			Help: "Events never forwarded to other instances, by reason",
		}, []string{"relay", "reason"}),
	}
}

// ObserveRequest records the duration of an HTTP request.
// Call with time.Now() at the start of the request.
func (m *Metrics) ObserveRequest(method, route string, status int, start time.Time) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
}

// SetSessions records the current registry size.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.RealtimeSessions.Set(float64(n))
}

// IncrementBroadcast records one event handed to the fan-out.
func (m *Metrics) IncrementBroadcast(eventType string) {
	if m == nil {
		return
	}
	m.EventsBroadcast.WithLabelValues(eventType).Inc()
}

// IncrementDropped records one delivery that never reached a session.
func (m *Metrics) IncrementDropped(reason string) {
	if m == nil {
		return
	}
	m.DeliveriesDropped.WithLabelValues(reason).Inc()
}

// IncrementWriteError records a transport write failure.
func (m *Metrics) IncrementWriteError() {
	if m == nil {
		return
	}
	m.SessionWriteErrors.Inc()
}

// IncrementMutation records a committed mutation.
func (m *Metrics) IncrementMutation(resource, action string) {
	if m == nil {
		return
	}
	m.Mutations.WithLabelValues(resource, action).Inc()
}

// IncrementRelayError records a relay failure.
func (m *Metrics) IncrementRelayError(relay, op string) {
	if m == nil {
		return
	}
	m.RelayErrors.WithLabelValues(relay, op).Inc()
}

// IncrementRelayDropped records an event the relay gave up forwarding.
func (m *Metrics) IncrementRelayDropped(relay, reason string) {
	if m == nil {
		return
	}
	m.RelayDropped.WithLabelValues(relay, reason).Inc()
}
