package server

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "beast"

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	connections      prometheus.Counter
	activeSessions   *prometheus.GaugeVec
	requests         *prometheus.CounterVec
	responses        *prometheus.CounterVec
	queueFull        prometheus.Counter
	upgrades         *prometheus.CounterVec
	messagesReceived prometheus.Counter
	messagesDropped  *prometheus.CounterVec
	pingsSent        prometheus.Counter
	idleTimeouts     *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_accepted_total",
			Help:      "Total number of accepted TCP connections",
		}),
		activeSessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_sessions",
			Help:      "Number of live sessions by kind",
		}, []string{"kind"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests read, by outcome",
		}, []string{"outcome"}),
		responses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "responses_total",
			Help:      "Total number of HTTP responses written, by status code",
		}, []string{"code"}),
		queueFull: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "write_queue_full_total",
			Help:      "Times a connection withheld a pipelined read because its write queue was full",
		}),
		upgrades: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "websocket_upgrades_total",
			Help:      "WebSocket upgrade attempts by result",
		}, []string{"result"}),
		messagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "websocket_messages_received_total",
			Help:      "Total number of WebSocket data messages read",
		}),
		messagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "websocket_messages_dropped_total",
			Help:      "WebSocket messages dropped before processing, by reason",
		}, []string{"reason"}),
		pingsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "websocket_pings_sent_total",
			Help:      "Keep-alive pings sent to idle WebSocket peers",
		}),
		idleTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "idle_timeouts_total",
			Help:      "Sessions closed by the idle timer, by kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) connectionAccepted() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) sessionOpened(kind string) {
	if m != nil {
		m.activeSessions.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) sessionClosed(kind string) {
	if m != nil {
		m.activeSessions.WithLabelValues(kind).Dec()
	}
}

func (m *Metrics) requestRead(outcome readOutcome) {
	if m != nil {
		m.requests.WithLabelValues(outcome.String()).Inc()
	}
}

func (m *Metrics) responseWritten(code int) {
	if m != nil {
		m.responses.WithLabelValues(strconv.Itoa(code)).Inc()
	}
}

func (m *Metrics) writeQueueFull() {
	if m != nil {
		m.queueFull.Inc()
	}
}

func (m *Metrics) upgrade(result string) {
	if m != nil {
		m.upgrades.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) messageReceived() {
	if m != nil {
		m.messagesReceived.Inc()
	}
}

func (m *Metrics) messageDropped(reason string) {
	if m != nil {
		m.messagesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) pingSent() {
	if m != nil {
		m.pingsSent.Inc()
	}
}

func (m *Metrics) idleTimeout(kind string) {
	if m != nil {
		m.idleTimeouts.WithLabelValues(kind).Inc()
	}
}
