package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server. A nil *Metrics is
// valid everywhere and records nothing, which keeps tests free of
// duplicate-registration conflicts.
type Metrics struct {
	activeSessions       prometheus.Gauge
	registeredAccounts   prometheus.Gauge
	sessionsCreated      prometheus.Counter
	sessionsDisconnected prometheus.Counter

	messagesReceived *prometheus.CounterVec // by wire type
	messagesSent     *prometheus.CounterVec // by wire type
	malformedLines   prometheus.Counter

	broadcastFanout   prometheus.Histogram
	deliveryFailures  prometheus.Counter
	heartbeatTimeouts prometheus.Counter
}

// NewMetrics creates a new metrics instance and registers it with the
// default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		activeSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "luckychat_active_sessions",
				Help: "Current number of open client connections",
			},
		),
		registeredAccounts: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "luckychat_registered_accounts",
				Help: "Current number of logged-in accounts",
			},
		),
		sessionsCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "luckychat_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		sessionsDisconnected: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "luckychat_sessions_disconnected_total",
				Help: "Total number of sessions torn down",
			},
		),
		messagesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "luckychat_messages_received_total",
				Help: "Total number of messages received from clients by type",
			},
			[]string{"type"},
		),
		messagesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "luckychat_messages_sent_total",
				Help: "Total number of messages sent to clients by type",
			},
			[]string{"type"},
		),
		malformedLines: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "luckychat_malformed_lines_total",
				Help: "Total number of inbound lines that failed to decode",
			},
		),
		broadcastFanout: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "luckychat_broadcast_fanout",
				Help:    "Number of sessions that received each broadcast",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
		deliveryFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "luckychat_delivery_failures_total",
				Help: "Total number of writes to a recipient that failed",
			},
		),
		heartbeatTimeouts: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "luckychat_heartbeat_timeouts_total",
				Help: "Total number of sessions closed by the liveness watchdog",
			},
		),
	}
}

// RecordActiveSessions updates the open connection count.
func (m *Metrics) RecordActiveSessions(count int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(count))
}

// RecordRegisteredAccounts updates the logged-in account count.
func (m *Metrics) RecordRegisteredAccounts(count int) {
	if m == nil {
		return
	}
	m.registeredAccounts.Set(float64(count))
}

// RecordSessionCreated increments the session creation counter.
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

// RecordSessionDisconnected increments the teardown counter.
func (m *Metrics) RecordSessionDisconnected() {
	if m == nil {
		return
	}
	m.sessionsDisconnected.Inc()
}

// RecordMessageReceived increments the received counter for a wire type.
func (m *Metrics) RecordMessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(msgType).Inc()
}

// RecordMessageSent increments the sent counter for a wire type.
func (m *Metrics) RecordMessageSent(msgType string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(msgType).Inc()
}

// RecordMalformedLine increments the decode failure counter.
func (m *Metrics) RecordMalformedLine() {
	if m == nil {
		return
	}
	m.malformedLines.Inc()
}

// RecordBroadcastFanout records how many sessions received a broadcast.
func (m *Metrics) RecordBroadcastFanout(recipientCount int) {
	if m == nil {
		return
	}
	m.broadcastFanout.Observe(float64(recipientCount))
}

// RecordDeliveryFailure increments the failed-write counter.
func (m *Metrics) RecordDeliveryFailure() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}

// RecordHeartbeatTimeout increments the watchdog close counter.
func (m *Metrics) RecordHeartbeatTimeout() {
	if m == nil {
		return
	}
	m.heartbeatTimeouts.Inc()
}
