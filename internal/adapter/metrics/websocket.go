package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics holds Prometheus metrics for local consumer connections.
type WebSocketMetrics struct {
	ActiveConnections prometheus.Gauge
	MessagesSent      prometheus.Counter
	CommandsReceived  *prometheus.CounterVec
	SlowDisconnects   prometheus.Counter
	Duplicates        prometheus.Counter
	Rejected          *prometheus.CounterVec
}

// NewWebSocketMetrics creates and registers WebSocket metrics on the given registry.
func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of active consumer WebSocket connections.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Total number of events written to consumers.",
		}),
		CommandsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "commands_received_total",
			Help:      "Total number of consumer commands, by type.",
		}, []string{"type"}),
		SlowDisconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "slow_disconnects_total",
			Help:      "Total number of consumers dropped for a full send buffer.",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "duplicate_messages_total",
			Help:      "Total number of messages dropped as already seen.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "rejected_connections_total",
			Help:      "Total number of consumer connections refused by a limit, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.ActiveConnections, m.MessagesSent, m.CommandsReceived, m.SlowDisconnects, m.Duplicates, m.Rejected)
	return m
}
