package metrics

import "github.com/prometheus/client_golang/prometheus"

// RelayMetrics holds Prometheus metrics for the upstream chat connection.
type RelayMetrics struct {
	ConnectionState   prometheus.Gauge
	Reconnects        prometheus.Counter
	ReconnectDelay    prometheus.Gauge
	KeepaliveTimeouts prometheus.Counter
	DialFailures      prometheus.Counter
	LinesReceived     prometheus.Counter
	MessagesRelayed   *prometheus.CounterVec
	ChannelsJoined    prometheus.Gauge
	Consumers         prometheus.Gauge
	ConsumerEvictions prometheus.Counter
	AuthRejections    prometheus.Counter
}

// NewRelayMetrics creates and registers relay metrics on the given registry.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "connection_state",
			Help:      "Upstream connection state (0=disconnected, 1=connecting, 2=ready).",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "reconnects_scheduled_total",
			Help:      "Total number of scheduled upstream reconnects.",
		}),
		ReconnectDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "reconnect_delay_seconds",
			Help:      "Delay of the most recently scheduled reconnect.",
		}),
		KeepaliveTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "keepalive_timeouts_total",
			Help:      "Total number of connections closed for a missing PONG.",
		}),
		DialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "dial_failures_total",
			Help:      "Total number of failed upstream dials.",
		}),
		LinesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "lines_received_total",
			Help:      "Total number of protocol lines received.",
		}),
		MessagesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "messages_relayed_total",
			Help:      "Total number of messages fanned out to consumers, by command.",
		}, []string{"command"}),
		ChannelsJoined: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "channels_watched",
			Help:      "Number of channels with at least one watching consumer.",
		}),
		Consumers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcaster",
			Name:      "consumers",
			Help:      "Number of registered consumers.",
		}),
		ConsumerEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcaster",
			Name:      "consumer_evictions_total",
			Help:      "Total number of consumers removed after a failed delivery.",
		}),
		AuthRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "auth_rejections_total",
			Help:      "Total number of credentials rejected by the chat gateway.",
		}),
	}

	reg.MustRegister(
		m.ConnectionState, m.Reconnects, m.ReconnectDelay, m.KeepaliveTimeouts,
		m.DialFailures, m.LinesReceived, m.MessagesRelayed, m.ChannelsJoined,
		m.Consumers, m.ConsumerEvictions, m.AuthRejections,
	)
	return m
}
