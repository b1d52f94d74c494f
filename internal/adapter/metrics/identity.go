package metrics

import "github.com/prometheus/client_golang/prometheus"

// IdentityMetrics holds Prometheus metrics for account and token handling.
type IdentityMetrics struct {
	Refreshes *prometheus.CounterVec
	Switches  prometheus.Counter
}

// NewIdentityMetrics creates and registers identity metrics on the given registry.
func NewIdentityMetrics(reg prometheus.Registerer) *IdentityMetrics {
	m := &IdentityMetrics{
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "token_refreshes_total",
			Help:      "Total number of token refresh attempts, by result.",
		}, []string{"result"}),
		Switches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "switches_total",
			Help:      "Total number of active identity changes.",
		}),
	}

	reg.MustRegister(m.Refreshes, m.Switches)
	return m
}
