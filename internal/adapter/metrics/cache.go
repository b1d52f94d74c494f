package metrics

import "github.com/prometheus/client_golang/prometheus"

// BackfillMetrics holds Prometheus metrics for historical message fetches.
type BackfillMetrics struct {
	Fetches       *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	BreakerState  *prometheus.GaugeVec
}

// NewBackfillMetrics creates and registers backfill metrics on the given registry.
func NewBackfillMetrics(reg prometheus.Registerer) *BackfillMetrics {
	m := &BackfillMetrics{
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "fetches_total",
			Help:      "Total number of recent-messages fetches, by result.",
		}, []string{"result"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of recent-messages fetches in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill_cache",
			Name:      "hits_total",
			Help:      "Total number of backfill cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill_cache",
			Name:      "misses_total",
			Help:      "Total number of backfill cache misses.",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state by component (0=closed, 1=half-open, 2=open).",
		}, []string{"component"}),
	}

	reg.MustRegister(m.Fetches, m.FetchDuration, m.CacheHits, m.CacheMisses, m.BreakerState)
	return m
}
