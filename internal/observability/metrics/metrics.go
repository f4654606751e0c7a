package metrics

import "github.com/prometheus/client_golang/prometheus"

// AnalyticsMetrics exposes counters/histograms for aggregator store calls.
type AnalyticsMetrics struct {
	queriesTotal *prometheus.CounterVec
	queryLatency *prometheus.HistogramVec
}

func NewAnalyticsMetrics(reg prometheus.Registerer) *AnalyticsMetrics {
	m := &AnalyticsMetrics{
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "care_analytics",
			Subsystem: "store",
			Name:      "queries_total",
			Help:      "Total aggregator calls by store, operation and outcome",
		}, []string{"store", "operation", "outcome"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "care_analytics",
			Subsystem: "store",
			Name:      "query_seconds",
			Help:      "Latency of aggregator calls including every query they issue",
			Buckets:   prometheus.DefBuckets,
		}, []string{"store", "operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.queriesTotal, m.queryLatency)
	return m
}

func (m *AnalyticsMetrics) ObserveQuery(store, operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.queriesTotal.WithLabelValues(store, operation, outcome).Inc()
	m.queryLatency.WithLabelValues(store, operation).Observe(seconds)
}
