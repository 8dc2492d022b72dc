package search

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scrypster/recall/pkg/types"
)

// Metrics records search telemetry. All methods are nil-safe so the
// aggregator can run without a registry in tests and embedded use.
type Metrics struct {
	duration       prometheus.Histogram
	resultCount    prometheus.Histogram
	degraded       prometheus.Counter
	sourceFailures *prometheus.CounterVec
}

// NewMetrics registers the search collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "recall",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "End-to-end unified search latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		resultCount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "recall",
			Subsystem: "search",
			Name:      "result_count",
			Help:      "Merged result count per search.",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100},
		}),
		degraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "search",
			Name:      "degraded_total",
			Help:      "Searches answered with at least one failed source.",
		}),
		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "recall",
			Subsystem: "search",
			Name:      "source_failures_total",
			Help:      "Adapter failures and timeouts by source type.",
		}, []string{"source"}),
	}
	reg.MustRegister(m.duration, m.resultCount, m.degraded, m.sourceFailures)
	return m
}

// Search records one completed search.
func (m *Metrics) Search(elapsed time.Duration, results int, degraded bool) {
	if m == nil {
		return
	}
	m.duration.Observe(elapsed.Seconds())
	m.resultCount.Observe(float64(results))
	if degraded {
		m.degraded.Inc()
	}
}

// SourceFailure records one adapter failure or timeout.
func (m *Metrics) SourceFailure(st types.SourceType) {
	if m == nil {
		return
	}
	m.sourceFailures.WithLabelValues(string(st)).Inc()
}
