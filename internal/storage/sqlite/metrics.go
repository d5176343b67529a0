package sqlite

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics is the Prometheus-backed Metrics implementation wired
// into the query API's /metrics endpoint alongside the pipeline's.
type PromMetrics struct {
	dropped      prometheus.Counter
	storeFailed  prometheus.Counter
	batchLatency prometheus.Histogram
}

// NewPromMetrics constructs an unregistered PromMetrics.
func NewPromMetrics() *PromMetrics {
	return &PromMetrics{
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aspy",
			Subsystem: "sqlite",
			Name:      "events_dropped_total",
			Help:      "Events dropped because the sqlite sink's channel was full.",
		}),
		storeFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "aspy",
			Subsystem: "sqlite",
			Name:      "events_store_failed_total",
			Help:      "Events whose row insert failed within a batch.",
		}),
		batchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "aspy",
			Subsystem: "sqlite",
			Name:      "batch_write_seconds",
			Help:      "Latency of committing one batch transaction.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Register attaches the collectors to reg.
func (m *PromMetrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(m.dropped, m.storeFailed, m.batchLatency)
}

func (m *PromMetrics) RecordDropped()     { m.dropped.Inc() }
func (m *PromMetrics) RecordStoreFailed() { m.storeFailed.Inc() }
func (m *PromMetrics) ObserveBatchLatency(d time.Duration) {
	m.batchLatency.Observe(d.Seconds())
}
