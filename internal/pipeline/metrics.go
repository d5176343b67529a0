package pipeline

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the pipeline's operational counters, registered with
// the process-wide Prometheus registry the proxy binary exposes on
// its query API.
type Metrics struct {
	drops  *prometheus.CounterVec
	errors *prometheus.CounterVec
}

// NewMetrics constructs an unregistered Metrics. Call Register to
// attach it to a prometheus.Registerer.
func NewMetrics() *Metrics {
	return &Metrics{
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aspy",
			Subsystem: "pipeline",
			Name:      "events_dropped_total",
			Help:      "Events dropped by a pipeline processor, by processor name.",
		}, []string{"processor"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aspy",
			Subsystem: "pipeline",
			Name:      "processor_errors_total",
			Help:      "Errors returned by a pipeline processor, by processor name.",
		}, []string{"processor"}),
	}
}

// Register attaches the pipeline's collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(m.drops, m.errors)
}

// RecordDrop increments the drop counter for the named processor.
func (m *Metrics) RecordDrop(processor string) {
	m.drops.WithLabelValues(processor).Inc()
}

// RecordError increments the error counter for the named processor.
func (m *Metrics) RecordError(processor string) {
	m.errors.WithLabelValues(processor).Inc()
}
