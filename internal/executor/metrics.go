package executor

import "github.com/prometheus/client_golang/prometheus"

// Metrics mirrors ExecutorMetrics: per-operation latency histograms and a
// tx-size histogram, labeled by the calling method.
type Metrics struct {
	validateLatency *prometheus.HistogramVec
	executeLatency  *prometheus.HistogramVec
	txBytes         *prometheus.HistogramVec
}

// NewMetrics registers the executor's metrics on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		validateLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "kanari_executor_validate_tx_latency_seconds",
			Help: "Latency of executor transaction validation, by method.",
		}, []string{"method"}),
		executeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "kanari_executor_execute_tx_latency_seconds",
			Help: "Latency of executor transaction execution, by method.",
		}, []string{"method"}),
		txBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kanari_executor_execute_tx_bytes",
			Help:    "Size in bytes of executed transactions, by method.",
			Buckets: prometheus.ExponentialBuckets(64, 2, 16),
		}, []string{"method"}),
	}
	reg.MustRegister(m.validateLatency, m.executeLatency, m.txBytes)
	return m
}

func (m *Metrics) startValidate(method string) func() {
	if m == nil {
		return func() {}
	}
	timer := prometheus.NewTimer(m.validateLatency.WithLabelValues(method))
	return func() { timer.ObserveDuration() }
}

func (m *Metrics) startExecute(method string) func() {
	if m == nil {
		return func() {}
	}
	timer := prometheus.NewTimer(m.executeLatency.WithLabelValues(method))
	return func() { timer.ObserveDuration() }
}

func (m *Metrics) observeBytes(method string, size uint64) {
	if m == nil {
		return
	}
	m.txBytes.WithLabelValues(method).Observe(float64(size))
}
