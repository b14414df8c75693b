// Package metrics owns the node's shared prometheus registry and its HTTP
// exposition endpoint. Per-component metrics (internal/executor.Metrics,
// and any future sequencer/DA metrics) register themselves onto the
// *prometheus.Registry this package constructs, the same way the teacher's
// HealthLogger owns one registry and registers its own gauges onto it in
// core/system_health_logging.go.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry builds a fresh registry with the standard process/Go
// collectors, matching prometheus.NewRegistry()'s bare-registry idiom
// used by the teacher (no default/global registry, so test processes
// never collide on metric names).
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return reg
}

// Handler returns the HTTP handler exposing reg in the Prometheus text
// exposition format, for mounting at e.g. /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
