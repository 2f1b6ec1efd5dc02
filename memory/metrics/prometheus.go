// Package metrics provides Prometheus metrics export for memory providers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrygo/mnemos/memory"
)

// PrometheusExporter exports memory operation metrics in Prometheus format.
// It implements memory.Metrics and can be shared across providers.
type PrometheusExporter struct {
	registry *prometheus.Registry

	opLatency *prometheus.HistogramVec
	opTotal   *prometheus.CounterVec
	opErrors  *prometheus.CounterVec
}

var _ memory.Metrics = (*PrometheusExporter)(nil)

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.opLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mnemos",
			Subsystem: "memory",
			Name:      "op_latency_seconds",
			Help:      "Memory operation latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"domain", "op"},
	)

	e.opTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mnemos",
			Subsystem: "memory",
			Name:      "ops_total",
			Help:      "Total number of memory operations",
		},
		[]string{"domain", "op", "status"},
	)

	e.opErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mnemos",
			Subsystem: "memory",
			Name:      "op_errors_total",
			Help:      "Total number of failed memory operations",
		},
		[]string{"domain", "op"},
	)

	registry.MustRegister(
		e.opLatency,
		e.opTotal,
		e.opErrors,
	)

	return e
}

// ObserveOp records one memory operation.
func (e *PrometheusExporter) ObserveOp(domain memory.Domain, op string, latency time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		e.opErrors.WithLabelValues(string(domain), op).Inc()
	}

	e.opTotal.WithLabelValues(string(domain), op, status).Inc()
	e.opLatency.WithLabelValues(string(domain), op).Observe(latency.Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}
