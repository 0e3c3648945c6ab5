// Package metrics exports pipeline and memory metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/becomeliminal/nim-runtime/engine"
)

const namespace = "nim"

// Exporter records engine and admin metrics.
type Exporter struct {
	registry *prometheus.Registry

	// Pipeline metrics
	runs         *prometheus.CounterVec
	runLatency   prometheus.Histogram
	stageLatency *prometheus.HistogramVec
	stageErrors  *prometheus.CounterVec
	bootstraps   *prometheus.CounterVec

	// Memory metrics
	recalled *prometheus.HistogramVec
	adminOps *prometheus.CounterVec
}

var _ engine.Recorder = (*Exporter)(nil)

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default exporter configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}
}

// NewExporter creates an exporter and registers its collectors.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by outcome",
		},
		[]string{"outcome"},
	)

	e.runLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_latency_seconds",
			Help:      "Pipeline run latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
	)

	e.stageLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_latency_seconds",
			Help:      "Pipeline stage latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"stage"},
	)

	e.stageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_failures_total",
			Help:      "Total number of failed pipeline stages",
		},
		[]string{"stage"},
	)

	e.bootstraps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "bootstraps_total",
			Help:      "Total number of bootstraps by status",
		},
		[]string{"status"},
	)

	e.recalled = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "recalled_points",
			Help:      "Points recalled per collection and run",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50, 100},
		},
		[]string{"collection"},
	)

	e.adminOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "admin_operations_total",
			Help:      "Total number of memory administration operations",
		},
		[]string{"operation", "status"},
	)

	registry.MustRegister(
		e.runs,
		e.runLatency,
		e.stageLatency,
		e.stageErrors,
		e.bootstraps,
		e.recalled,
		e.adminOps,
	)
	return e
}

// ObserveRun records a finished or rejected run.
func (e *Exporter) ObserveRun(outcome string, d time.Duration) {
	e.runs.WithLabelValues(outcome).Inc()
	if outcome != engine.OutcomeRejected {
		e.runLatency.Observe(d.Seconds())
	}
}

// ObserveStage records one stage execution.
func (e *Exporter) ObserveStage(stage string, d time.Duration, err error) {
	e.stageLatency.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		e.stageErrors.WithLabelValues(stage).Inc()
	}
}

// ObserveRecall records the number of points recalled from a collection.
func (e *Exporter) ObserveRecall(collection string, points int) {
	e.recalled.WithLabelValues(collection).Observe(float64(points))
}

// ObserveBootstrap records a bootstrap attempt.
func (e *Exporter) ObserveBootstrap(_ time.Duration, err error) {
	e.bootstraps.WithLabelValues(status(err == nil)).Inc()
}

// ObserveAdmin records an administration operation.
func (e *Exporter) ObserveAdmin(operation string, ok bool) {
	e.adminOps.WithLabelValues(operation, status(ok)).Inc()
}

// Handler serves the registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}
