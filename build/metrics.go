package build

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects build statistics on a private registry, meant to be
// exported in the node exporter textfile format at the end of a run.
type Metrics struct {
	Registry *prometheus.Registry

	builds   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	stages   prometheus.Counter
	inFlight prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		builds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "buildgraph_module_builds_total",
			Help: "Module builds by result (succeeded, failed, skipped)",
		}, []string{"result"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "buildgraph_module_build_duration_seconds",
			Help:    "Module build duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7min
		}, []string{"result"}),
		stages: f.NewCounter(prometheus.CounterOpts{
			Name: "buildgraph_stages_total",
			Help: "Priority stages started",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "buildgraph_builds_in_flight",
			Help: "Module builds currently running",
		}),
	}
}

// WriteTextfile writes the current values to path.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}

// The methods below accept a nil receiver so the scheduler can run without
// metrics.

func (m *Metrics) stageStarted() {
	if m != nil {
		m.stages.Inc()
	}
}

func (m *Metrics) buildStarted() time.Time {
	if m != nil {
		m.inFlight.Inc()
	}
	return time.Now()
}

func (m *Metrics) buildDone(start time.Time, result string) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.builds.WithLabelValues(result).Inc()
	m.duration.WithLabelValues(result).Observe(time.Since(start).Seconds())
}

func (m *Metrics) skipped(n int) {
	if m != nil && n > 0 {
		m.builds.WithLabelValues("skipped").Add(float64(n))
	}
}
