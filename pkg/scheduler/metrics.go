package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics of scheduled jobs.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	runs     *prometheus.CounterVec
	skipped  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the scheduler metrics on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "tokenwallet"
	}
	factory := promauto.With(reg)
	return &Metrics{
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "runs_total",
				Help:      "Job runs, by job and result",
			},
			[]string{"job", "result"},
		),
		skipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "skipped_total",
				Help:      "Runs skipped because the job was still running",
			},
			[]string{"job"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "run_duration_seconds",
				Help:      "Job run duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"job"},
		),
	}
}

func (m *Metrics) observeRun(job string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.runs.WithLabelValues(job, result).Inc()
	m.duration.WithLabelValues(job).Observe(time.Since(start).Seconds())
}

func (m *Metrics) recordSkipped(job string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(job).Inc()
}
