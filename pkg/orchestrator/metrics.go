package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels of the transactions_total counter
const (
	outcomeMinedSuccess = "mined_success"
	outcomeMinedFailure = "mined_failure"
	outcomeTimedOut     = "timed_out"
	outcomeFailed       = "attempts_exhausted"
	outcomeSuperseded   = "superseded"
)

// Metrics holds Prometheus metrics for the orchestrator.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	transactions *prometheus.CounterVec
	sent         prometheus.Counter
	sendErrors   *prometheus.CounterVec
	adopted      prometheus.Counter
	watermark    prometheus.Gauge
	scanLag      prometheus.Gauge
	passDuration *prometheus.HistogramVec
	passErrors   *prometheus.CounterVec
}

// NewMetrics registers the orchestrator metrics on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "tokenwallet"
	}
	factory := promauto.With(reg)
	return &Metrics{
		transactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "transactions_total",
				Help:      "Transactions leaving the pending state, by outcome",
			},
			[]string{"outcome"},
		),
		sent: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "broadcasts_total",
				Help:      "Raw transaction broadcasts",
			},
		),
		sendErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "broadcast_errors_total",
				Help:      "Broadcasts rejected by the node",
			},
			[]string{"kind"},
		),
		adopted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "hash_adoptions_total",
				Help:      "Transactions re-keyed to the hash returned by the node",
			},
		),
		watermark: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "last_watched_block",
				Help:      "Last fully scanned block",
			},
		),
		scanLag: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "scan_lag_blocks",
				Help:      "Blocks between the chain head and the watermark",
			},
		),
		passDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "pass_duration_seconds",
				Help:      "Duration of scan, pending check and send passes",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"pass"},
		),
		passErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "pass_errors_total",
				Help:      "Passes that ended with an error",
			},
			[]string{"pass"},
		),
	}
}

func (m *Metrics) recordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) recordSent() {
	if m == nil {
		return
	}
	m.sent.Inc()
}

func (m *Metrics) recordSendError(kind string) {
	if m == nil {
		return
	}
	m.sendErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) recordAdopted() {
	if m == nil {
		return
	}
	m.adopted.Inc()
}

func (m *Metrics) setWatermark(block, head uint64) {
	if m == nil {
		return
	}
	m.watermark.Set(float64(block))
	lag := uint64(0)
	if head > block {
		lag = head - block
	}
	m.scanLag.Set(float64(lag))
}

func (m *Metrics) observePass(pass string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.passDuration.WithLabelValues(pass).Observe(time.Since(start).Seconds())
	if err != nil {
		m.passErrors.WithLabelValues(pass).Inc()
	}
}
