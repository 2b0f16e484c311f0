package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the Connector
type Metrics struct {
	// Gauges
	ConnectionState prometheus.Gauge
	FeedHead        prometheus.Gauge

	// Counters
	ReconnectsTotal *prometheus.CounterVec
	CallErrorsTotal *prometheus.CounterVec
	RetriesTotal    *prometheus.CounterVec

	// Histograms
	CallDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the Connector metrics on reg. A nil reg
// uses the default registerer.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "tokenwallet"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	const subsystem = "connector"

	return &Metrics{
		ConnectionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "connection_state",
			Help:      "Connection state (0=disconnected, 1=connecting, 2=connected)",
		}),
		FeedHead: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "feed_head_block",
			Help:      "Last block number delivered by the mined-block feed",
		}),
		ReconnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconnects_total",
			Help:      "Total number of connection attempts by outcome",
		}, []string{"outcome"}),
		CallErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "call_errors_total",
			Help:      "Total number of failed node calls",
		}, []string{"operation"}),
		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "retries_total",
			Help:      "Total number of retried node calls after a transient failure",
		}, []string{"operation"}),
		CallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "call_duration_seconds",
			Help:      "Node call duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}),
	}
}

// ObserveCall records the duration and outcome of one node call
func (m *Metrics) ObserveCall(operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.CallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		m.CallErrorsTotal.WithLabelValues(operation).Inc()
	}
}

// RecordRetry counts a transient failure that will be retried
func (m *Metrics) RecordRetry(operation string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(operation).Inc()
}

// RecordConnectAttempt counts a connection attempt
func (m *Metrics) RecordConnectAttempt(ok bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	m.ReconnectsTotal.WithLabelValues(outcome).Inc()
}

// SetState updates the connection state gauge
func (m *Metrics) SetState(s State) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(float64(s))
}

// SetFeedHead updates the feed head gauge
func (m *Metrics) SetFeedHead(block uint64) {
	if m == nil {
		return
	}
	m.FeedHead.Set(float64(block))
}
