package eventbus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

// Metrics holds Prometheus metrics for notification delivery.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	published   *prometheus.CounterVec
	errors      *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	subscribers prometheus.Gauge
}

// NewMetrics registers the event bus metrics on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "tokenwallet"
	}
	factory := promauto.With(reg)
	return &Metrics{
		published: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "eventbus",
				Name:      "published_total",
				Help:      "Events published, by backend and kind",
			},
			[]string{"backend", "kind"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "eventbus",
				Name:      "publish_errors_total",
				Help:      "Failed publications, by backend",
			},
			[]string{"backend"},
		),
		dropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "eventbus",
				Name:      "dropped_total",
				Help:      "Events dropped because a local subscriber was full",
			},
			[]string{"kind"},
		),
		subscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "eventbus",
				Name:      "subscribers",
				Help:      "Active local subscribers",
			},
		),
	}
}

func (m *Metrics) RecordPublished(backend string, kind types.EventKind) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(backend, string(kind)).Inc()
}

func (m *Metrics) RecordError(backend string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(backend).Inc()
}

func (m *Metrics) RecordDropped(kind types.EventKind) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.subscribers.Set(float64(n))
}
