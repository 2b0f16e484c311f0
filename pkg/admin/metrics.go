package admin

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultQueued   = "queued"
	resultRejected = "rejected"
	resultError    = "error"
)

// businessErrors are rejections of a request, as opposed to failures
var businessErrors = []error{
	ErrAdminWalletMissing,
	ErrAdminLevelTooLow,
	ErrReceiverNotApproved,
	ErrAlreadyInitialized,
	ErrUnknownWallet,
	ErrInsufficientTokenBalance,
	ErrInsufficientEtherBalance,
	ErrInvalidAmount,
	ErrInvalidReceiver,
}

// IsBusinessError reports whether err rejects the request itself.
func IsBusinessError(err error) bool {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Metrics holds Prometheus metrics of admin operations.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
}

// NewMetrics registers the admin metrics on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "tokenwallet"
	}
	return &Metrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "admin",
				Name:      "operations_total",
				Help:      "Admin operations, by operation and result",
			},
			[]string{"operation", "result"},
		),
	}
}

func (m *Metrics) recordOperation(operation string, err error) {
	if m == nil {
		return
	}
	result := resultQueued
	switch {
	case err == nil:
	case IsBusinessError(err):
		result = resultRejected
	default:
		result = resultError
	}
	m.operations.WithLabelValues(operation, result).Inc()
}
