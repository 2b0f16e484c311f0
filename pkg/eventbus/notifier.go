// Package eventbus delivers engine notifications to in-process subscribers
// and to external brokers.
package eventbus

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

// Notifier publishes engine events.
type Notifier interface {
	Publish(ctx context.Context, event types.Event) error
}

// Publisher is a Notifier backed by a resource that must be released.
type Publisher interface {
	Notifier
	Name() string
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, types.Event) error { return nil }

// Fanout publishes every event to all of its publishers. A failing backend
// is logged and reported, but never prevents delivery to the others.
type Fanout struct {
	publishers []Publisher
	logger     *zap.Logger
	metrics    *Metrics
}

// NewFanout combines publishers.
func NewFanout(logger *zap.Logger, metrics *Metrics, publishers ...Publisher) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{
		publishers: publishers,
		logger:     logger,
		metrics:    metrics,
	}
}

// Publish implements Notifier.
func (f *Fanout) Publish(ctx context.Context, event types.Event) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, event); err != nil {
			f.metrics.RecordError(p.Name())
			f.logger.Warn("failed to publish event",
				zap.String("backend", p.Name()),
				zap.String("kind", string(event.Kind)),
				zap.String("key", event.Key()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		f.metrics.RecordPublished(p.Name(), event.Kind)
	}
	return errors.Join(errs...)
}

// Len returns the number of attached publishers.
func (f *Fanout) Len() int {
	return len(f.publishers)
}

// Close releases every publisher.
func (f *Fanout) Close() error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
