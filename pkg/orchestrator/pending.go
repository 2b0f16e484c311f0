package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// CheckPendingTransactions reconciles every locally pending transaction.
// Failures of single transactions do not stop the pass; they are joined
// into the returned error.
func (o *Orchestrator) CheckPendingTransactions(ctx context.Context) (err error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.CheckPendingTransactions")
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		o.metrics.observePass("pending", start, err)
	}()

	pending, err := o.store.PendingTransactions(ctx, o.cfg.NetworkID)
	if err != nil {
		return fmt.Errorf("failed to list pending transactions: %w", err)
	}
	span.SetAttributes(attribute.Int("pending.count", len(pending)))

	var errs []error
	for _, tx := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := o.Reconcile(ctx, tx.Hash, true); err != nil {
			o.logger.Warn("failed to check pending transaction",
				zap.String("tx_hash", tx.Hash),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
