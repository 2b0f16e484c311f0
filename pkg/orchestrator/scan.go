package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/0xmhha/tokenwallet-go/pkg/storage"
)

// ScanResult summarizes one catch-up scan.
type ScanResult struct {
	FromBlock   uint64
	ToBlock     uint64
	Hashes      int
	Skipped     int
	Failed      int
	Advanced    bool
	Initialized bool
}

// ScanNewerBlocks reconciles every contract transaction between the
// watermark and the chain head. The watermark only moves when the whole
// range was reconciled.
func (o *Orchestrator) ScanNewerBlocks(ctx context.Context) (result ScanResult, err error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.ScanNewerBlocks")
	start := time.Now()
	defer func() {
		span.SetAttributes(
			attribute.Int64("scan.from", int64(result.FromBlock)),
			attribute.Int64("scan.to", int64(result.ToBlock)),
			attribute.Int("scan.hashes", result.Hashes),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		o.metrics.observePass("scan", start, err)
	}()

	o.scanMu.Lock()
	defer o.scanMu.Unlock()

	latest, err := o.chain.GetLatestBlockNumber(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to get latest block: %w", err)
	}

	watermark, ok, err := o.store.LastWatchedBlock(ctx, o.cfg.NetworkID)
	if err != nil {
		return result, fmt.Errorf("failed to read watermark: %w", err)
	}
	if !ok {
		initial := o.cfg.StartBlock
		if initial == 0 || initial > latest {
			initial = latest
		}
		if _, err := o.store.AdvanceLastWatchedBlock(ctx, o.cfg.NetworkID, initial); err != nil {
			return result, fmt.Errorf("failed to initialize watermark: %w", err)
		}
		o.chain.SetWatermark(initial)
		o.metrics.setWatermark(initial, latest)
		o.logger.Info("watermark initialized", zap.Uint64("block_number", initial))
		result.ToBlock = initial
		result.Initialized = true
		if initial == latest {
			return result, nil
		}
		watermark = initial
	}

	o.metrics.setWatermark(watermark, latest)
	if watermark >= latest {
		return result, nil
	}

	result.FromBlock, result.ToBlock = watermark+1, latest
	hashes, err := o.chain.GetContractTransactionHashes(ctx, o.cfg.ContractAddress, result.FromBlock, result.ToBlock)
	if err != nil {
		return result, fmt.Errorf("failed to list contract transactions: %w", err)
	}
	result.Hashes = len(hashes)

	var errs []error
	for _, hash := range hashes {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if o.alreadySucceeded(ctx, hash) {
			result.Skipped++
			continue
		}
		if err := o.Reconcile(ctx, hash, false); err != nil {
			result.Failed++
			o.logger.Warn("failed to reconcile scanned transaction",
				zap.String("tx_hash", hash),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return result, fmt.Errorf("%w: blocks %d-%d: %w", ErrScanIncomplete, result.FromBlock, result.ToBlock, errors.Join(errs...))
	}

	moved, err := o.store.AdvanceLastWatchedBlock(ctx, o.cfg.NetworkID, result.ToBlock)
	if err != nil {
		return result, fmt.Errorf("failed to advance watermark: %w", err)
	}
	result.Advanced = moved
	o.chain.SetWatermark(result.ToBlock)
	o.metrics.setWatermark(result.ToBlock, latest)

	o.logger.Debug("scanned blocks",
		zap.Uint64("from_block", result.FromBlock),
		zap.Uint64("to_block", result.ToBlock),
		zap.Int("hashes", result.Hashes),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func (o *Orchestrator) alreadySucceeded(ctx context.Context, hash string) bool {
	tx, err := o.store.GetTransaction(ctx, o.cfg.NetworkID, hash)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			o.logger.Warn("failed to read transaction", zap.String("tx_hash", hash), zap.Error(err))
		}
		return false
	}
	return !tx.Pending && tx.Succeeded
}
