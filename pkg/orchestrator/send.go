package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/0xmhha/tokenwallet-go/internal/logger"
	"github.com/0xmhha/tokenwallet-go/pkg/storage"
	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

// node error fragments meaning the payload is already in the pool
var alreadyKnownErrors = []string{
	"already known",
	"known transaction",
	"already imported",
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, fragment := range alreadyKnownErrors {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// sendPass holds the per-pass bookkeeping of SendRawTransactions.
type sendPass struct {
	served map[string]bool
	sent   int
}

// Enqueue stores a signed transaction in the send queue and requests a
// send pass.
func (o *Orchestrator) Enqueue(ctx context.Context, tx *types.TransactionDetail) error {
	if tx.NetworkID != o.cfg.NetworkID {
		return fmt.Errorf("%w: network %d, expected %d", ErrNotQueueable, tx.NetworkID, o.cfg.NetworkID)
	}
	if !tx.HasRawTransaction() || tx.CurrentState() != types.TxStateUnsent {
		return fmt.Errorf("%w: %s is not an unsent signed transaction", ErrNotQueueable, tx.Hash)
	}
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotQueueable, err)
	}

	unlock := o.txLocks.Lock(tx.Hash)
	err := o.store.SaveTransaction(ctx, tx)
	unlock()
	if err != nil {
		return fmt.Errorf("failed to queue transaction %s: %w", tx.Hash, err)
	}

	o.logger.Info("transaction queued",
		zap.String("tx_hash", tx.Hash),
		zap.String("method", tx.ContractMethodName),
		zap.Uint64("nonce", tx.Nonce))

	if _, send := o.triggers(); send != nil {
		send()
	}
	return nil
}

// SendRawTransactions broadcasts queued transactions in nonce order. The
// node's answers arrive asynchronously; WaitInflight waits for them.
func (o *Orchestrator) SendRawTransactions(ctx context.Context) (err error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.SendRawTransactions")
	start := time.Now()
	pass := &sendPass{served: make(map[string]bool)}
	defer func() {
		span.SetAttributes(attribute.Int("send.broadcasts", pass.sent))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		o.metrics.observePass("send", start, err)
	}()

	o.sendMu.Lock()
	defer o.sendMu.Unlock()

	queue, err := o.store.TransactionsToSend(ctx, o.cfg.NetworkID)
	if err != nil {
		return fmt.Errorf("failed to list transactions to send: %w", err)
	}

	var errs []error
	for _, queued := range queue {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		unlock := o.txLocks.Lock(queued.Hash)
		err := o.sendOne(ctx, queued.Hash, pass)
		unlock()
		if err != nil {
			o.logger.Warn("failed to send transaction",
				zap.String("tx_hash", queued.Hash),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) sendOne(ctx context.Context, hash string, pass *sendPass) error {
	tx, err := o.store.GetTransaction(ctx, o.cfg.NetworkID, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if !tx.Pending || !tx.HasRawTransaction() {
		return nil
	}
	log := logger.ForTransaction(o.logger, o.cfg.NetworkID, hash)
	sender := types.NormalizeAddress(tx.From)

	if tx.SendingAttemptCount > o.cfg.MaxAttemptsToSend {
		if err := tx.MarkFailed(); err != nil {
			return err
		}
		if err := o.store.SaveTransaction(ctx, tx); err != nil {
			return err
		}
		o.metrics.recordOutcome(outcomeFailed)
		log.Warn("giving up on transaction after too many broadcasts",
			zap.Int("attempts", tx.SendingAttemptCount))
		o.publishMined(ctx, tx)
		return nil
	}

	state := tx.CurrentState()
	if state == types.TxStateSent && o.now().Sub(tx.SentTimestamp) < o.cfg.ResendInterval {
		return nil
	}

	if !tx.Boost {
		if pass.served[sender] {
			log.Debug("sender already served in this pass")
			return nil
		}
		inFlight, err := o.store.CountPendingSent(ctx, o.cfg.NetworkID, tx.From)
		if err != nil {
			return err
		}
		if state == types.TxStateSent {
			inFlight--
		}
		if inFlight >= o.cfg.MaxParallelPendingTransactions {
			log.Debug("sender has too many transactions in flight", zap.Int("in_flight", inFlight))
			return nil
		}
	}

	pass.served[sender] = true
	if err := tx.MarkSent(o.now()); err != nil {
		return err
	}
	if err := o.store.SaveTransaction(ctx, tx); err != nil {
		return err
	}
	pass.sent++
	o.metrics.recordSent()
	log.Info("broadcasting transaction",
		zap.Int("attempt", tx.SendingAttemptCount),
		zap.Uint64("nonce", tx.Nonce),
		zap.Bool("boost", tx.Boost))
	o.publish(ctx, types.Event{Kind: types.EventTransactionSent, Transaction: tx.Clone()})

	sendCtx := context.WithoutCancel(ctx)
	results := o.chain.SendRawTransaction(sendCtx, tx.RawTransaction)
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		o.completeSend(sendCtx, hash, <-results)
	}()
	return nil
}

// completeSend applies the node's answer to a broadcast.
func (o *Orchestrator) completeSend(ctx context.Context, hash string, result types.SendResult) {
	log := logger.ForTransaction(o.logger, o.cfg.NetworkID, hash)

	unlock := o.txLocks.Lock(hash)
	defer unlock()

	tx, err := o.store.GetTransaction(ctx, o.cfg.NetworkID, hash)
	if err != nil {
		log.Warn("broadcast completed for unknown transaction", zap.Error(err))
		return
	}
	if !tx.Pending {
		return
	}

	if result.Err != nil {
		if isAlreadyKnown(result.Err) {
			log.Debug("node already knows transaction")
			return
		}
		o.metrics.recordSendError("rejected")
		log.Warn("broadcast rejected, requeueing",
			zap.Int("attempts", tx.SendingAttemptCount),
			zap.Error(result.Err))
		if err := tx.Requeue(); err != nil {
			log.Error("failed to requeue transaction", zap.Error(err))
			return
		}
		if err := o.store.SaveTransaction(ctx, tx); err != nil {
			log.Error("failed to save requeued transaction", zap.Error(err))
		}
		return
	}

	if result.Hash == "" || strings.EqualFold(result.Hash, hash) {
		return
	}

	unlockNew := o.txLocks.Lock(result.Hash)
	defer unlockNew()

	tx.Hash = result.Hash
	if err := o.store.ReplaceTransactionHash(ctx, hash, tx); err != nil {
		log.Error("failed to adopt node hash", zap.String("node_hash", result.Hash), zap.Error(err))
		return
	}
	o.metrics.recordAdopted()
	log.Info("adopted transaction hash returned by node", zap.String("node_hash", result.Hash))
}

// WaitInflight blocks until every broadcast answer was processed or ctx ends.
func (o *Orchestrator) WaitInflight(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
