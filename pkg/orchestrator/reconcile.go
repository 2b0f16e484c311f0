package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/0xmhha/tokenwallet-go/internal/logger"
	"github.com/0xmhha/tokenwallet-go/pkg/contract"
	"github.com/0xmhha/tokenwallet-go/pkg/storage"
	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

// Reconcile aligns the local record of hash with the chain. With fromStore
// the transaction must exist locally and is checked for pending validity
// when the node does not know it; otherwise hash comes from a block scan and
// must be mined.
func (o *Orchestrator) Reconcile(ctx context.Context, hash string, fromStore bool) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.Reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("tx.hash", hash),
		attribute.Bool("from_store", fromStore),
	)

	unlock := o.txLocks.Lock(hash)
	defer unlock()

	err := o.reconcileLocked(ctx, hash, fromStore)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (o *Orchestrator) reconcileLocked(ctx context.Context, hash string, fromStore bool) error {
	log := logger.ForTransaction(o.logger, o.cfg.NetworkID, hash)

	local, err := o.store.GetTransaction(ctx, o.cfg.NetworkID, hash)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		local = nil
	case err != nil:
		return fmt.Errorf("failed to load transaction %s: %w", hash, err)
	}
	if fromStore {
		if local == nil {
			return fmt.Errorf("%w: %s", ErrTransactionMissing, hash)
		}
		if !local.Pending {
			return nil
		}
	}

	chainTx, err := o.chain.GetTransaction(ctx, hash)
	if err != nil {
		return fmt.Errorf("failed to fetch transaction %s: %w", hash, err)
	}
	if chainTx == nil {
		if !fromStore {
			return fmt.Errorf("%w: %s", ErrNotOnChain, hash)
		}
		return o.checkPendingValidity(ctx, local)
	}
	if !chainTx.IsMined() {
		if !fromStore {
			return fmt.Errorf("%w: %s", ErrNotMined, hash)
		}
		log.Debug("transaction still waiting to be mined")
		return nil
	}

	cd, err := o.ContractDetail(ctx)
	if err != nil {
		return err
	}

	created := false
	if local == nil {
		if !cd.IsContract(chainTx.ToAddress()) {
			log.Debug("ignoring scanned transaction not sent to the contract",
				zap.String("to", chainTx.ToAddress()))
			return nil
		}
		local = types.NewObservedTransaction(o.cfg.NetworkID, hash, o.now())
		created = true
	}

	receipt, err := o.chain.GetTransactionReceipt(ctx, hash)
	if err != nil {
		return fmt.Errorf("failed to fetch receipt %s: %w", hash, err)
	}
	if receipt == nil {
		return fmt.Errorf("%w: %s", ErrReceiptMissing, hash)
	}

	wasPending, wasSucceeded := local.Pending, local.Succeeded
	if err := o.decoder.Decode(ctx, chainTx, receipt, cd, local); err != nil {
		return fmt.Errorf("failed to decode transaction %s: %w", hash, err)
	}

	wallets := o.knownWallets(ctx, local)
	if created && len(wallets) == 0 {
		log.Debug("ignoring contract transaction without known wallet",
			zap.String("method", local.ContractMethodName))
		return nil
	}

	if err := o.store.SaveTransaction(ctx, local); err != nil {
		return fmt.Errorf("failed to save transaction %s: %w", hash, err)
	}

	if wasPending == local.Pending && wasSucceeded == local.Succeeded {
		return nil
	}

	if local.Succeeded {
		o.metrics.recordOutcome(outcomeMinedSuccess)
	} else {
		o.metrics.recordOutcome(outcomeMinedFailure)
	}
	log.Info("transaction mined",
		zap.Bool("succeeded", local.Succeeded),
		zap.String("method", local.ContractMethodName),
		zap.Uint64("block_number", bigToUint64(chainTx.BlockNumber)))
	o.publishMined(ctx, local)

	o.refreshAfterMined(ctx, local, wallets)
	return nil
}

// checkPendingValidity resolves a locally pending transaction the node does
// not know: it times out, runs out of attempts, is superseded, or stays.
func (o *Orchestrator) checkPendingValidity(ctx context.Context, tx *types.TransactionDetail) error {
	log := logger.ForTransaction(o.logger, o.cfg.NetworkID, tx.Hash)

	var (
		outcome string
		err     error
	)
	switch {
	case o.cfg.PendingTimeout > 0 && o.now().Sub(pendingSince(tx)) > o.cfg.PendingTimeout:
		outcome, err = outcomeTimedOut, tx.MarkTimedOut()
	case tx.SendingAttemptCount > o.cfg.MaxAttemptsToSend && tx.CurrentState() == types.TxStateUnsent:
		outcome, err = outcomeFailed, tx.MarkFailed()
	default:
		superseded, serr := o.isSuperseded(ctx, tx)
		if serr != nil {
			return serr
		}
		if !superseded {
			return nil
		}
		outcome, err = outcomeSuperseded, tx.MarkFailed()
	}
	if err != nil {
		return err
	}

	if err := o.store.SaveTransaction(ctx, tx); err != nil {
		return fmt.Errorf("failed to save transaction %s: %w", tx.Hash, err)
	}
	o.metrics.recordOutcome(outcome)
	log.Warn("pending transaction resolved without receipt",
		zap.String("outcome", outcome),
		zap.Int("attempts", tx.SendingAttemptCount),
		zap.Time("created", tx.Timestamp))
	o.publishMined(ctx, tx)
	return nil
}

// pendingSince is the start of the mining wait: the last broadcast for a
// transaction this engine sends, the creation time otherwise.
func pendingSince(tx *types.TransactionDetail) time.Time {
	if tx.HasRawTransaction() && !tx.SentTimestamp.IsZero() {
		return tx.SentTimestamp
	}
	return tx.Timestamp
}

// isSuperseded reports whether the sender already mined a transaction with
// the nonce of tx.
func (o *Orchestrator) isSuperseded(ctx context.Context, tx *types.TransactionDetail) (bool, error) {
	if tx.From == "" {
		return false, nil
	}
	next, err := o.chain.GetLastMinedNonce(ctx, tx.From)
	if err != nil {
		return false, fmt.Errorf("failed to read mined nonce of %s: %w", tx.From, err)
	}
	return tx.Nonce < next, nil
}

// knownWallets returns the registered wallets among the parties of tx.
func (o *Orchestrator) knownWallets(ctx context.Context, tx *types.TransactionDetail) []string {
	var result []string
	seen := make(map[string]bool, 3)
	for _, addr := range []string{tx.From, tx.To, tx.By} {
		key := types.NormalizeAddress(addr)
		if addr == "" || seen[key] {
			continue
		}
		seen[key] = true
		if _, err := o.store.FindWallet(ctx, addr); err == nil {
			result = append(result, addr)
		} else if !errors.Is(err, storage.ErrNotFound) {
			o.logger.Warn("failed to look up wallet", zap.String("wallet", addr), zap.Error(err))
		}
	}
	return result
}

// refreshAfterMined re-reads the contract and wallet fields the mined
// operation may have changed. Failures are logged; the transaction record is
// already durable.
func (o *Orchestrator) refreshAfterMined(ctx context.Context, tx *types.TransactionDetail, wallets []string) {
	if o.reader == nil {
		return
	}
	observed := contract.OperationSetFromMethods(tx.ContractMethodName)

	decimals := 0
	o.contractMu.Lock()
	if o.contract != nil {
		if tx.ContractMethodName != "" {
			updated := *o.contract
			if err := o.reader.RefreshContractDetail(ctx, &updated, observed); err != nil {
				o.logger.Warn("failed to refresh contract detail", zap.Error(err))
			} else if err := o.store.SaveContractDetail(ctx, &updated); err != nil {
				o.logger.Warn("failed to save contract detail", zap.Error(err))
			} else {
				o.contract = &updated
			}
		}
		decimals = o.contract.Decimals
	}
	o.contractMu.Unlock()

	for _, addr := range wallets {
		if err := o.refreshWallet(ctx, addr, decimals, observed); err != nil {
			o.logger.Warn("failed to refresh wallet", zap.String("wallet", addr), zap.Error(err))
			continue
		}
		o.publish(ctx, types.Event{Kind: types.EventWalletModified, Wallet: addr})
	}
}

func (o *Orchestrator) refreshWallet(ctx context.Context, addr string, decimals int, observed contract.OperationSet) error {
	w, err := o.store.FindWallet(ctx, addr)
	if err != nil {
		return err
	}
	if err := o.reader.RefreshWallet(ctx, w, decimals, observed); err != nil {
		return err
	}
	return o.store.UpdateWallet(ctx, addr, func(stored *types.Wallet) error {
		stored.EtherBalance = w.EtherBalance
		stored.TokenBalance = w.TokenBalance
		stored.RewardBalance = w.RewardBalance
		stored.VestingBalance = w.VestingBalance
		stored.AdminLevel = w.AdminLevel
		stored.IsApproved = w.IsApproved
		stored.IsInitialized = w.IsInitialized
		stored.Refreshed = true
		return nil
	})
}

// loadContractLocked fills the contract cache from the store, reading the
// chain for a snapshot never taken. contractMu must be held.
func (o *Orchestrator) loadContractLocked(ctx context.Context) error {
	if o.contract != nil {
		return nil
	}
	cd, err := o.store.GetContractDetail(ctx, o.cfg.NetworkID, o.cfg.ContractAddress)
	if errors.Is(err, storage.ErrNotFound) {
		cd = &types.ContractDetail{Address: o.cfg.ContractAddress, NetworkID: o.cfg.NetworkID}
	} else if err != nil {
		return fmt.Errorf("failed to load contract detail: %w", err)
	}

	if cd.Decimals == 0 && o.reader != nil {
		if err := o.reader.RefreshContractDetail(ctx, cd, contract.NewOperationSet()); err != nil {
			return fmt.Errorf("failed to read contract detail: %w", err)
		}
		cd.NetworkID = o.cfg.NetworkID
		if err := o.store.SaveContractDetail(ctx, cd); err != nil {
			return fmt.Errorf("failed to save contract detail: %w", err)
		}
	}
	o.contract = cd
	return nil
}
