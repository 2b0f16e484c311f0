// Package decoder maps a mined transaction and its receipt logs to a
// TransactionDetail of the tracked token contract.
package decoder

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/0xmhha/tokenwallet-go/pkg/contract"
	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

// WalletStateSink receives the wallet initialization transitions caused by
// initializeAccount operations.
type WalletStateSink interface {
	SetInitializationState(ctx context.Context, address string, state types.InitializationState) error
}

// Decoder decodes contract transactions. It keeps no state between calls.
type Decoder struct {
	wallets WalletStateSink
	logger  *zap.Logger
	now     func() time.Time
}

// New creates a decoder. wallets may be nil when no directory is attached.
func New(wallets WalletStateSink, logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{
		wallets: wallets,
		logger:  logger,
		now:     time.Now,
	}
}

// extraction is the outcome of one primary log.
type extraction struct {
	op          contract.Operation
	from        string
	to          string
	by          string
	amount      *decimal.Decimal
	value       *decimal.Decimal
	walletState types.InitializationState
	rank        rank
}

// rank orders competing primary logs of one receipt. A later log replaces
// the current result only when it ranks higher.
type rank int

const (
	// rankImplicit is an approval the contract emits as a side effect of
	// another operation
	rankImplicit rank = iota
	// rankProvisional is a log that may accompany a more specific one
	rankProvisional
	rankFinal
)

// Decode populates detail from a mined transaction and its receipt. Only
// invalid input or an impossible lifecycle transition return an error;
// unrecognized logs are logged and leave the method name unset.
func (d *Decoder) Decode(ctx context.Context, tx *types.ChainTransaction, receipt *gethtypes.Receipt, cd *types.ContractDetail, detail *types.TransactionDetail) error {
	if tx == nil || receipt == nil || detail == nil {
		return errors.New("transaction, receipt and detail are required")
	}
	succeeded := receipt.Status == gethtypes.ReceiptStatusSuccessful

	detail.From = tx.From.Hex()
	detail.GasUsed = receipt.GasUsed
	if tx.GasPrice != nil {
		detail.GasPrice = tx.GasPrice.Uint64()
	}
	detail.Nonce = tx.Nonce
	if detail.Timestamp.IsZero() {
		detail.Timestamp = d.now()
	}
	detail.Value = types.WeiToEther(tx.Value)
	if err := detail.MarkConfirmed(succeeded); err != nil {
		return err
	}

	to := tx.ToAddress()
	if !cd.IsContract(to) {
		detail.To = to
		detail.ClearContractFields()
		return nil
	}
	detail.ContractAddress = cd.Address

	if !succeeded {
		d.revertInitialization(ctx, tx, detail)
		return nil
	}

	var resolved *extraction
	for i, log := range receipt.Logs {
		if len(log.Topics) == 0 {
			d.logger.Warn("log without topic",
				zap.String("tx_hash", detail.Hash),
				zap.Int("log_index", i))
			continue
		}
		decoded, err := contract.DecodeLog(log)
		if err != nil {
			d.logger.Debug("skipping undecodable log",
				zap.String("tx_hash", detail.Hash),
				zap.Int("log_index", i),
				zap.Error(err))
			continue
		}

		switch decoded.Spec.Kind {
		case contract.EventInsufficientFunds:
			detail.NoContractFunds = true
		case contract.EventFee:
			detail.TokenFee = types.ToDecimal(decoded.Uint("tokenFee"), cd.Decimals)
			detail.EtherFee = types.WeiToEther(decoded.Uint("etherFee"))
		case contract.EventPrimary:
			if resolved != nil && resolved.rank == rankFinal {
				continue
			}
			candidate := extract(decoded, tx, len(receipt.Logs), cd.Decimals)
			if resolved == nil || candidate.rank > resolved.rank {
				resolved = candidate
			}
		}
	}

	if resolved == nil {
		d.logger.Warn("no known contract operation in receipt",
			zap.String("tx_hash", detail.Hash),
			zap.Int("logs", len(receipt.Logs)))
		detail.ContractMethodName = ""
		return nil
	}
	d.apply(ctx, resolved, detail)
	return nil
}

func (d *Decoder) apply(ctx context.Context, e *extraction, detail *types.TransactionDetail) {
	detail.ContractMethodName = e.op.MethodName()
	detail.AdminOperation = e.op.IsAdmin()
	if e.from != "" {
		detail.From = e.from
	}
	if e.to != "" {
		detail.To = e.to
	}
	detail.By = e.by
	if e.amount != nil {
		detail.ContractAmount = *e.amount
	}
	if e.value != nil {
		detail.Value = *e.value
	}
	if e.walletState != "" {
		d.setWalletState(ctx, detail.To, e.walletState)
	}
}

// revertInitialization resets the receiver of a failed initializeAccount.
func (d *Decoder) revertInitialization(ctx context.Context, tx *types.ChainTransaction, detail *types.TransactionDetail) {
	receiver := ""
	if detail.ContractMethodName == contract.OpInitializeAccount.MethodName() {
		receiver = detail.To
	}
	if call, err := contract.DecodeCall(tx.Input); err == nil && call.Operation == contract.OpInitializeAccount {
		detail.ContractMethodName = call.Operation.MethodName()
		if target, ok := call.Args["_target"].(common.Address); ok {
			receiver = target.Hex()
			detail.To = receiver
		}
	}
	if detail.ContractMethodName != contract.OpInitializeAccount.MethodName() || receiver == "" {
		return
	}
	d.setWalletState(ctx, receiver, types.WalletStateModified)
}

func (d *Decoder) setWalletState(ctx context.Context, address string, state types.InitializationState) {
	if d.wallets == nil || address == "" {
		return
	}
	if err := d.wallets.SetInitializationState(ctx, address, state); err != nil {
		d.logger.Warn("failed to update wallet initialization state",
			zap.String("wallet", address),
			zap.String("state", string(state)),
			zap.Error(err))
	}
}

func extract(log *contract.DecodedLog, tx *types.ChainTransaction, logCount, decimals int) *extraction {
	e := &extraction{op: log.Spec.Operation, rank: rankFinal}
	token := func(name string) *decimal.Decimal {
		v := types.ToDecimal(log.Uint(name), decimals)
		return &v
	}
	ether := func(name string) *decimal.Decimal {
		v := types.WeiToEther(log.Uint(name))
		return &v
	}
	integer := func(name string) *decimal.Decimal {
		v := types.ToDecimal(log.Uint(name), 0)
		return &v
	}

	switch log.Spec.Name {
	case contract.EventTransfer, contract.EventVestingTransfer:
		e.from = log.Address("from")
		e.to = log.Address("to")
		if log.Spec.Name == contract.EventTransfer {
			e.amount = token("value")
		} else {
			e.amount = token("vestingAmount")
		}
		if !types.SameAddress(tx.From.Hex(), e.from) {
			e.by = tx.From.Hex()
			e.op = contract.OpTransferFrom
		}
		e.rank = rankProvisional
	case contract.EventApproval:
		e.from = log.Address("owner")
		e.to = log.Address("spender")
		e.amount = token("value")
	case contract.EventApprovedAccount:
		e.from = tx.From.Hex()
		e.to = log.Address("target")
		if logCount > 1 {
			e.rank = rankImplicit
		}
	case contract.EventDisapprovedAccount:
		e.from = tx.From.Hex()
		e.to = log.Address("target")
		if logCount > 1 {
			e.rank = rankProvisional
		}
	case contract.EventAddedAdmin:
		e.to = log.Address("target")
		e.amount = integer("level")
	case contract.EventRemovedAdmin:
		e.to = log.Address("target")
	case contract.EventUpgraded:
		e.amount = integer("implementationVersion")
		e.to = log.Address("newImplementation")
	case contract.EventUpgradedData:
		e.amount = integer("dataVersion")
		e.to = log.Address("newDataAddress")
	case contract.EventDepositReceived:
		e.from = log.Address("from")
		e.value = ether("amount")
	case contract.EventTokenPriceChanged:
		e.amount = ether("tokenPrice")
	case contract.EventVesting:
		e.to = log.Address("to")
		e.amount = token("vestingAmount")
	case contract.EventTransferOwnership:
		e.to = log.Address("newOwner")
	case contract.EventInitialization:
		e.from = log.Address("from")
		e.to = log.Address("to")
		e.amount = token("tokenAmount")
		e.value = ether("etherAmount")
		e.walletState = types.WalletStateInitialized
	case contract.EventReward:
		e.from = log.Address("from")
		e.to = log.Address("to")
		e.value = token("tokenAmount")
		e.amount = token("rewardAmount")
	case contract.EventContractPaused, contract.EventContractUnPaused:
		e.from = tx.From.Hex()
	}
	return e
}
