package admin

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/0xmhha/tokenwallet-go/pkg/contract"
	"github.com/0xmhha/tokenwallet-go/pkg/storage"
	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

// Request describes one admin operation. Amounts are human decimals: ether
// amounts in ether, token amounts in token units.
type Request struct {
	Receiver string

	EtherAmount  decimal.Decimal
	TokenAmount  decimal.Decimal
	RewardAmount decimal.Decimal

	Issuer  string
	Label   string
	Message string
}

// call is a signed-transaction draft.
type call struct {
	op       contract.Operation
	to       common.Address
	value    *big.Int
	data     []byte
	receiver string
	// ether and amount fill the Value and ContractAmount of the record
	ether  decimal.Decimal
	amount decimal.Decimal
}

// InitializeAccount sends tokens and ether to a new wallet through the
// contract and marks the wallet PENDING.
func (f *Facade) InitializeAccount(ctx context.Context, req Request) (tx *types.TransactionDetail, err error) {
	defer func() { f.metrics.recordOperation(contract.OpInitializeAccount.MethodName(), err) }()

	receiver, err := parseReceiver(req.Receiver)
	if err != nil {
		return nil, err
	}
	if req.TokenAmount.IsNegative() || req.EtherAmount.IsNegative() {
		return nil, fmt.Errorf("%w: token %s, ether %s", ErrInvalidAmount, req.TokenAmount, req.EtherAmount)
	}
	key, admin, err := f.checkAdmin(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := f.store.FindWallet(ctx, receiver.Hex()); errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWallet, receiver.Hex())
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up wallet %s: %w", receiver.Hex(), err)
	}
	initialized, err := f.reader.IsInitializedAccount(ctx, receiver)
	if err != nil {
		return nil, err
	}
	if initialized {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, receiver.Hex())
	}

	decimals, err := f.decimals(ctx)
	if err != nil {
		return nil, err
	}
	tokens := types.ToBaseUnits(req.TokenAmount, decimals)
	wei := types.EtherToWei(req.EtherAmount)
	if err := f.requireTokens(ctx, admin, tokens); err != nil {
		return nil, err
	}
	if err := f.requireEther(ctx, admin, wei); err != nil {
		return nil, err
	}

	data, err := contract.PackInitializeAccount(receiver, tokens)
	if err != nil {
		return nil, err
	}
	tx, err = f.submit(ctx, key, admin, req, call{
		op:       contract.OpInitializeAccount,
		to:       common.HexToAddress(f.cfg.ContractAddress),
		value:    wei,
		data:     data,
		receiver: receiver.Hex(),
		ether:    req.EtherAmount,
		amount:   req.TokenAmount,
	})
	if err != nil {
		return nil, err
	}

	if err := f.store.SetInitializationState(ctx, receiver.Hex(), types.WalletStatePending); err != nil {
		f.logger.Warn("failed to mark wallet pending initialization",
			zap.String("wallet", receiver.Hex()),
			zap.Error(err))
	}
	return tx, nil
}

// SendEther sends a plain ether transfer from the admin wallet.
func (f *Facade) SendEther(ctx context.Context, req Request) (tx *types.TransactionDetail, err error) {
	defer func() { f.metrics.recordOperation("sendEther", err) }()

	receiver, err := parseReceiver(req.Receiver)
	if err != nil {
		return nil, err
	}
	if !req.EtherAmount.IsPositive() {
		return nil, fmt.Errorf("%w: ether amount must be positive", ErrInvalidAmount)
	}
	key, admin, err := f.checkAdmin(ctx)
	if err != nil {
		return nil, err
	}
	wei := types.EtherToWei(req.EtherAmount)
	if err := f.requireEther(ctx, admin, wei); err != nil {
		return nil, err
	}

	return f.submit(ctx, key, admin, req, call{
		op:       contract.OpUnknown,
		to:       receiver,
		value:    wei,
		receiver: receiver.Hex(),
		ether:    req.EtherAmount,
	})
}

// SendToken transfers tokens from the admin wallet to an approved receiver.
func (f *Facade) SendToken(ctx context.Context, req Request) (tx *types.TransactionDetail, err error) {
	defer func() { f.metrics.recordOperation(contract.OpTransfer.MethodName(), err) }()

	receiver, err := parseReceiver(req.Receiver)
	if err != nil {
		return nil, err
	}
	if !req.TokenAmount.IsPositive() {
		return nil, fmt.Errorf("%w: token amount must be positive", ErrInvalidAmount)
	}
	key, admin, err := f.checkAdmin(ctx)
	if err != nil {
		return nil, err
	}
	if err := f.requireApproved(ctx, receiver); err != nil {
		return nil, err
	}
	decimals, err := f.decimals(ctx)
	if err != nil {
		return nil, err
	}
	tokens := types.ToBaseUnits(req.TokenAmount, decimals)
	if err := f.requireTokens(ctx, admin, tokens); err != nil {
		return nil, err
	}

	data, err := contract.PackTransfer(receiver, tokens)
	if err != nil {
		return nil, err
	}
	return f.submit(ctx, key, admin, req, call{
		op:       contract.OpTransfer,
		to:       common.HexToAddress(f.cfg.ContractAddress),
		value:    new(big.Int),
		data:     data,
		receiver: receiver.Hex(),
		amount:   req.TokenAmount,
	})
}

// Reward transfers TokenAmount tokens and credits RewardAmount as reward
// balance to an approved receiver.
func (f *Facade) Reward(ctx context.Context, req Request) (tx *types.TransactionDetail, err error) {
	defer func() { f.metrics.recordOperation(contract.OpReward.MethodName(), err) }()

	receiver, err := parseReceiver(req.Receiver)
	if err != nil {
		return nil, err
	}
	if !req.TokenAmount.IsPositive() {
		return nil, fmt.Errorf("%w: token amount must be positive", ErrInvalidAmount)
	}
	if req.RewardAmount.IsNegative() {
		return nil, fmt.Errorf("%w: reward amount must not be negative", ErrInvalidAmount)
	}
	key, admin, err := f.checkAdmin(ctx)
	if err != nil {
		return nil, err
	}
	if err := f.requireApproved(ctx, receiver); err != nil {
		return nil, err
	}
	decimals, err := f.decimals(ctx)
	if err != nil {
		return nil, err
	}

	data, err := contract.PackReward(receiver,
		types.ToBaseUnits(req.TokenAmount, decimals),
		types.ToBaseUnits(req.RewardAmount, decimals))
	if err != nil {
		return nil, err
	}
	return f.submit(ctx, key, admin, req, call{
		op:       contract.OpReward,
		to:       common.HexToAddress(f.cfg.ContractAddress),
		value:    new(big.Int),
		data:     data,
		receiver: receiver.Hex(),
		ether:    req.TokenAmount,
		amount:   req.RewardAmount,
	})
}

func parseReceiver(address string) (common.Address, error) {
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidReceiver, address)
	}
	return common.HexToAddress(address), nil
}

// checkAdmin loads the admin key and verifies its live admin level.
func (f *Facade) checkAdmin(ctx context.Context) (*ecdsa.PrivateKey, common.Address, error) {
	key, err := f.adminKey(ctx)
	if err != nil {
		return nil, common.Address{}, err
	}
	admin := crypto.PubkeyToAddress(key.PublicKey)
	level, err := f.reader.AdminLevel(ctx, admin)
	if err != nil {
		return nil, common.Address{}, err
	}
	if level < f.cfg.MinLevel {
		return nil, common.Address{}, fmt.Errorf("%w: level %d, required %d", ErrAdminLevelTooLow, level, f.cfg.MinLevel)
	}
	return key, admin, nil
}

func (f *Facade) requireApproved(ctx context.Context, receiver common.Address) error {
	approved, err := f.reader.IsApprovedAccount(ctx, receiver)
	if err != nil {
		return err
	}
	if !approved {
		return fmt.Errorf("%w: %s", ErrReceiverNotApproved, receiver.Hex())
	}
	return nil
}

func (f *Facade) requireTokens(ctx context.Context, admin common.Address, amount *big.Int) error {
	balance, err := f.reader.BalanceOf(ctx, admin)
	if err != nil {
		return err
	}
	if balance == nil || balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: balance %s, required %s", ErrInsufficientTokenBalance, balance, amount)
	}
	return nil
}

func (f *Facade) requireEther(ctx context.Context, admin common.Address, wei *big.Int) error {
	balance, err := f.reader.EtherBalance(ctx, admin)
	if err != nil {
		return err
	}
	if balance == nil || balance.Cmp(wei) < 0 {
		return fmt.Errorf("%w: balance %s wei, required %s wei", ErrInsufficientEtherBalance, balance, wei)
	}
	return nil
}

func (f *Facade) decimals(ctx context.Context) (int, error) {
	cd, err := f.queue.ContractDetail(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load contract detail: %w", err)
	}
	return cd.Decimals, nil
}

// nextNonce returns the nonce of the next admin transaction. nonceMu must
// be held.
func (f *Facade) nextNonce(ctx context.Context, admin common.Address) (uint64, error) {
	nonce, err := f.chain.GetNonce(ctx, admin.Hex())
	if err != nil {
		return 0, err
	}
	local, ok, err := f.store.MaxUsedNonce(ctx, f.cfg.NetworkID, admin.Hex())
	if err != nil {
		return 0, fmt.Errorf("failed to read local nonces: %w", err)
	}
	if ok && local+1 > nonce {
		nonce = local + 1
	}
	return nonce, nil
}

// submit signs c with the next admin nonce and queues it.
func (f *Facade) submit(ctx context.Context, key *ecdsa.PrivateKey, admin common.Address, req Request, c call) (*types.TransactionDetail, error) {
	f.nonceMu.Lock()
	defer f.nonceMu.Unlock()

	nonce, err := f.nextNonce(ctx, admin)
	if err != nil {
		return nil, err
	}

	to := c.to
	signed, err := gethtypes.SignNewTx(key, gethtypes.LatestSignerForChainID(f.cfg.ChainID), &gethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: new(big.Int).SetUint64(f.cfg.GasPrice),
		Gas:      f.cfg.GasLimit,
		To:       &to,
		Value:    c.value,
		Data:     c.data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	tx := types.NewOutgoingTransaction(f.cfg.NetworkID, signed.Hash().Hex(), hexutil.Encode(raw), f.now())
	tx.From = admin.Hex()
	tx.To = c.receiver
	tx.Nonce = nonce
	tx.GasPrice = f.cfg.GasPrice
	tx.Value = c.ether
	tx.ContractAmount = c.amount
	tx.Issuer = req.Issuer
	tx.Label = req.Label
	tx.Message = req.Message
	if c.op != contract.OpUnknown {
		tx.ContractAddress = f.cfg.ContractAddress
		tx.ContractMethodName = c.op.MethodName()
	}

	if err := f.queue.Enqueue(ctx, tx); err != nil {
		return nil, err
	}
	f.logger.Info("admin transaction queued",
		zap.String("tx_hash", tx.Hash),
		zap.String("operation", c.op.String()),
		zap.String("receiver", c.receiver),
		zap.Uint64("nonce", nonce))
	return tx, nil
}
