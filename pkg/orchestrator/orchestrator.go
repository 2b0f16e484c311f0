// Package orchestrator reconciles the local transaction store with chain
// truth and drives the broadcast of signed transactions.
package orchestrator

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/0xmhha/tokenwallet-go/internal/constants"
	"github.com/0xmhha/tokenwallet-go/pkg/contract"
	"github.com/0xmhha/tokenwallet-go/pkg/decoder"
	"github.com/0xmhha/tokenwallet-go/pkg/eventbus"
	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

const tracerName = "github.com/0xmhha/tokenwallet-go/pkg/orchestrator"

var (
	// ErrTransactionMissing is returned when a transaction expected in the
	// local store is absent
	ErrTransactionMissing = errors.New("transaction missing from local store")

	// ErrNotOnChain is returned when a scanned hash is unknown to the node
	ErrNotOnChain = errors.New("transaction not found on chain")

	// ErrNotMined is returned when a scanned transaction has no block
	ErrNotMined = errors.New("scanned transaction is not mined")

	// ErrReceiptMissing is returned when a mined transaction has no receipt yet
	ErrReceiptMissing = errors.New("receipt not available for mined transaction")

	// ErrScanIncomplete is returned when part of a block range failed and the
	// watermark was kept
	ErrScanIncomplete = errors.New("block range scan incomplete")

	// ErrNotQueueable is returned by Enqueue for transactions that cannot be sent
	ErrNotQueueable = errors.New("transaction cannot be queued for sending")
)

// Chain is the node access the orchestrator needs.
type Chain interface {
	GetTransaction(ctx context.Context, hash string) (*types.ChainTransaction, error)
	GetTransactionReceipt(ctx context.Context, hash string) (*gethtypes.Receipt, error)
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
	GetLastMinedNonce(ctx context.Context, address string) (uint64, error)
	GetContractTransactionHashes(ctx context.Context, contract string, fromBlock, toBlock uint64) ([]string, error)
	SendRawTransaction(ctx context.Context, rawTx string) <-chan types.SendResult
	SetWatermark(block uint64)
}

// Store is the persistence the orchestrator needs.
type Store interface {
	GetTransaction(ctx context.Context, networkID uint64, hash string) (*types.TransactionDetail, error)
	SaveTransaction(ctx context.Context, tx *types.TransactionDetail) error
	ReplaceTransactionHash(ctx context.Context, oldHash string, tx *types.TransactionDetail) error
	PendingTransactions(ctx context.Context, networkID uint64) ([]*types.TransactionDetail, error)
	TransactionsToSend(ctx context.Context, networkID uint64) ([]*types.TransactionDetail, error)
	CountPendingSent(ctx context.Context, networkID uint64, from string) (int, error)

	LastWatchedBlock(ctx context.Context, networkID uint64) (uint64, bool, error)
	AdvanceLastWatchedBlock(ctx context.Context, networkID, block uint64) (bool, error)

	GetContractDetail(ctx context.Context, networkID uint64, address string) (*types.ContractDetail, error)
	SaveContractDetail(ctx context.Context, detail *types.ContractDetail) error

	FindWallet(ctx context.Context, address string) (*types.Wallet, error)
	UpdateWallet(ctx context.Context, address string, fn func(w *types.Wallet) error) error
	SetInitializationState(ctx context.Context, address string, state types.InitializationState) error
}

// ContractReader re-reads chain fields of cached objects.
type ContractReader interface {
	RefreshWallet(ctx context.Context, w *types.Wallet, decimals int, observed contract.OperationSet) error
	RefreshContractDetail(ctx context.Context, d *types.ContractDetail, observed contract.OperationSet) error
}

// Config configures an Orchestrator for one network.
type Config struct {
	NetworkID       uint64
	ContractAddress string

	// MaxAttemptsToSend is the number of broadcasts allowed before a
	// transaction is failed
	MaxAttemptsToSend int
	// MaxParallelPendingTransactions is the number of broadcast transactions
	// a sender may have waiting to be mined
	MaxParallelPendingTransactions int
	// PendingTimeout is the age after which a transaction absent from chain
	// is timed out. Zero disables the timeout.
	PendingTimeout time.Duration
	// ResendInterval is the delay before a sent but unmined transaction is
	// broadcast again
	ResendInterval time.Duration
	// StartBlock is the first watermark when none is stored. Zero means the
	// current head.
	StartBlock uint64

	Logger  *zap.Logger
	Metrics *Metrics
}

func (c *Config) setDefaults() {
	if c.MaxAttemptsToSend <= 0 {
		c.MaxAttemptsToSend = constants.DefaultMaxAttemptsToSend
	}
	if c.MaxParallelPendingTransactions <= 0 {
		c.MaxParallelPendingTransactions = constants.DefaultMaxParallelPendingTransactions
	}
	if c.ResendInterval <= 0 {
		c.ResendInterval = constants.DefaultResendInterval
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Orchestrator drives the transaction lifecycle of one network.
type Orchestrator struct {
	cfg      Config
	chain    Chain
	store    Store
	reader   ContractReader
	notifier eventbus.Notifier
	decoder  *decoder.Decoder
	logger   *zap.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	now      func() time.Time

	// scanMu serializes watermark advancement, sendMu send passes
	scanMu  sync.Mutex
	sendMu  sync.Mutex
	txLocks *keyedMutex

	contractMu sync.Mutex
	contract   *types.ContractDetail

	inflight sync.WaitGroup

	triggerMu   sync.RWMutex
	scanTrigger func()
	sendTrigger func()
}

// New creates an orchestrator.
func New(cfg Config, chain Chain, store Store, reader ContractReader, notifier eventbus.Notifier) *Orchestrator {
	cfg.setDefaults()
	if notifier == nil {
		notifier = eventbus.Nop{}
	}
	return &Orchestrator{
		cfg:      cfg,
		chain:    chain,
		store:    store,
		reader:   reader,
		notifier: notifier,
		decoder:  decoder.New(store, cfg.Logger.Named("decoder")),
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
		txLocks:  newKeyedMutex(),
	}
}

// SetTriggers installs the callbacks used to request a catch-up scan and a
// send pass outside of their schedule. Nil callbacks run the pass inline.
func (o *Orchestrator) SetTriggers(scan, send func()) {
	o.triggerMu.Lock()
	defer o.triggerMu.Unlock()
	o.scanTrigger = scan
	o.sendTrigger = send
}

func (o *Orchestrator) triggers() (scan, send func()) {
	o.triggerMu.RLock()
	defer o.triggerMu.RUnlock()
	return o.scanTrigger, o.sendTrigger
}

// NetworkID returns the network the orchestrator works on.
func (o *Orchestrator) NetworkID() uint64 {
	return o.cfg.NetworkID
}

// ContractDetail returns a copy of the cached contract snapshot, loading it
// on first use.
func (o *Orchestrator) ContractDetail(ctx context.Context) (*types.ContractDetail, error) {
	o.contractMu.Lock()
	defer o.contractMu.Unlock()
	if err := o.loadContractLocked(ctx); err != nil {
		return nil, err
	}
	c := *o.contract
	return &c, nil
}

func (o *Orchestrator) publish(ctx context.Context, event types.Event) {
	event.NetworkID = o.cfg.NetworkID
	if event.Timestamp.IsZero() {
		event.Timestamp = o.now()
	}
	if err := o.notifier.Publish(ctx, event); err != nil {
		o.logger.Warn("failed to publish notification",
			zap.String("kind", string(event.Kind)),
			zap.String("key", event.Key()),
			zap.Error(err))
	}
}

func (o *Orchestrator) publishMined(ctx context.Context, tx *types.TransactionDetail) {
	o.publish(ctx, types.Event{Kind: types.EventTransactionMined, Transaction: tx.Clone()})
}

func bigToUint64(v *big.Int) uint64 {
	if v == nil || !v.IsUint64() {
		return 0
	}
	return v.Uint64()
}
