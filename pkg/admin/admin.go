// Package admin signs privileged token operations with the admin wallet and
// hands them to the transaction queue.
package admin

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/0xmhha/tokenwallet-go/internal/constants"
	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

// Chain is the node access used for nonce allocation.
type Chain interface {
	GetNonce(ctx context.Context, address string) (uint64, error)
}

// Store is the persistence the facade needs.
type Store interface {
	AdminKey(ctx context.Context) ([]byte, error)
	SaveAdminKey(ctx context.Context, keyJSON []byte) error
	MaxUsedNonce(ctx context.Context, networkID uint64, from string) (uint64, bool, error)
	FindWallet(ctx context.Context, address string) (*types.Wallet, error)
	SaveWallet(ctx context.Context, w *types.Wallet) error
	SetInitializationState(ctx context.Context, address string, state types.InitializationState) error
}

// ContractReader is the read-only contract surface used for preconditions.
type ContractReader interface {
	AdminLevel(ctx context.Context, account common.Address) (int, error)
	IsApprovedAccount(ctx context.Context, account common.Address) (bool, error)
	IsInitializedAccount(ctx context.Context, account common.Address) (bool, error)
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	EtherBalance(ctx context.Context, account common.Address) (*big.Int, error)
}

// Queue accepts signed transactions and knows the contract snapshot.
type Queue interface {
	Enqueue(ctx context.Context, tx *types.TransactionDetail) error
	ContractDetail(ctx context.Context) (*types.ContractDetail, error)
}

// Config configures the facade.
type Config struct {
	NetworkID       uint64
	ChainID         *big.Int
	ContractAddress string

	// KeystorePassword encrypts the stored admin key
	KeystorePassword string
	// MinLevel is the contract admin level required for every operation
	MinLevel int
	GasLimit uint64
	// GasPrice is in wei
	GasPrice uint64

	Logger  *zap.Logger
	Metrics *Metrics
}

func (c *Config) setDefaults() {
	if c.MinLevel <= 0 {
		c.MinLevel = constants.DefaultAdminMinLevel
	}
	if c.GasLimit == 0 {
		c.GasLimit = constants.DefaultAdminGasLimit
	}
	if c.GasPrice == 0 {
		c.GasPrice = constants.DefaultAdminGasPrice
	}
	if c.ChainID == nil {
		c.ChainID = new(big.Int).SetUint64(c.NetworkID)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Facade builds, signs and queues admin wallet transactions.
type Facade struct {
	cfg     Config
	chain   Chain
	store   Store
	reader  ContractReader
	queue   Queue
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time

	keyMu sync.Mutex
	key   *ecdsa.PrivateKey

	// nonceMu serializes nonce allocation of the admin wallet up to the
	// moment the transaction is queued
	nonceMu sync.Mutex
}

// New creates a facade.
func New(cfg Config, chain Chain, store Store, reader ContractReader, queue Queue) *Facade {
	cfg.setDefaults()
	return &Facade{
		cfg:     cfg,
		chain:   chain,
		store:   store,
		reader:  reader,
		queue:   queue,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     time.Now,
	}
}
