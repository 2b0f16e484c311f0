package admin

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	itestutil "github.com/0xmhha/tokenwallet-go/internal/testutil"
	"github.com/0xmhha/tokenwallet-go/pkg/contract"
	"github.com/0xmhha/tokenwallet-go/pkg/storage"
	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

const (
	testNetwork  uint64 = 1337
	testPassword        = "correct horse"
)

var (
	contractAddr = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	receiverAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testNow      = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
)

type fakeChain struct {
	mu    sync.Mutex
	nonce uint64
}

func (c *fakeChain) GetNonce(context.Context, string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonce, nil
}

type fakeReader struct {
	level        int
	approved     map[common.Address]bool
	initialized  map[common.Address]bool
	tokenBalance *big.Int
	etherBalance *big.Int
}

func (r *fakeReader) AdminLevel(context.Context, common.Address) (int, error) {
	return r.level, nil
}

func (r *fakeReader) IsApprovedAccount(_ context.Context, a common.Address) (bool, error) {
	return r.approved[a], nil
}

func (r *fakeReader) IsInitializedAccount(_ context.Context, a common.Address) (bool, error) {
	return r.initialized[a], nil
}

func (r *fakeReader) BalanceOf(context.Context, common.Address) (*big.Int, error) {
	return r.tokenBalance, nil
}

func (r *fakeReader) EtherBalance(context.Context, common.Address) (*big.Int, error) {
	return r.etherBalance, nil
}

// storeQueue queues into the real store like the orchestrator does
type storeQueue struct {
	store    *storage.PebbleStorage
	decimals int
}

func (q *storeQueue) Enqueue(ctx context.Context, tx *types.TransactionDetail) error {
	return q.store.SaveTransaction(ctx, tx)
}

func (q *storeQueue) ContractDetail(context.Context) (*types.ContractDetail, error) {
	return &types.ContractDetail{Address: contractAddr.Hex(), NetworkID: testNetwork, Decimals: q.decimals}, nil
}

type harness struct {
	facade  *Facade
	chain   *fakeChain
	reader  *fakeReader
	store   *storage.PebbleStorage
	metrics *Metrics
	admin   common.Address
}

func newHarness(t *testing.T, withAdmin bool) *harness {
	t.Helper()
	store, err := storage.NewPebbleStorage(storage.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{
		chain: &fakeChain{},
		reader: &fakeReader{
			level:        2,
			approved:     map[common.Address]bool{},
			initialized:  map[common.Address]bool{},
			tokenBalance: big.NewInt(1_000_000),
			etherBalance: new(big.Int).Mul(big.NewInt(5), big.NewInt(1e18)),
		},
		store:   store,
		metrics: NewMetrics(prometheus.NewRegistry(), ""),
	}
	h.facade = h.newFacade(t)

	require.NoError(t, store.SaveWallet(context.Background(), &types.Wallet{Address: receiverAddr.Hex(), Owner: "receiver"}))
	if withAdmin {
		key, addr := itestutil.NewTestKey(t)
		got, err := h.facade.CreateAdminWallet(context.Background(), hexutil.Encode(crypto.FromECDSA(key)))
		require.NoError(t, err)
		require.Equal(t, addr.Hex(), got)
		h.admin = addr
	}
	return h
}

func (h *harness) newFacade(t *testing.T) *Facade {
	f := New(Config{
		NetworkID:        testNetwork,
		ChainID:          big.NewInt(int64(testNetwork)),
		ContractAddress:  contractAddr.Hex(),
		KeystorePassword: testPassword,
		Logger:           itestutil.NewTestLogger(t),
		Metrics:          h.metrics,
	}, h.chain, h.store, h.reader, &storeQueue{store: h.store, decimals: 2})
	f.now = func() time.Time { return testNow }
	return f
}

func decodeSigned(t *testing.T, raw string) (*gethtypes.Transaction, common.Address) {
	t.Helper()
	data, err := hexutil.Decode(raw)
	require.NoError(t, err)
	var tx gethtypes.Transaction
	require.NoError(t, tx.UnmarshalBinary(data))
	sender, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(big.NewInt(int64(testNetwork))), &tx)
	require.NoError(t, err)
	return &tx, sender
}

func TestCreateAdminWallet(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	_, err := h.facade.AdminAddress(ctx)
	assert.ErrorIs(t, err, ErrAdminWalletMissing)

	address, err := h.facade.CreateAdminWallet(ctx, "")
	require.NoError(t, err)
	assert.True(t, common.IsHexAddress(address))

	_, err = h.facade.CreateAdminWallet(ctx, "")
	assert.ErrorIs(t, err, ErrAdminWalletExists)

	w, err := h.store.FindWallet(ctx, address)
	require.NoError(t, err)
	assert.Equal(t, adminOwner, w.Owner)

	// a fresh facade decrypts the stored key
	reloaded, err := h.newFacade(t).AdminAddress(ctx)
	require.NoError(t, err)
	assert.Equal(t, address, reloaded)

	wrong := h.newFacade(t)
	wrong.cfg.KeystorePassword = "wrong"
	_, err = wrong.AdminAddress(ctx)
	assert.Error(t, err)
}

func TestCreateAdminWallet_InvalidKey(t *testing.T) {
	h := newHarness(t, false)
	_, err := h.facade.CreateAdminWallet(context.Background(), "0xnothex")
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)

	_, err = h.facade.AdminAddress(context.Background())
	assert.ErrorIs(t, err, ErrAdminWalletMissing)
}

func TestInitializeAccount(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.chain.nonce = 3

	tx, err := h.facade.InitializeAccount(ctx, Request{
		Receiver:    receiverAddr.Hex(),
		TokenAmount: decimal.NewFromInt(100),
		EtherAmount: decimal.RequireFromString("0.01"),
		Label:       "welcome",
	})
	require.NoError(t, err)

	assert.True(t, tx.Pending)
	assert.False(t, tx.AdminOperation)
	assert.Equal(t, "initializeAccount", tx.ContractMethodName)
	assert.Equal(t, types.TxStateUnsent, tx.State)
	assert.Equal(t, h.admin.Hex(), tx.From)
	assert.Equal(t, receiverAddr.Hex(), tx.To)
	assert.Equal(t, uint64(3), tx.Nonce)
	assert.True(t, tx.Value.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, tx.ContractAmount.Equal(decimal.NewFromInt(100)))

	w, err := h.store.FindWallet(ctx, receiverAddr.Hex())
	require.NoError(t, err)
	assert.Equal(t, types.WalletStatePending, w.InitializationState)

	stored, err := h.store.GetTransaction(ctx, testNetwork, tx.Hash)
	require.NoError(t, err)
	assert.Equal(t, "welcome", stored.Label)

	signed, sender := decodeSigned(t, tx.RawTransaction)
	assert.Equal(t, h.admin, sender)
	assert.Equal(t, crypto.Keccak256Hash(hexutil.MustDecode(tx.RawTransaction)).Hex(), tx.Hash)
	assert.Equal(t, uint8(gethtypes.LegacyTxType), signed.Type())
	assert.Equal(t, contractAddr, *signed.To())
	assert.Equal(t, uint64(3), signed.Nonce())
	assert.Equal(t, big.NewInt(1e16), signed.Value())

	call, err := contract.DecodeCall(signed.Data())
	require.NoError(t, err)
	assert.Equal(t, contract.OpInitializeAccount, call.Operation)
	assert.Equal(t, receiverAddr, call.Args["_target"])
	assert.Equal(t, big.NewInt(10000), call.Args["_tokenAmount"])
}

func TestInitializeAccount_Preconditions(t *testing.T) {
	req := Request{
		Receiver:    receiverAddr.Hex(),
		TokenAmount: decimal.NewFromInt(100),
		EtherAmount: decimal.RequireFromString("0.01"),
	}

	tests := []struct {
		name    string
		admin   bool
		mutate  func(h *harness, req *Request)
		wantErr error
	}{
		{name: "no admin wallet", admin: false, wantErr: ErrAdminWalletMissing},
		{
			name:    "admin level too low",
			admin:   true,
			mutate:  func(h *harness, _ *Request) { h.reader.level = 1 },
			wantErr: ErrAdminLevelTooLow,
		},
		{
			name:    "already initialized",
			admin:   true,
			mutate:  func(h *harness, _ *Request) { h.reader.initialized[receiverAddr] = true },
			wantErr: ErrAlreadyInitialized,
		},
		{
			name:    "unknown wallet",
			admin:   true,
			mutate:  func(_ *harness, r *Request) { r.Receiver = "0x00000000000000000000000000000000000000bb" },
			wantErr: ErrUnknownWallet,
		},
		{
			name:    "not enough tokens",
			admin:   true,
			mutate:  func(h *harness, _ *Request) { h.reader.tokenBalance = big.NewInt(9999) },
			wantErr: ErrInsufficientTokenBalance,
		},
		{
			name:    "not enough ether",
			admin:   true,
			mutate:  func(h *harness, _ *Request) { h.reader.etherBalance = big.NewInt(1e15) },
			wantErr: ErrInsufficientEtherBalance,
		},
		{
			name:    "negative amount",
			admin:   true,
			mutate:  func(_ *harness, r *Request) { r.TokenAmount = decimal.NewFromInt(-1) },
			wantErr: ErrInvalidAmount,
		},
		{
			name:    "malformed receiver",
			admin:   true,
			mutate:  func(_ *harness, r *Request) { r.Receiver = "alice" },
			wantErr: ErrInvalidReceiver,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.admin)
			r := req
			if tt.mutate != nil {
				tt.mutate(h, &r)
			}
			_, err := h.facade.InitializeAccount(context.Background(), r)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsBusinessError(err))

			w, err := h.store.FindWallet(context.Background(), receiverAddr.Hex())
			require.NoError(t, err)
			assert.Equal(t, types.WalletStateNew, w.InitializationState)
		})
	}
}

func TestSendToken(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	req := Request{Receiver: receiverAddr.Hex(), TokenAmount: decimal.RequireFromString("12.5")}
	_, err := h.facade.SendToken(ctx, req)
	assert.ErrorIs(t, err, ErrReceiverNotApproved)

	h.reader.approved[receiverAddr] = true
	_, err = h.facade.SendToken(ctx, Request{Receiver: receiverAddr.Hex()})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	tx, err := h.facade.SendToken(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "transfer", tx.ContractMethodName)
	assert.Equal(t, contractAddr.Hex(), tx.ContractAddress)

	signed, _ := decodeSigned(t, tx.RawTransaction)
	assert.Equal(t, 0, signed.Value().Sign())
	call, err := contract.DecodeCall(signed.Data())
	require.NoError(t, err)
	assert.Equal(t, contract.OpTransfer, call.Operation)
	assert.Equal(t, big.NewInt(1250), call.Args["_value"])

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.operations.WithLabelValues("transfer", resultQueued)))
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.operations.WithLabelValues("transfer", resultRejected)))
}

func TestReward(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.reader.approved[receiverAddr] = true

	_, err := h.facade.Reward(ctx, Request{
		Receiver:     receiverAddr.Hex(),
		TokenAmount:  decimal.NewFromInt(10),
		RewardAmount: decimal.NewFromInt(-1),
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	tx, err := h.facade.Reward(ctx, Request{
		Receiver:     receiverAddr.Hex(),
		TokenAmount:  decimal.NewFromInt(10),
		RewardAmount: decimal.RequireFromString("0.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, "reward", tx.ContractMethodName)
	assert.True(t, tx.Value.Equal(decimal.NewFromInt(10)))
	assert.True(t, tx.ContractAmount.Equal(decimal.RequireFromString("0.5")))

	signed, _ := decodeSigned(t, tx.RawTransaction)
	call, err := contract.DecodeCall(signed.Data())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), call.Args["_value"])
	assert.Equal(t, big.NewInt(50), call.Args["_rewardAmount"])
}

func TestSendEther(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.facade.SendEther(ctx, Request{Receiver: receiverAddr.Hex()})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = h.facade.SendEther(ctx, Request{Receiver: receiverAddr.Hex(), EtherAmount: decimal.NewFromInt(6)})
	assert.ErrorIs(t, err, ErrInsufficientEtherBalance)

	tx, err := h.facade.SendEther(ctx, Request{Receiver: receiverAddr.Hex(), EtherAmount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.Empty(t, tx.ContractMethodName)
	assert.Empty(t, tx.ContractAddress)

	signed, _ := decodeSigned(t, tx.RawTransaction)
	assert.Equal(t, receiverAddr, *signed.To())
	assert.Empty(t, signed.Data())
	assert.Equal(t, big.NewInt(1e18), signed.Value())
	assert.Equal(t, uint64(300000), signed.Gas())
}

func TestNonceAllocation(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	req := Request{Receiver: receiverAddr.Hex(), EtherAmount: decimal.RequireFromString("0.001")}

	h.chain.nonce = 5
	first, err := h.facade.SendEther(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), first.Nonce)

	// the chain has not seen the queued transaction yet
	second, err := h.facade.SendEther(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), second.Nonce)

	h.chain.mu.Lock()
	h.chain.nonce = 10
	h.chain.mu.Unlock()
	third, err := h.facade.SendEther(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), third.Nonce)
}

func TestNonceAllocation_Concurrent(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	req := Request{Receiver: receiverAddr.Hex(), EtherAmount: decimal.RequireFromString("0.001")}

	const n = 8
	nonces := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := h.facade.SendEther(ctx, req)
			if assert.NoError(t, err) {
				nonces <- tx.Nonce
			}
		}()
	}
	wg.Wait()
	close(nonces)

	seen := make(map[uint64]bool)
	for nonce := range nonces {
		assert.False(t, seen[nonce], "nonce %d allocated twice", nonce)
		seen[nonce] = true
	}
	assert.Len(t, seen, n)
}
