package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

const testNetwork uint64 = 1337

// setupTestStorage creates a temporary PebbleDB storage for testing
func setupTestStorage(t *testing.T) *PebbleStorage {
	t.Helper()

	s, err := NewPebbleStorage(DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newPending(hash, from string, nonce uint64, created time.Time) *types.TransactionDetail {
	tx := types.NewOutgoingTransaction(testNetwork, hash, "0xf86b", created)
	tx.From = from
	tx.Nonce = nonce
	return tx
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig("/tmp/x").Validate())
	assert.Error(t, DefaultConfig("").Validate())

	cfg := DefaultConfig("/tmp/x")
	cfg.Cache = -1
	assert.Error(t, cfg.Validate())

	_, err := NewPebbleStorage(nil)
	assert.Error(t, err)
}

func TestKVOperations(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, []byte("/k/a"), []byte("1")))
	require.NoError(t, s.Put(ctx, []byte("/k/b"), []byte("2")))
	require.NoError(t, s.Put(ctx, []byte("/other"), []byte("3")))

	v, err := s.Get(ctx, []byte("/k/a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	has, err := s.Has(ctx, []byte("/k/b"))
	require.NoError(t, err)
	assert.True(t, has)

	var keys []string
	require.NoError(t, s.Iterate(ctx, []byte("/k/"), func(key, _ []byte) bool {
		keys = append(keys, string(key))
		return true
	}))
	assert.Equal(t, []string{"/k/a", "/k/b"}, keys)

	require.NoError(t, s.Delete(ctx, []byte("/k/a")))
	_, err = s.Get(ctx, []byte("/k/a"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Close())
	_, err = s.Get(ctx, []byte("/k/b"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, s.Close())
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("/k0"), prefixUpperBound([]byte("/k/")))
	assert.Equal(t, []byte{0x02}, prefixUpperBound([]byte{0x01, 0xff}))
	assert.Nil(t, prefixUpperBound([]byte{0xff}))
	assert.Nil(t, prefixUpperBound(nil))
}

func TestSaveTransactionMaintainsPendingIndex(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	tx := newPending("0xAB01", "0xa1", 3, now)
	require.NoError(t, s.SaveTransaction(ctx, tx))

	got, err := s.GetTransaction(ctx, testNetwork, "0xab01")
	require.NoError(t, err)
	assert.Equal(t, types.TxStateUnsent, got.State)

	pending, err := s.PendingTransactions(ctx, testNetwork)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, got.MarkConfirmed(true))
	got.ContractAmount = decimal.RequireFromString("1.5")
	require.NoError(t, s.SaveTransaction(ctx, got))

	pending, err = s.PendingTransactions(ctx, testNetwork)
	require.NoError(t, err)
	assert.Empty(t, pending)

	stored, err := s.GetTransaction(ctx, testNetwork, "0xab01")
	require.NoError(t, err)
	assert.True(t, stored.Succeeded)
	assert.True(t, stored.ContractAmount.Equal(decimal.RequireFromString("1.5")))

	_, err = s.GetTransaction(ctx, testNetwork+1, "0xab01")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplaceTransactionHash(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	tx := newPending("0xold", "0xa1", 1, time.Now())
	require.NoError(t, s.SaveTransaction(ctx, tx))

	tx.Hash = "0xnew"
	require.NoError(t, s.ReplaceTransactionHash(ctx, "0xold", tx))

	_, err := s.GetTransaction(ctx, testNetwork, "0xold")
	assert.ErrorIs(t, err, ErrNotFound)

	pending, err := s.PendingTransactions(ctx, testNetwork)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "0xnew", pending[0].Hash)
}

func TestTransactionsToSendOrderedByNonce(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SaveTransaction(ctx, newPending("0x03", "0xa1", 7, now)))
	require.NoError(t, s.SaveTransaction(ctx, newPending("0x01", "0xa1", 5, now.Add(time.Second))))
	require.NoError(t, s.SaveTransaction(ctx, newPending("0x02", "0xa1", 5, now)))

	observed := types.NewObservedTransaction(testNetwork, "0x04", now)
	observed.From = "0xa1"
	require.NoError(t, s.SaveTransaction(ctx, observed))

	toSend, err := s.TransactionsToSend(ctx, testNetwork)
	require.NoError(t, err)
	var hashes []string
	for _, tx := range toSend {
		hashes = append(hashes, tx.Hash)
	}
	assert.Equal(t, []string{"0x02", "0x01", "0x03"}, hashes)
}

func TestSenderCounters(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()
	now := time.Now()

	sent := newPending("0x01", "0x00000000000000000000000000000000000000a1", 4, now)
	require.NoError(t, sent.MarkSent(now))
	require.NoError(t, s.SaveTransaction(ctx, sent))
	require.NoError(t, s.SaveTransaction(ctx, newPending("0x02", "0x00000000000000000000000000000000000000A1", 9, now)))
	require.NoError(t, s.SaveTransaction(ctx, newPending("0x03", "0x00000000000000000000000000000000000000b2", 12, now)))

	n, err := s.CountPendingSent(ctx, testNetwork, "0x00000000000000000000000000000000000000a1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountPendingAsSender(ctx, testNetwork, "0x00000000000000000000000000000000000000a1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	nonce, ok, err := s.MaxUsedNonce(ctx, testNetwork, "0x00000000000000000000000000000000000000a1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(9), nonce)

	_, ok, err = s.MaxUsedNonce(ctx, testNetwork, "0x00000000000000000000000000000000000000c3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWatermarkNeverRegresses(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	_, ok, err := s.LastWatchedBlock(ctx, testNetwork)
	require.NoError(t, err)
	assert.False(t, ok)

	// scans of [10,20] and [21,30] completing out of order
	moved, err := s.AdvanceLastWatchedBlock(ctx, testNetwork, 30)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = s.AdvanceLastWatchedBlock(ctx, testNetwork, 20)
	require.NoError(t, err)
	assert.False(t, moved)

	block, ok, err := s.LastWatchedBlock(ctx, testNetwork)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(30), block)
}

func TestWatermarkConcurrentAdvance(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := uint64(1); i <= 50; i++ {
		wg.Add(1)
		go func(n uint64) {
			defer wg.Done()
			_, err := s.AdvanceLastWatchedBlock(ctx, testNetwork, n)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	block, _, err := s.LastWatchedBlock(ctx, testNetwork)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), block)
}

func TestAdminKey(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	_, err := s.AdminKey(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Error(t, s.SaveAdminKey(ctx, nil))

	require.NoError(t, s.SaveAdminKey(ctx, []byte(`{"address":"a1"}`)))
	key, err := s.AdminKey(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"address":"a1"}`, string(key))
}

func TestContractDetail(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()

	detail := &types.ContractDetail{
		Address:   "0x00000000000000000000000000000000000000C0",
		NetworkID: testNetwork,
		Name:      "Token",
		Decimals:  6,
		SellPrice: decimal.RequireFromString("0.002"),
	}
	require.NoError(t, s.SaveContractDetail(ctx, detail))

	got, err := s.GetContractDetail(ctx, testNetwork, "0x00000000000000000000000000000000000000c0")
	require.NoError(t, err)
	assert.Equal(t, "Token", got.Name)
	assert.Equal(t, 6, got.Decimals)
	assert.True(t, got.SellPrice.Equal(detail.SellPrice))
}

func TestWalletDirectory(t *testing.T) {
	s := setupTestStorage(t)
	ctx := context.Background()
	addr := "0x00000000000000000000000000000000000000AA"

	assert.ErrorIs(t, s.SetInitializationState(ctx, addr, types.WalletStatePending), ErrNotFound)

	require.NoError(t, s.SaveWallet(ctx, &types.Wallet{Address: addr, Owner: "alice"}))
	w, err := s.FindWallet(ctx, "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	assert.Equal(t, types.WalletStateNew, w.InitializationState)

	require.NoError(t, s.SetInitializationState(ctx, addr, types.WalletStatePending))
	w, err = s.FindWallet(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, types.WalletStatePending, w.InitializationState)
	assert.Equal(t, "alice", w.Owner)

	boom := errors.New("boom")
	assert.ErrorIs(t, s.UpdateWallet(ctx, addr, func(w *types.Wallet) error {
		w.AdminLevel = 9
		return boom
	}), boom)
	require.NoError(t, s.UpdateWallet(ctx, addr, func(w *types.Wallet) error {
		w.AdminLevel = 3
		return nil
	}))
	w, err = s.FindWallet(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, 3, w.AdminLevel)
	assert.Equal(t, types.WalletStatePending, w.InitializationState)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	s, err := NewPebbleStorage(DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	cfg := DefaultConfig(dir)
	cfg.ReadOnly = true
	ro, err := NewPebbleStorage(cfg)
	require.NoError(t, err)
	defer ro.Close()

	assert.ErrorIs(t, ro.Put(context.Background(), []byte("k"), []byte("v")), ErrReadOnly)
	assert.ErrorIs(t, ro.SaveTransaction(context.Background(), newPending("0x1", "0xa1", 0, time.Now())), ErrReadOnly)
}
