package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/0xmhha/tokenwallet-go/pkg/types"
	"go.uber.org/zap"
)

func encodeTransaction(tx *types.TransactionDetail) ([]byte, error) {
	data, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction %s: %w", tx.Hash, err)
	}
	return data, nil
}

func decodeTransaction(data []byte) (*types.TransactionDetail, error) {
	var tx types.TransactionDetail
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return &tx, nil
}

// GetTransaction returns a stored transaction or ErrNotFound
func (s *PebbleStorage) GetTransaction(ctx context.Context, networkID uint64, hash string) (*types.TransactionDetail, error) {
	data, err := s.Get(ctx, TransactionKey(networkID, hash))
	if err != nil {
		return nil, err
	}
	return decodeTransaction(data)
}

// SaveTransaction writes a transaction and keeps the pending index in step
func (s *PebbleStorage) SaveTransaction(ctx context.Context, tx *types.TransactionDetail) error {
	if err := s.ensureWritable(); err != nil {
		return err
	}

	batch := s.NewBatch()
	defer batch.Close()

	if err := putTransaction(batch, tx); err != nil {
		return err
	}
	return batch.Commit()
}

func putTransaction(batch *Batch, tx *types.TransactionDetail) error {
	if tx.Hash == "" {
		return errors.New("transaction hash cannot be empty")
	}
	data, err := encodeTransaction(tx)
	if err != nil {
		return err
	}
	if err := batch.Set(TransactionKey(tx.NetworkID, tx.Hash), data); err != nil {
		return fmt.Errorf("failed to set transaction: %w", err)
	}

	indexKey := PendingIndexKey(tx.NetworkID, tx.Hash)
	if tx.Pending {
		err = batch.Set(indexKey, []byte{1})
	} else {
		err = batch.Delete(indexKey)
	}
	if err != nil {
		return fmt.Errorf("failed to update pending index: %w", err)
	}
	return nil
}

// ReplaceTransactionHash re-keys a transaction whose hash changed after
// broadcast. The record under oldHash is removed in the same batch, so the
// transaction is never stored twice.
func (s *PebbleStorage) ReplaceTransactionHash(ctx context.Context, oldHash string, tx *types.TransactionDetail) error {
	if err := s.ensureWritable(); err != nil {
		return err
	}

	batch := s.NewBatch()
	defer batch.Close()

	if !strings.EqualFold(oldHash, tx.Hash) {
		if err := batch.Delete(TransactionKey(tx.NetworkID, oldHash)); err != nil {
			return fmt.Errorf("failed to delete old transaction: %w", err)
		}
		if err := batch.Delete(PendingIndexKey(tx.NetworkID, oldHash)); err != nil {
			return fmt.Errorf("failed to delete old pending index: %w", err)
		}
	}
	if err := putTransaction(batch, tx); err != nil {
		return err
	}
	return batch.Commit()
}

// PendingTransactions returns every pending transaction of a network
func (s *PebbleStorage) PendingTransactions(ctx context.Context, networkID uint64) ([]*types.TransactionDetail, error) {
	prefix := PendingIndexPrefix(networkID)

	var hashes []string
	err := s.Iterate(ctx, prefix, func(key, _ []byte) bool {
		hashes = append(hashes, string(key[len(prefix):]))
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate pending index: %w", err)
	}

	result := make([]*types.TransactionDetail, 0, len(hashes))
	for _, hash := range hashes {
		tx, err := s.GetTransaction(ctx, networkID, hash)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				s.logger.Warn("pending index entry without transaction",
					zap.Uint64("network_id", networkID),
					zap.String("tx_hash", hash),
				)
				continue
			}
			return nil, err
		}
		result = append(result, tx)
	}
	return result, nil
}

// TransactionsToSend returns pending transactions that still carry a signed
// payload, ordered by nonce and then by creation time
func (s *PebbleStorage) TransactionsToSend(ctx context.Context, networkID uint64) ([]*types.TransactionDetail, error) {
	pending, err := s.PendingTransactions(ctx, networkID)
	if err != nil {
		return nil, err
	}

	result := pending[:0]
	for _, tx := range pending {
		if tx.HasRawTransaction() {
			result = append(result, tx)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Nonce != result[j].Nonce {
			return result[i].Nonce < result[j].Nonce
		}
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// CountPendingSent counts broadcast transactions of a sender still waiting
// to be mined
func (s *PebbleStorage) CountPendingSent(ctx context.Context, networkID uint64, from string) (int, error) {
	return s.countPending(ctx, networkID, from, func(tx *types.TransactionDetail) bool {
		return tx.HasRawTransaction() && tx.CurrentState() == types.TxStateSent
	})
}

// CountPendingAsSender counts every pending transaction of a sender
func (s *PebbleStorage) CountPendingAsSender(ctx context.Context, networkID uint64, from string) (int, error) {
	return s.countPending(ctx, networkID, from, func(*types.TransactionDetail) bool { return true })
}

func (s *PebbleStorage) countPending(ctx context.Context, networkID uint64, from string, match func(*types.TransactionDetail) bool) (int, error) {
	pending, err := s.PendingTransactions(ctx, networkID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, tx := range pending {
		if types.SameAddress(tx.From, from) && match(tx) {
			count++
		}
	}
	return count, nil
}

// MaxUsedNonce returns the highest nonce held by a pending transaction of
// the sender. ok is false when the sender has none.
func (s *PebbleStorage) MaxUsedNonce(ctx context.Context, networkID uint64, from string) (nonce uint64, ok bool, err error) {
	pending, err := s.PendingTransactions(ctx, networkID)
	if err != nil {
		return 0, false, err
	}
	for _, tx := range pending {
		if !types.SameAddress(tx.From, from) {
			continue
		}
		if !ok || tx.Nonce > nonce {
			nonce = tx.Nonce
			ok = true
		}
	}
	return nonce, ok, nil
}
