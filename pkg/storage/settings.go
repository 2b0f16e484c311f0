package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// LastWatchedBlock returns the watermark of a network. ok is false when no
// block has been recorded yet.
func (s *PebbleStorage) LastWatchedBlock(ctx context.Context, networkID uint64) (block uint64, ok bool, err error) {
	data, err := s.Get(ctx, WatermarkKey(networkID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get last watched block: %w", err)
	}
	block, err = DecodeUint64(data)
	if err != nil {
		return 0, false, err
	}
	return block, true, nil
}

// AdvanceLastWatchedBlock stores block as the watermark if it is higher than
// the current one. It reports whether the watermark moved.
func (s *PebbleStorage) AdvanceLastWatchedBlock(ctx context.Context, networkID, block uint64) (bool, error) {
	s.watermarkMu.Lock()
	defer s.watermarkMu.Unlock()

	current, ok, err := s.LastWatchedBlock(ctx, networkID)
	if err != nil {
		return false, err
	}
	if ok && block <= current {
		s.logger.Debug("watermark not advanced",
			zap.Uint64("network_id", networkID),
			zap.Uint64("current", current),
			zap.Uint64("block_number", block),
		)
		return false, nil
	}
	if err := s.Put(ctx, WatermarkKey(networkID), EncodeUint64(block)); err != nil {
		return false, fmt.Errorf("failed to set last watched block: %w", err)
	}
	return true, nil
}

// AdminKey returns the encrypted admin keystore JSON or ErrNotFound
func (s *PebbleStorage) AdminKey(ctx context.Context) ([]byte, error) {
	return s.Get(ctx, AdminKeyKey())
}

// SaveAdminKey stores the encrypted admin keystore JSON
func (s *PebbleStorage) SaveAdminKey(ctx context.Context, keyJSON []byte) error {
	if len(keyJSON) == 0 {
		return errors.New("admin key cannot be empty")
	}
	return s.Put(ctx, AdminKeyKey(), keyJSON)
}
