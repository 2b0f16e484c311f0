package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// PebbleStorage implements the engine stores on top of PebbleDB
type PebbleStorage struct {
	db     *pebble.DB
	config *Config
	logger *zap.Logger
	closed atomic.Bool

	// watermarkMu serializes the compare-and-set of the last watched block
	watermarkMu sync.Mutex
	// walletMu serializes read-modify-write of wallet records
	walletMu sync.Mutex
}

// NewPebbleStorage creates a new PebbleDB storage
func NewPebbleStorage(cfg *Config) (*PebbleStorage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := &pebble.Options{
		Cache:            pebble.NewCache(int64(cfg.Cache) << 20),
		MaxOpenFiles:     cfg.MaxOpenFiles,
		MemTableSize:     uint64(cfg.WriteBuffer) << 20,
		ReadOnly:         cfg.ReadOnly,
		ErrorIfExists:    false,
		ErrorIfNotExists: false,
	}

	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &PebbleStorage{
		db:     db,
		config: cfg,
		logger: zap.NewNop(),
	}, nil
}

// SetLogger sets the logger for the storage
func (s *PebbleStorage) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s.logger = logger
}

// ensureNotClosed checks if storage is closed
func (s *PebbleStorage) ensureNotClosed() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// ensureNotReadOnly checks if storage is read-only
func (s *PebbleStorage) ensureNotReadOnly() error {
	if s.config.ReadOnly {
		return ErrReadOnly
	}
	return nil
}

func (s *PebbleStorage) ensureWritable() error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	return s.ensureNotReadOnly()
}

// Close closes the storage and releases resources
func (s *PebbleStorage) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put stores a value with the given key
func (s *PebbleStorage) Put(ctx context.Context, key, value []byte) error {
	if err := s.ensureWritable(); err != nil {
		return err
	}
	return s.db.Set(key, value, pebble.Sync)
}

// Get retrieves a value by key
func (s *PebbleStorage) Get(ctx context.Context, key []byte) ([]byte, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	value, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()

	// value is only valid until closer.Close()
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Delete removes a key-value pair
func (s *PebbleStorage) Delete(ctx context.Context, key []byte) error {
	if err := s.ensureWritable(); err != nil {
		return err
	}
	return s.db.Delete(key, pebble.Sync)
}

// Has checks if a key exists
func (s *PebbleStorage) Has(ctx context.Context, key []byte) (bool, error) {
	if err := s.ensureNotClosed(); err != nil {
		return false, err
	}

	_, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

// Iterate iterates over keys with the given prefix
func (s *PebbleStorage) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())

		if !fn(key, value) {
			break
		}
	}

	return iter.Error()
}

// prefixUpperBound returns the upper bound for prefix iteration
func prefixUpperBound(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil // All 0xff, no upper bound
}

// NewBatch creates a new batch for atomic writes
func (s *PebbleStorage) NewBatch() *Batch {
	return &Batch{storage: s, batch: s.db.NewBatch()}
}

// Batch groups writes that must land together
type Batch struct {
	storage *PebbleStorage
	batch   *pebble.Batch
}

// Set queues a write
func (b *Batch) Set(key, value []byte) error {
	return b.batch.Set(key, value, nil)
}

// Delete queues a delete
func (b *Batch) Delete(key []byte) error {
	return b.batch.Delete(key, nil)
}

// Commit writes the batch
func (b *Batch) Commit() error {
	if err := b.storage.ensureWritable(); err != nil {
		return err
	}
	if err := b.batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Count returns the number of queued operations
func (b *Batch) Count() int {
	return int(b.batch.Count())
}

// Close releases the batch
func (b *Batch) Close() error {
	return b.batch.Close()
}
