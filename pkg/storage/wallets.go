package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

// FindWallet returns the wallet registered for address or ErrNotFound
func (s *PebbleStorage) FindWallet(ctx context.Context, address string) (*types.Wallet, error) {
	if address == "" {
		return nil, ErrNotFound
	}
	data, err := s.Get(ctx, WalletKey(types.NormalizeAddress(address)))
	if err != nil {
		return nil, err
	}
	var w types.Wallet
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return &w, nil
}

// SaveWallet stores a wallet record
func (s *PebbleStorage) SaveWallet(ctx context.Context, w *types.Wallet) error {
	if w.Address == "" {
		return errors.New("wallet address cannot be empty")
	}
	if w.InitializationState == "" {
		w.InitializationState = types.WalletStateNew
	}
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to encode wallet: %w", err)
	}
	return s.Put(ctx, WalletKey(types.NormalizeAddress(w.Address)), data)
}

// UpdateWallet applies fn to a registered wallet and stores the result.
// Updates of one wallet are serialized. Unknown addresses return ErrNotFound.
func (s *PebbleStorage) UpdateWallet(ctx context.Context, address string, fn func(w *types.Wallet) error) error {
	s.walletMu.Lock()
	defer s.walletMu.Unlock()

	w, err := s.FindWallet(ctx, address)
	if err != nil {
		return err
	}
	if err := fn(w); err != nil {
		return err
	}
	return s.SaveWallet(ctx, w)
}

// SetInitializationState updates the initialization state of a registered
// wallet. Unknown addresses return ErrNotFound.
func (s *PebbleStorage) SetInitializationState(ctx context.Context, address string, state types.InitializationState) error {
	return s.UpdateWallet(ctx, address, func(w *types.Wallet) error {
		w.InitializationState = state
		return nil
	})
}
