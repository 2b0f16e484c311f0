package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

// GetContractDetail returns the cached contract snapshot or ErrNotFound
func (s *PebbleStorage) GetContractDetail(ctx context.Context, networkID uint64, address string) (*types.ContractDetail, error) {
	data, err := s.Get(ctx, ContractKey(networkID, address))
	if err != nil {
		return nil, err
	}
	var detail types.ContractDetail
	if err := json.Unmarshal(data, &detail); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return &detail, nil
}

// SaveContractDetail stores the contract snapshot
func (s *PebbleStorage) SaveContractDetail(ctx context.Context, detail *types.ContractDetail) error {
	data, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("failed to encode contract detail: %w", err)
	}
	return s.Put(ctx, ContractKey(detail.NetworkID, detail.Address), data)
}
