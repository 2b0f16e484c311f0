package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChainTransaction is the node's view of a transaction.
type ChainTransaction struct {
	Hash        common.Hash
	From        common.Address
	To          *common.Address
	Value       *big.Int
	GasPrice    *big.Int
	Nonce       uint64
	BlockHash   common.Hash
	BlockNumber *big.Int
	Input       []byte
}

// IsMined reports whether the transaction is included in a block.
func (t *ChainTransaction) IsMined() bool {
	return t != nil && t.BlockHash != (common.Hash{})
}

// ToAddress returns the recipient as hex, or an empty string for contract
// creations.
func (t *ChainTransaction) ToAddress() string {
	if t == nil || t.To == nil {
		return ""
	}
	return t.To.Hex()
}

// MinedBlock is one entry of the mined-block feed.
type MinedBlock struct {
	Number    uint64
	Hash      common.Hash
	Timestamp uint64
}

// SendResult is the completion of an asynchronous raw transaction broadcast.
type SendResult struct {
	// Hash is the hash acknowledged by the node
	Hash string
	Err  error
}
