// Package testutil holds fixtures shared by the engine's package tests.
package testutil

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/0xmhha/tokenwallet-go/pkg/contract"
	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

// NewTestLogger creates a logger that writes through t.Log
func NewTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
}

// NewTestKey generates a fresh secp256k1 key and its address
func NewTestKey(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

// NewMinedTransaction returns the node view of a transaction mined in block
func NewMinedTransaction(hash common.Hash, from, to common.Address, nonce, block uint64) *types.ChainTransaction {
	return &types.ChainTransaction{
		Hash:        hash,
		From:        from,
		To:          &to,
		Value:       big.NewInt(0),
		GasPrice:    big.NewInt(1_000_000_000),
		Nonce:       nonce,
		BlockHash:   common.BigToHash(new(big.Int).SetUint64(block + 0xb000)),
		BlockNumber: new(big.Int).SetUint64(block),
	}
}

// NewUnminedTransaction returns the node view of a transaction still in the pool
func NewUnminedTransaction(hash common.Hash, from, to common.Address, nonce uint64) *types.ChainTransaction {
	tx := NewMinedTransaction(hash, from, to, nonce, 0)
	tx.BlockHash = common.Hash{}
	tx.BlockNumber = nil
	return tx
}

// NewTestReceipt creates a receipt for the given transaction hash
func NewTestReceipt(txHash common.Hash, blockNumber uint64, status uint64, logs ...*gethtypes.Log) *gethtypes.Receipt {
	if logs == nil {
		logs = []*gethtypes.Log{}
	}
	return &gethtypes.Receipt{
		Type:              gethtypes.LegacyTxType,
		Status:            status,
		CumulativeGasUsed: 52000,
		BlockNumber:       new(big.Int).SetUint64(blockNumber),
		TxHash:            txHash,
		GasUsed:           52000,
		Logs:              logs,
	}
}

// NewContractLog ABI-encodes one token contract event emitted by address
func NewContractLog(t *testing.T, address common.Address, event string, indexed []common.Address, data ...interface{}) *gethtypes.Log {
	t.Helper()
	spec, ok := contract.ABI().Events[event]
	require.True(t, ok, "unknown event %s", event)

	topics := []common.Hash{contract.Topic(event)}
	for _, a := range indexed {
		topics = append(topics, common.BytesToHash(a.Bytes()))
	}
	packed, err := spec.Inputs.NonIndexed().Pack(data...)
	require.NoError(t, err)
	return &gethtypes.Log{Address: address, Topics: topics, Data: packed}
}
