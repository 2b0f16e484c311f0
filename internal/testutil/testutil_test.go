package testutil

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/tokenwallet-go/pkg/contract"
)

func TestNewTestLogger(t *testing.T) {
	logger := NewTestLogger(t)
	require.NotNil(t, logger)
	logger.Warn("visible in verbose output")
}

func TestNewTestKey(t *testing.T) {
	key, addr := NewTestKey(t)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)
}

func TestMinedAndUnminedTransactions(t *testing.T) {
	from := common.HexToAddress("0xa1")
	to := common.HexToAddress("0xc0")

	mined := NewMinedTransaction(common.HexToHash("0x01"), from, to, 3, 42)
	assert.True(t, mined.IsMined())
	assert.Equal(t, uint64(42), mined.BlockNumber.Uint64())

	pooled := NewUnminedTransaction(common.HexToHash("0x02"), from, to, 4)
	assert.False(t, pooled.IsMined())
	assert.Equal(t, uint64(4), pooled.Nonce)
}

func TestNewTestReceipt(t *testing.T) {
	hash := common.HexToHash("0x1234")
	receipt := NewTestReceipt(hash, 100, gethtypes.ReceiptStatusSuccessful)

	assert.Equal(t, hash, receipt.TxHash)
	assert.Equal(t, uint64(100), receipt.BlockNumber.Uint64())
	assert.NotNil(t, receipt.Logs)
}

func TestNewContractLog(t *testing.T) {
	token := common.HexToAddress("0xc0")
	from := common.HexToAddress("0xa1")
	to := common.HexToAddress("0xb2")

	log := NewContractLog(t, token, contract.EventReward, []common.Address{from, to}, big.NewInt(1000), big.NewInt(50))

	decoded, err := contract.DecodeLog(log)
	require.NoError(t, err)
	assert.Equal(t, contract.EventReward, decoded.Spec.Name)
	assert.Equal(t, int64(1000), decoded.Uint("tokenAmount").Int64())
	assert.Equal(t, int64(50), decoded.Uint("rewardAmount").Int64())
}
