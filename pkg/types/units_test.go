package types

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestToDecimal(t *testing.T) {
	assert.True(t, decimal.RequireFromString("10").Equal(ToDecimal(big.NewInt(1000), 2)))
	assert.True(t, decimal.RequireFromString("0.5").Equal(ToDecimal(big.NewInt(50), 2)))
	assert.True(t, ToDecimal(nil, 18).IsZero())

	wei, _ := new(big.Int).SetString("10000000000000000", 10)
	assert.Equal(t, "0.01", WeiToEther(wei).String())
}

func TestToBaseUnits(t *testing.T) {
	assert.Equal(t, "1000", ToBaseUnits(decimal.RequireFromString("10"), 2).String())
	assert.Equal(t, "12", ToBaseUnits(decimal.RequireFromString("0.129"), 2).String())
	assert.Equal(t, "10000000000000000", EtherToWei(decimal.RequireFromString("0.01")).String())
}

func TestAddressHelpers(t *testing.T) {
	a := "0xAbCdEf0000000000000000000000000000000001"
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", NormalizeAddress(a))
	assert.True(t, SameAddress(a, "0xabcdef0000000000000000000000000000000001"))
	assert.False(t, SameAddress(a, ""))
	assert.Empty(t, NormalizeAddress("  "))
}
