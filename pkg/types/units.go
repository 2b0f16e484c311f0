package types

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// EtherDecimals is the decimal exponent of the native coin.
const EtherDecimals = 18

// ToDecimal converts an integer amount expressed in base units into a
// human decimal using the given exponent. A nil amount converts to zero.
func ToDecimal(amount *big.Int, exp int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, int32(-exp))
}

// ToBaseUnits converts a human decimal into base units using the given
// exponent. Digits beyond the exponent are truncated.
func ToBaseUnits(amount decimal.Decimal, exp int) *big.Int {
	return amount.Shift(int32(exp)).Truncate(0).BigInt()
}

// WeiToEther converts a wei amount into ether.
func WeiToEther(wei *big.Int) decimal.Decimal {
	return ToDecimal(wei, EtherDecimals)
}

// EtherToWei converts an ether amount into wei.
func EtherToWei(ether decimal.Decimal) *big.Int {
	return ToBaseUnits(ether, EtherDecimals)
}

// NormalizeAddress returns the lower-case hex form of an address, or an
// empty string for an empty input.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	return strings.ToLower(common.HexToAddress(address).Hex())
}

// SameAddress reports whether two hex addresses designate the same account.
func SameAddress(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return NormalizeAddress(a) == NormalizeAddress(b)
}
