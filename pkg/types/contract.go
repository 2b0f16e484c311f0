package types

import (
	"github.com/shopspring/decimal"
)

// ContractDetail is the cached snapshot of the tracked token contract.
// Zero values mean "not read yet".
type ContractDetail struct {
	Address      string          `json:"address"`
	NetworkID    uint64          `json:"networkId"`
	ContractType string          `json:"contractType,omitempty"`
	Name         string          `json:"name,omitempty"`
	Symbol       string          `json:"symbol,omitempty"`
	Decimals     int             `json:"decimals"`
	Owner        string          `json:"owner,omitempty"`
	TotalSupply  decimal.Decimal `json:"totalSupply"`
	SellPrice    decimal.Decimal `json:"sellPrice"`
	EtherBalance decimal.Decimal `json:"etherBalance"`
	IsPaused     bool            `json:"isPaused"`
}

// IsContract reports whether the address designates this contract.
func (c *ContractDetail) IsContract(address string) bool {
	return c != nil && SameAddress(c.Address, address)
}
