package types

import (
	"github.com/shopspring/decimal"
)

// InitializationState tracks whether a wallet has been provisioned by the
// admin wallet.
type InitializationState string

const (
	WalletStateNew         InitializationState = "NEW"
	WalletStatePending     InitializationState = "PENDING"
	WalletStateModified    InitializationState = "MODIFIED"
	WalletStateInitialized InitializationState = "INITIALIZED"
	WalletStateDenied      InitializationState = "DENIED"
)

// Wallet is a user or space wallet. Its identity belongs to the wallet
// directory; the engine only writes the chain-derived fields.
type Wallet struct {
	Address             string              `json:"address"`
	Owner               string              `json:"owner,omitempty"`
	InitializationState InitializationState `json:"initializationState"`

	EtherBalance   decimal.Decimal `json:"etherBalance"`
	TokenBalance   decimal.Decimal `json:"tokenBalance"`
	RewardBalance  decimal.Decimal `json:"rewardBalance"`
	VestingBalance decimal.Decimal `json:"vestingBalance"`
	AdminLevel     int             `json:"adminLevel"`
	IsApproved     bool            `json:"isApproved"`
	IsInitialized  bool            `json:"isInitialized"`

	// Refreshed is false until chain fields were read at least once
	Refreshed bool `json:"refreshed"`
}
