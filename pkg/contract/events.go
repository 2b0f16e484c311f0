package contract

import (
	"errors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrUnknownEvent is returned for logs whose topic is not a known event.
var ErrUnknownEvent = errors.New("unknown event topic")

// EventKind classifies a known event.
type EventKind int

const (
	// EventPrimary resolves the transaction's operation
	EventPrimary EventKind = iota
	// EventFee carries the fees charged for the transaction
	EventFee
	// EventInsufficientFunds marks a contract without funds to pay fees
	EventInsufficientFunds
)

// Event names of the token contract.
const (
	EventTransfer           = "Transfer"
	EventApproval           = "Approval"
	EventAddedAdmin         = "AddedAdmin"
	EventRemovedAdmin       = "RemovedAdmin"
	EventApprovedAccount    = "ApprovedAccount"
	EventDisapprovedAccount = "DisapprovedAccount"
	EventContractPaused     = "ContractPaused"
	EventContractUnPaused   = "ContractUnPaused"
	EventDepositReceived    = "DepositReceived"
	EventTokenPriceChanged  = "TokenPriceChanged"
	EventTransferOwnership  = "TransferOwnership"
	EventInitialization     = "Initialization"
	EventReward             = "Reward"
	EventVesting            = "Vesting"
	EventVestingTransfer    = "VestingTransfer"
	EventUpgraded           = "Upgraded"
	EventUpgradedData       = "UpgradedData"
	EventNoSufficientFund   = "NoSufficientFund"
	EventTransactionFee     = "TransactionFee"
)

// EventSpec describes a known event: what it means and its parameter shape.
type EventSpec struct {
	Name      string
	Kind      EventKind
	Operation Operation
	Event     abi.Event
}

var eventOperations = map[string]Operation{
	EventTransfer:           OpTransfer,
	EventVestingTransfer:    OpTransfer,
	EventApproval:           OpApprove,
	EventAddedAdmin:         OpAddAdmin,
	EventRemovedAdmin:       OpRemoveAdmin,
	EventApprovedAccount:    OpApproveAccount,
	EventDisapprovedAccount: OpDisapproveAccount,
	EventContractPaused:     OpPause,
	EventContractUnPaused:   OpUnpause,
	EventDepositReceived:    OpDepositFunds,
	EventTokenPriceChanged:  OpSetSellPrice,
	EventTransferOwnership:  OpTransferOwnership,
	EventInitialization:     OpInitializeAccount,
	EventReward:             OpReward,
	EventVesting:            OpTransformToVested,
	EventUpgraded:           OpUpgradeImplementation,
	EventUpgradedData:       OpUpgradeData,
}

var eventsByTopic = buildEventTable()

func buildEventTable() map[common.Hash]EventSpec {
	table := make(map[common.Hash]EventSpec, len(tokenABI.Events))
	for name, event := range tokenABI.Events {
		spec := EventSpec{Name: name, Event: event, Kind: EventPrimary}
		switch name {
		case EventTransactionFee:
			spec.Kind = EventFee
		case EventNoSufficientFund:
			spec.Kind = EventInsufficientFunds
		default:
			op, ok := eventOperations[name]
			if !ok {
				panic("token ABI event without operation: " + name)
			}
			spec.Operation = op
		}
		table[event.ID] = spec
	}
	return table
}

// LookupEvent returns the known event whose signature hash is topic.
func LookupEvent(topic common.Hash) (EventSpec, bool) {
	spec, ok := eventsByTopic[topic]
	return spec, ok
}

// Topic returns the signature hash of a named event.
func Topic(name string) common.Hash {
	return tokenABI.Events[name].ID
}
