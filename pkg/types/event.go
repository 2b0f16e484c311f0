package types

import "time"

// EventKind identifies a notification published by the engine.
type EventKind string

const (
	EventTransactionMined EventKind = "transaction.mined"
	EventTransactionSent  EventKind = "transaction.sent"
	EventWalletModified   EventKind = "wallet.modified"
	EventNewBlockMined    EventKind = "block.mined"
)

// Event is a notification for the external bus.
type Event struct {
	Kind        EventKind          `json:"kind"`
	NetworkID   uint64             `json:"networkId"`
	Transaction *TransactionDetail `json:"transaction,omitempty"`
	Wallet      string             `json:"wallet,omitempty"`
	BlockNumber uint64             `json:"blockNumber,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

// Key returns the partitioning key of the event.
func (e Event) Key() string {
	switch {
	case e.Transaction != nil:
		return e.Transaction.Hash
	case e.Wallet != "":
		return e.Wallet
	}
	return string(e.Kind)
}
