package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TxState is the lifecycle state of a transaction known to the engine.
type TxState string

const (
	// TxStateUnsent is a signed transaction waiting for (re)broadcast
	TxStateUnsent TxState = "unsent"
	// TxStateSent is a broadcast transaction not yet mined
	TxStateSent TxState = "sent"
	// TxStateConfirmedSuccess is a mined transaction with a successful receipt
	TxStateConfirmedSuccess TxState = "confirmed_success"
	// TxStateConfirmedFailure is a mined transaction with a failed receipt, or
	// one that was given up on (attempts exhausted, nonce superseded)
	TxStateConfirmedFailure TxState = "confirmed_failure"
	// TxStateTimedOutFailure is a transaction never observed on chain before
	// the maximum pending duration elapsed
	TxStateTimedOutFailure TxState = "timed_out_failure"
)

// ErrInvalidTransition is returned when a lifecycle transition is not allowed.
var ErrInvalidTransition = errors.New("invalid transaction state transition")

var allowedTransitions = map[TxState]map[TxState]bool{
	TxStateUnsent: {
		TxStateSent:             true,
		TxStateConfirmedSuccess: true,
		TxStateConfirmedFailure: true,
		TxStateTimedOutFailure:  true,
	},
	TxStateSent: {
		TxStateSent:             true,
		TxStateUnsent:           true,
		TxStateConfirmedSuccess: true,
		TxStateConfirmedFailure: true,
		TxStateTimedOutFailure:  true,
	},
	// chain truth may correct any terminal state, but never reopens it
	TxStateConfirmedSuccess: {
		TxStateConfirmedSuccess: true,
		TxStateConfirmedFailure: true,
	},
	TxStateConfirmedFailure: {
		TxStateConfirmedSuccess: true,
		TxStateConfirmedFailure: true,
	},
	TxStateTimedOutFailure: {
		TxStateConfirmedSuccess: true,
		TxStateConfirmedFailure: true,
	},
}

// CanTransition reports whether a transaction may move from one state to another.
func CanTransition(from, to TxState) bool {
	return allowedTransitions[from][to]
}

// IsTerminal reports whether the state is a final one.
func (s TxState) IsTerminal() bool {
	switch s {
	case TxStateConfirmedSuccess, TxStateConfirmedFailure, TxStateTimedOutFailure:
		return true
	}
	return false
}

// TransactionDetail is one blockchain transaction known to the system,
// either issued locally by the admin wallet or observed on chain.
type TransactionDetail struct {
	Hash               string `json:"hash"`
	NetworkID          uint64 `json:"networkId"`
	ContractAddress    string `json:"contractAddress,omitempty"`
	ContractMethodName string `json:"contractMethodName,omitempty"`

	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	By     string `json:"by,omitempty"`
	Issuer string `json:"issuer,omitempty"`

	Label   string `json:"label,omitempty"`
	Message string `json:"message,omitempty"`

	// Value is the native-coin amount in ether
	Value decimal.Decimal `json:"value"`
	// ContractAmount is the token amount using the contract decimals
	ContractAmount decimal.Decimal `json:"contractAmount"`
	TokenFee       decimal.Decimal `json:"tokenFee"`
	EtherFee       decimal.Decimal `json:"etherFee"`

	GasPrice uint64 `json:"gasPrice"`
	GasUsed  uint64 `json:"gasUsed"`
	Nonce    uint64 `json:"nonce"`

	Pending                   bool `json:"pending"`
	Succeeded                 bool `json:"succeeded"`
	AdminOperation            bool `json:"adminOperation"`
	ExceededMaxWaitMiningTime bool `json:"exceededMaxWaitMiningTime"`
	NoContractFunds           bool `json:"noContractFunds"`
	Boost                     bool `json:"boost"`

	SendingAttemptCount int       `json:"sendingAttemptCount"`
	Timestamp           time.Time `json:"timestamp"`
	SentTimestamp       time.Time `json:"sentTimestamp"`
	RawTransaction      string    `json:"rawTransaction,omitempty"`

	State TxState `json:"state"`
}

// NewOutgoingTransaction creates a signed transaction waiting to be broadcast.
func NewOutgoingTransaction(networkID uint64, hash, rawTransaction string, now time.Time) *TransactionDetail {
	return &TransactionDetail{
		Hash:           hash,
		NetworkID:      networkID,
		RawTransaction: rawTransaction,
		Pending:        true,
		Timestamp:      now,
		State:          TxStateUnsent,
	}
}

// NewObservedTransaction creates a record for a transaction first seen on
// chain, broadcast by someone else.
func NewObservedTransaction(networkID uint64, hash string, now time.Time) *TransactionDetail {
	return &TransactionDetail{
		Hash:          hash,
		NetworkID:     networkID,
		Pending:       true,
		Timestamp:     now,
		SentTimestamp: now,
		State:         TxStateSent,
	}
}

// CurrentState returns the lifecycle state, deriving it from the flags for
// records persisted without one.
func (t *TransactionDetail) CurrentState() TxState {
	if t.State != "" {
		return t.State
	}
	switch {
	case t.Pending && t.SentTimestamp.IsZero() && t.RawTransaction != "":
		return TxStateUnsent
	case t.Pending:
		return TxStateSent
	case t.Succeeded:
		return TxStateConfirmedSuccess
	case t.ExceededMaxWaitMiningTime:
		return TxStateTimedOutFailure
	default:
		return TxStateConfirmedFailure
	}
}

func (t *TransactionDetail) transition(to TxState) error {
	from := t.CurrentState()
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s (tx %s)", ErrInvalidTransition, from, to, t.Hash)
	}
	t.State = to
	switch to {
	case TxStateUnsent, TxStateSent:
		t.Pending = true
		t.Succeeded = false
	case TxStateConfirmedSuccess:
		t.Pending = false
		t.Succeeded = true
	default:
		t.Pending = false
		t.Succeeded = false
	}
	return nil
}

// MarkSent records one broadcast attempt.
func (t *TransactionDetail) MarkSent(now time.Time) error {
	if err := t.transition(TxStateSent); err != nil {
		return err
	}
	t.SendingAttemptCount++
	t.SentTimestamp = now
	return nil
}

// Requeue puts a broadcast transaction back in the send queue.
func (t *TransactionDetail) Requeue() error {
	if err := t.transition(TxStateUnsent); err != nil {
		return err
	}
	t.SentTimestamp = time.Time{}
	return nil
}

// MarkConfirmed records the outcome read from a mined receipt.
func (t *TransactionDetail) MarkConfirmed(succeeded bool) error {
	to := TxStateConfirmedFailure
	if succeeded {
		to = TxStateConfirmedSuccess
	}
	if err := t.transition(to); err != nil {
		return err
	}
	t.ExceededMaxWaitMiningTime = false
	return nil
}

// MarkTimedOut fails a transaction that never reached the chain and releases
// its nonce.
func (t *TransactionDetail) MarkTimedOut() error {
	if err := t.transition(TxStateTimedOutFailure); err != nil {
		return err
	}
	t.ExceededMaxWaitMiningTime = true
	t.Nonce = 0
	return nil
}

// MarkFailed gives up on a transaction without a mined receipt and releases
// its nonce.
func (t *TransactionDetail) MarkFailed() error {
	if err := t.transition(TxStateConfirmedFailure); err != nil {
		return err
	}
	t.Nonce = 0
	return nil
}

// ClearContractFields resets everything the decoder derives from contract
// logs, used when the transaction turns out to be a plain coin transfer.
func (t *TransactionDetail) ClearContractFields() {
	t.ContractAddress = ""
	t.ContractMethodName = ""
	t.ContractAmount = decimal.Zero
	t.TokenFee = decimal.Zero
	t.EtherFee = decimal.Zero
	t.NoContractFunds = false
	t.AdminOperation = false
}

// HasRawTransaction reports whether a signed payload is retained for broadcast.
func (t *TransactionDetail) HasRawTransaction() bool {
	return t.RawTransaction != ""
}

// Validate checks the record invariants.
func (t *TransactionDetail) Validate() error {
	if t.Hash == "" {
		return errors.New("transaction hash is required")
	}
	state := t.CurrentState()
	if t.Pending == state.IsTerminal() {
		return fmt.Errorf("pending flag %t inconsistent with state %s", t.Pending, state)
	}
	if t.Pending && t.Timestamp.IsZero() {
		return errors.New("pending transaction must have a timestamp")
	}
	if state == TxStateSent && t.SentTimestamp.IsZero() {
		return errors.New("sent transaction must have a sent timestamp")
	}
	if (state == TxStateConfirmedSuccess) != t.Succeeded {
		return fmt.Errorf("succeeded flag %t inconsistent with state %s", t.Succeeded, state)
	}
	return nil
}

// Clone returns a copy of the record.
func (t *TransactionDetail) Clone() *TransactionDetail {
	c := *t
	return &c
}
