package types

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// State of the transfer transaction as persisted in the transaction log.
type State uint8

const (
	StateRequested State = iota + 1
	StateInProviderCall
	StateCompleted
	StateFailed
	StateRecovering
)

/*
transitions lists allowed state changes. InProviderCall -> InProviderCall
happens when the provider chain moves on to the next provider.
Failed -> Recovering is only allowed for recoverable failures, see
TransactionState.Transition.
*/
var transitions = map[State][]State{
	StateRequested:      {StateInProviderCall, StateCompleted, StateFailed, StateRecovering},
	StateInProviderCall: {StateInProviderCall, StateCompleted, StateFailed, StateRecovering},
	StateRecovering:     {StateRecovering, StateCompleted, StateFailed},
	StateFailed:         {StateRecovering},
	StateCompleted:      {},
}

func (s State) String() string {
	switch s {
	case StateRequested:
		return "Requested"
	case StateInProviderCall:
		return "InProviderCall"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	case StateRecovering:
		return "Recovering"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

func (s State) CanTransitionTo(to State) bool {
	return slices.Contains(transitions[s], to)
}

func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

func ParseState(v string) (State, error) {
	for s := range transitions {
		if strings.EqualFold(s.String(), v) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown transaction state %q", v)
}

/*
TransactionState is the durable record of a transfer. It is created when the
transfer is accepted and removed from the log when it reaches a terminal state
with nothing left to recover.
*/
type TransactionState struct {
	TransactionID          uuid.UUID         `json:"transactionId"`
	TraceID                uuid.UUID         `json:"traceId"`
	Requested              Amounts           `json:"requested"`
	Transferred            Amounts           `json:"transferred"`
	AssociatedTransactions []int64           `json:"associatedTransactions,omitempty"`
	Reason                 TransferOutReason `json:"reason"`
	ProviderHint           ProviderID        `json:"providerHint,omitempty"`
	ProviderInUse          ProviderID        `json:"providerInUse,omitempty"`
	// providers which have been called for this transaction, in call order
	Attempted []ProviderID `json:"attempted,omitempty"`
	State     State        `json:"state"`
	// Recoverable is set for failures which can be resolved by recovery.
	Recoverable bool `json:"recoverable,omitempty"`
	// OwnsTransactionID is true when the id was allocated by the coordinator (not by the caller).
	OwnsTransactionID bool      `json:"ownsTransactionId,omitempty"`
	LastError         string    `json:"lastError,omitempty"`
	Created           time.Time `json:"created"`
	Updated           time.Time `json:"updated"`
}

func NewTransactionState(txID uuid.UUID, req *TransferRequest, ownsID bool, now time.Time) *TransactionState {
	return &TransactionState{
		TransactionID:          txID,
		TraceID:                req.TraceID,
		Requested:              req.Amounts,
		AssociatedTransactions: slices.Clone(req.AssociatedTransactions),
		Reason:                 req.Reason,
		ProviderHint:           req.ProviderHint,
		State:                  StateRequested,
		OwnsTransactionID:      ownsID,
		Created:                now,
		Updated:                now,
	}
}

/*
Transition moves the transaction into state "to" if allowed by the
transition table.
*/
func (ts *TransactionState) Transition(to State, now time.Time) error {
	if !ts.State.CanTransitionTo(to) {
		return fmt.Errorf("invalid transaction state transition %s -> %s", ts.State, to)
	}
	if ts.State == StateFailed && to == StateRecovering && !ts.Recoverable {
		return fmt.Errorf("transaction %s failed unrecoverably", ts.TransactionID)
	}
	ts.State = to
	ts.Updated = now
	return nil
}

// Residual returns amounts which are still to be transferred.
func (ts *TransactionState) Residual() Amounts {
	return ts.Requested.Sub(ts.Transferred)
}

/*
NeedsRecovery returns true for transactions which were interrupted or which
failed in a way that recovery may resolve.
*/
func (ts *TransactionState) NeedsRecovery() bool {
	switch ts.State {
	case StateRequested, StateInProviderCall, StateRecovering:
		return true
	case StateFailed:
		return ts.Recoverable
	default:
		return false
	}
}

func (ts *TransactionState) Clone() *TransactionState {
	c := *ts
	c.AssociatedTransactions = slices.Clone(ts.AssociatedTransactions)
	c.Attempted = slices.Clone(ts.Attempted)
	return &c
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) (err error) {
	*s, err = ParseState(string(b))
	return err
}
