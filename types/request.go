package types

import (
	"fmt"

	"github.com/google/uuid"
)

/*
ProviderID identifies a transfer mechanism (ie "voucher", "handpay", "wallet")
in the provider registry.
*/
type ProviderID string

func (id ProviderID) String() string { return string(id) }

type (
	/*
		TransferRequest is one logical attempt to move credits off the machine.

		When TransactionID is uuid.Nil the coordinator allocates the id internally
		and releases it when done. Otherwise the caller owns the id and is responsible
		for releasing it with the transaction coordinator.
	*/
	TransferRequest struct {
		TransactionID          uuid.UUID         `json:"transactionId"`
		TraceID                uuid.UUID         `json:"traceId"`
		Amounts                Amounts           `json:"amounts"`
		AssociatedTransactions []int64           `json:"associatedTransactions,omitempty"`
		Reason                 TransferOutReason `json:"reason"`
		ProviderHint           ProviderID        `json:"providerHint,omitempty"`
	}
)

/*
NewSingleAccountRequest creates request to transfer "amount" from single account class.
*/
func NewSingleAccountRequest(traceID uuid.UUID, at AccountType, amount int64, reason TransferOutReason) (*TransferRequest, error) {
	amounts, err := SingleAccount(at, amount)
	if err != nil {
		return nil, err
	}
	return &TransferRequest{TraceID: traceID, Amounts: amounts, Reason: reason}, nil
}

/*
IsValid checks that the request is well formed, it doesn't check the amounts
against any balance.
*/
func (r *TransferRequest) IsValid() error {
	if r == nil {
		return fmt.Errorf("transfer request is nil")
	}
	if !r.Reason.Valid() {
		return fmt.Errorf("invalid transfer out reason %d", r.Reason)
	}
	if _, err := r.Amounts.CheckedTotal(); err != nil {
		return fmt.Errorf("invalid amounts: %w", err)
	}
	return nil
}
