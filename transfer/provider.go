package transfer

import (
	"context"

	"github.com/google/uuid"

	"github.com/alphabill-org/transferout/types"
)

/*
Provider is a mechanism capable of moving credits off the machine (voucher
printer, handpay, wallet).
*/
type Provider interface {
	// Active returns true while the provider has an outstanding transfer.
	Active() bool
	/*
		Transfer attempts to move req.Amounts. Must be idempotent with respect
		to req.TransactionID: calling it twice for the same transaction must not
		move the funds twice.
		Amounts returned together with an error are counted as transferred.
	*/
	Transfer(ctx context.Context, req ProviderRequest) (types.TransferResult, error)
	// CanRecover is answered without side effects.
	CanRecover(transactionID uuid.UUID) bool
	/*
		Recover resumes or finalizes transaction the provider started earlier.
		Must report success without moving the funds again when the transaction
		was completed before the crash.
	*/
	Recover(ctx context.Context, ts *types.TransactionState) (bool, error)
}

// ProviderRequest is the residual part of the transfer request handed to a provider.
type ProviderRequest struct {
	TransactionID          uuid.UUID
	TraceID                uuid.UUID
	Amounts                types.Amounts
	AssociatedTransactions []int64
	Reason                 types.TransferOutReason
}
