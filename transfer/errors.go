package transfer

import (
	"errors"
	"fmt"

	"github.com/alphabill-org/transferout/types"
)

var (
	ErrNoProviders       = errors.New("no transfer providers registered")
	ErrUnknownProvider   = errors.New("unknown transfer provider")
	ErrDuplicateProvider = errors.New("transfer provider already registered")
	ErrNilProvider       = errors.New("transfer provider is nil")
	ErrBusy              = errors.New("another transfer or recovery is in progress")
	ErrDuplicateTransfer = errors.New("transaction is already in the transaction log")
)

/*
RecoverableError is a provider failure which a later recovery may resolve
(ie device timed out in the middle of printing a voucher). The provider
chain moves on to the next provider.
*/
type RecoverableError struct {
	Provider types.ProviderID
	Err      error
}

func (e *RecoverableError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("recoverable transfer failure: %v", e.Err)
	}
	return fmt.Sprintf("recoverable transfer failure in provider %s: %v", e.Provider, e.Err)
}

func (e *RecoverableError) Unwrap() error { return e.Err }

/*
FatalError is a failure which can't be resolved by recovery (invalid request,
amount overflow, corrupt data). No further providers are attempted and the
transaction is marked terminally failed.
*/
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("unrecoverable transfer failure: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func Recoverable(provider types.ProviderID, err error) error {
	return &RecoverableError{Provider: provider, Err: err}
}

func Fatal(err error) error {
	return &FatalError{Err: err}
}

/*
IsRecoverable returns true when "err" is not nil and is not (or doesn't wrap)
a FatalError. Unclassified errors are treated as recoverable as the outcome
of the provider call is unknown.
*/
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	var fe *FatalError
	return !errors.As(err, &fe)
}
