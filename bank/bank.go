/*
Package bank is the balance source of the transfer coordinator. The real
ledger is an external system, Ledger is in-memory stand-in for it.
*/
package bank

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alphabill-org/transferout/types"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

// Bank answers the available balance per account class.
type Bank interface {
	Balance(ctx context.Context, at types.AccountType) (int64, error)
}

type Ledger struct {
	mu       sync.RWMutex
	balances types.Amounts
}

func NewLedger(initial types.Amounts) (*Ledger, error) {
	if err := initial.Validate(); err != nil {
		return nil, fmt.Errorf("invalid initial balance: %w", err)
	}
	return &Ledger{balances: initial}, nil
}

func (l *Ledger) Balance(ctx context.Context, at types.AccountType) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, err := types.SingleAccount(at, 0); err != nil {
		return 0, err
	}
	return l.balances.Get(at), nil
}

// Balances returns balance of all the account classes.
func (l *Ledger) Balances() types.Amounts {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances
}

func (l *Ledger) Deposit(amounts types.Amounts) error {
	if err := amounts.Validate(); err != nil {
		return fmt.Errorf("invalid deposit: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	sum, err := l.balances.Add(amounts)
	if err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	l.balances = sum
	return nil
}

/*
Debit removes "amounts" from the ledger. Either all the account classes are
debited or none.
*/
func (l *Ledger) Debit(amounts types.Amounts) error {
	if err := amounts.Validate(); err != nil {
		return fmt.Errorf("invalid debit: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.balances.Covers(amounts) {
		return fmt.Errorf("debit %s from %s: %w", amounts, l.balances, ErrInsufficientFunds)
	}
	l.balances = l.balances.Sub(amounts)
	return nil
}

/*
CheckBalance verifies that "bank" holds at least "amounts" in every account
class. Zero amounts are not queried.
*/
func CheckBalance(ctx context.Context, bank Bank, amounts types.Amounts) error {
	for _, at := range []types.AccountType{types.AccountCashable, types.AccountPromo, types.AccountNonCash} {
		want := amounts.Get(at)
		if want == 0 {
			continue
		}
		have, err := bank.Balance(ctx, at)
		if err != nil {
			return fmt.Errorf("querying %s balance: %w", at, err)
		}
		if have < want {
			return fmt.Errorf("%s balance %d is less than requested %d: %w", at, have, want, ErrInsufficientFunds)
		}
	}
	return nil
}
