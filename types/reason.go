package types

import (
	"fmt"
	"strings"
)

// TransferOutReason describes why credits are moved off the machine.
type TransferOutReason uint8

const (
	CashOut TransferOutReason = iota
	LargeWin
	BonusPay
	CashWin
)

var reasonNames = [...]string{
	CashOut:  "CashOut",
	LargeWin: "LargeWin",
	BonusPay: "BonusPay",
	CashWin:  "CashWin",
}

func (r TransferOutReason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("TransferOutReason(%d)", uint8(r))
}

func (r TransferOutReason) Valid() bool {
	return int(r) < len(reasonNames)
}

/*
AffectsBalance returns true when the transfer debits player balance directly.
Wins and bonuses have been accounted for elsewhere so only CashOut affects balance.
*/
func (r TransferOutReason) AffectsBalance() bool {
	return r == CashOut
}

func ParseReason(s string) (TransferOutReason, error) {
	for i, n := range reasonNames {
		if strings.EqualFold(n, s) {
			return TransferOutReason(i), nil
		}
	}
	return 0, fmt.Errorf("unknown transfer out reason %q", s)
}

func (r TransferOutReason) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid transfer out reason %d", uint8(r))
	}
	return []byte(r.String()), nil
}

func (r *TransferOutReason) UnmarshalText(b []byte) (err error) {
	*r, err = ParseReason(string(b))
	return err
}
