package types

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MillicentsPerCent is the number of base units in a cent.
const MillicentsPerCent = 1000

var (
	ErrNegativeAmount     = errors.New("amount must not be negative")
	ErrAmountOverflow     = errors.New("amount overflows int64")
	ErrUnknownAccountType = errors.New("unknown account type")
)

// AccountType is the credit class of an amount.
type AccountType uint8

const (
	AccountCashable AccountType = iota
	AccountPromo
	AccountNonCash
)

func (at AccountType) String() string {
	switch at {
	case AccountCashable:
		return "cashable"
	case AccountPromo:
		return "promo"
	case AccountNonCash:
		return "noncash"
	default:
		return fmt.Sprintf("AccountType(%d)", uint8(at))
	}
}

func ParseAccountType(s string) (AccountType, error) {
	switch strings.ToLower(s) {
	case "cashable":
		return AccountCashable, nil
	case "promo":
		return AccountPromo, nil
	case "noncash", "non-cash", "non_cash":
		return AccountNonCash, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownAccountType, s)
	}
}

func (at AccountType) MarshalText() ([]byte, error) {
	return []byte(at.String()), nil
}

func (at *AccountType) UnmarshalText(b []byte) (err error) {
	*at, err = ParseAccountType(string(b))
	return err
}

/*
Amounts holds value per credit class, in millicents.
*/
type Amounts struct {
	Cashable int64 `json:"cashable"`
	Promo    int64 `json:"promo"`
	NonCash  int64 `json:"nonCash"`
}

/*
SingleAccount returns Amounts where only the class "at" has non-zero value.
*/
func SingleAccount(at AccountType, amount int64) (Amounts, error) {
	switch at {
	case AccountCashable:
		return Amounts{Cashable: amount}, nil
	case AccountPromo:
		return Amounts{Promo: amount}, nil
	case AccountNonCash:
		return Amounts{NonCash: amount}, nil
	default:
		return Amounts{}, fmt.Errorf("%w: %d", ErrUnknownAccountType, at)
	}
}

func (a Amounts) Get(at AccountType) int64 {
	switch at {
	case AccountCashable:
		return a.Cashable
	case AccountPromo:
		return a.Promo
	case AccountNonCash:
		return a.NonCash
	}
	return 0
}

/*
Total returns sum of all classes. Use CheckedTotal when the values come
from untrusted source.
*/
func (a Amounts) Total() int64 {
	return a.Cashable + a.Promo + a.NonCash
}

/*
CheckedTotal returns sum of all classes or error when any of the classes
is negative or the sum overflows.
*/
func (a Amounts) CheckedTotal() (int64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	sum := int64(0)
	for _, v := range [...]int64{a.Cashable, a.Promo, a.NonCash} {
		if v > math.MaxInt64-sum {
			return 0, ErrAmountOverflow
		}
		sum += v
	}
	return sum, nil
}

func (a Amounts) Validate() error {
	if a.Cashable < 0 || a.Promo < 0 || a.NonCash < 0 {
		return fmt.Errorf("%w: %s", ErrNegativeAmount, a)
	}
	return nil
}

func (a Amounts) IsZero() bool {
	return a == Amounts{}
}

/*
Add returns per class sum of "a" and "b". Both operands must be non-negative.
*/
func (a Amounts) Add(b Amounts) (Amounts, error) {
	if err := errors.Join(a.Validate(), b.Validate()); err != nil {
		return Amounts{}, err
	}
	add := func(x, y int64) (int64, error) {
		if y > math.MaxInt64-x {
			return 0, ErrAmountOverflow
		}
		return x + y, nil
	}
	var r Amounts
	var err error
	if r.Cashable, err = add(a.Cashable, b.Cashable); err != nil {
		return Amounts{}, fmt.Errorf("cashable: %w", err)
	}
	if r.Promo, err = add(a.Promo, b.Promo); err != nil {
		return Amounts{}, fmt.Errorf("promo: %w", err)
	}
	if r.NonCash, err = add(a.NonCash, b.NonCash); err != nil {
		return Amounts{}, fmt.Errorf("noncash: %w", err)
	}
	return r, nil
}

/*
Sub returns per class difference "a - b" where each class is floored at zero,
ie when "b" claims more than "a" has in some class the result for that class is zero.
*/
func (a Amounts) Sub(b Amounts) Amounts {
	sub := func(x, y int64) int64 {
		if y >= x {
			return 0
		}
		return x - y
	}
	return Amounts{
		Cashable: sub(a.Cashable, b.Cashable),
		Promo:    sub(a.Promo, b.Promo),
		NonCash:  sub(a.NonCash, b.NonCash),
	}
}

/*
Covers returns true when each class of "a" is at least the value of the same class in "b".
*/
func (a Amounts) Covers(b Amounts) bool {
	return a.Cashable >= b.Cashable && a.Promo >= b.Promo && a.NonCash >= b.NonCash
}

func (a Amounts) String() string {
	return fmt.Sprintf("{cashable: %d, promo: %d, noncash: %d}", a.Cashable, a.Promo, a.NonCash)
}

/*
FormatMillicents returns amount in currency units with two decimals,
ie 123456 millicents is "1.23".
*/
func FormatMillicents(v int64) string {
	return decimal.New(v, 0).Shift(-5).StringFixed(2)
}

/*
ParseCurrency converts currency string ("12.34") into millicents.
*/
func ParseCurrency(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	mc := d.Shift(5)
	if !mc.IsInteger() {
		return 0, fmt.Errorf("amount %q has more precision than a millicent", s)
	}
	if mc.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || mc.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, fmt.Errorf("amount %q: %w", s, ErrAmountOverflow)
	}
	return mc.IntPart(), nil
}
