package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/transferout/types"
)

func ids(entries []Entry) []types.ProviderID {
	var r []types.ProviderID
	for _, e := range entries {
		r = append(r, e.ID)
	}
	return r
}

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry("voucher", "")
	require.EqualError(t, err, `priority list item 1 is empty`)
	require.Nil(t, r)

	r, err = NewRegistry("voucher", "handpay", "voucher")
	require.EqualError(t, err, `provider "voucher" is listed more than once in the priority list`)
	require.Nil(t, r)

	r, err = NewRegistry()
	require.NoError(t, err)
	require.ErrorIs(t, r.Validate(), ErrNoProviders)
	require.Empty(t, r.Ordered())
}

func TestRegistry_Register(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	require.EqualError(t, r.Register("", newMockProvider()), `provider id must not be empty`)
	require.ErrorIs(t, r.Register("voucher", nil), ErrNilProvider)
	require.EqualError(t, r.Register("voucher", newMockProvider(), WithTimeout(-time.Second)), `registering "voucher": negative timeout -1s`)

	p := newMockProvider()
	require.NoError(t, r.Register("voucher", p, WithTimeout(time.Second)))
	require.ErrorIs(t, r.Register("voucher", newMockProvider()), ErrDuplicateProvider)
	require.NoError(t, r.Validate())

	e, err := r.Lookup("voucher")
	require.NoError(t, err)
	require.Same(t, p, e.Provider)
	require.Equal(t, time.Second, e.Timeout)
	require.EqualValues(t, "voucher", e.ID)

	_, err = r.Lookup("wallet")
	require.ErrorIs(t, err, ErrUnknownProvider)
	require.False(t, r.AnyActive())
}

func TestRegistry_order(t *testing.T) {
	r, err := NewRegistry("wallet", "voucher")
	require.NoError(t, err)
	require.ErrorIs(t, r.Validate(), ErrNoProviders)

	for _, id := range []types.ProviderID{"handpay", "voucher", "printer", "wallet"} {
		require.NoError(t, r.Register(id, newMockProvider()))
	}
	require.NoError(t, r.Validate())

	// priority list first, then rest in registration order
	require.Equal(t, []types.ProviderID{"wallet", "voucher", "handpay", "printer"}, ids(r.Ordered()))

	chain, err := r.Chain("")
	require.NoError(t, err)
	require.Equal(t, []types.ProviderID{"wallet", "voucher", "handpay", "printer"}, ids(chain))

	chain, err = r.Chain("handpay")
	require.NoError(t, err)
	require.Equal(t, []types.ProviderID{"handpay", "wallet", "voucher", "printer"}, ids(chain))

	chain, err = r.Chain("wallet")
	require.NoError(t, err)
	require.Equal(t, []types.ProviderID{"wallet", "voucher", "handpay", "printer"}, ids(chain))

	chain, err = r.Chain("cheque")
	require.ErrorIs(t, err, ErrUnknownProvider)
	require.Nil(t, chain)
}

func TestRegistry_Validate_unknown_priority(t *testing.T) {
	r, err := NewRegistry("wallet")
	require.NoError(t, err)
	require.NoError(t, r.Register("voucher", newMockProvider()))
	require.ErrorIs(t, r.Validate(), ErrUnknownProvider)
}
