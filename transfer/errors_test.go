package transfer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/transferout/types"
)

func TestIsRecoverable(t *testing.T) {
	base := errors.New("paper jam")

	require.False(t, IsRecoverable(nil))
	require.True(t, IsRecoverable(base))
	require.True(t, IsRecoverable(context.DeadlineExceeded))
	require.True(t, IsRecoverable(Recoverable("voucher", base)))
	require.False(t, IsRecoverable(Fatal(base)))
	require.False(t, IsRecoverable(fmt.Errorf("wrapped: %w", Fatal(base))))
}

func TestErrors_messages(t *testing.T) {
	base := errors.New("paper jam")

	err := Recoverable("voucher", base)
	require.EqualError(t, err, `recoverable transfer failure in provider voucher: paper jam`)
	require.ErrorIs(t, err, base)
	var re *RecoverableError
	require.ErrorAs(t, err, &re)
	require.EqualValues(t, "voucher", re.Provider)

	require.EqualError(t, Recoverable("", base), `recoverable transfer failure: paper jam`)

	err = Fatal(base)
	require.EqualError(t, err, `unrecoverable transfer failure: paper jam`)
	require.ErrorIs(t, err, base)
}

func Test_checkClaim(t *testing.T) {
	require.NoError(t, checkClaim(types.NewTransferResult(100, 0, 0), types.Amounts{Cashable: 100}))
	require.NoError(t, checkClaim(types.ZeroTotalResult(), types.Amounts{}))
	require.EqualError(t, checkClaim(types.NewTransferResult(0, 1, 0), types.Amounts{Cashable: 100}),
		`transferred {cashable: 0, promo: 1, noncash: 0} is more than requested {cashable: 100, promo: 0, noncash: 0}`)
	require.ErrorIs(t, checkClaim(types.NewTransferResult(-1, 0, 0), types.Amounts{Cashable: 100}), types.ErrNegativeAmount)
}
