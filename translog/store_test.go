package translog

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/transferout/keyvaluedb"
	"github.com/alphabill-org/transferout/keyvaluedb/boltdb"
	"github.com/alphabill-org/transferout/keyvaluedb/memorydb"
	"github.com/alphabill-org/transferout/types"
)

func testStates(t *testing.T, cnt int) []*types.TransactionState {
	t.Helper()
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var res []*types.TransactionState
	for i := 0; i < cnt; i++ {
		req := &types.TransferRequest{
			TraceID:                uuid.New(),
			Amounts:                types.Amounts{Cashable: int64(1000 * (i + 1))},
			AssociatedTransactions: []int64{int64(i)},
			Reason:                 types.CashOut,
		}
		res = append(res, types.NewTransactionState(uuid.New(), req, true, start.Add(time.Duration(i)*time.Second)))
	}
	return res
}

func backends(t *testing.T) map[string]func(t *testing.T) keyvaluedb.DB {
	return map[string]func(t *testing.T) keyvaluedb.DB{
		"memorydb": func(t *testing.T) keyvaluedb.DB { return memorydb.New() },
		"boltdb": func(t *testing.T) keyvaluedb.DB {
			db, err := boltdb.New(filepath.Join(t.TempDir(), "translog.db"))
			require.NoError(t, err)
			t.Cleanup(func() { require.NoError(t, db.Close()) })
			return db
		},
	}
}

func TestNew(t *testing.T) {
	s, err := New(nil)
	require.EqualError(t, err, "transaction log database is nil")
	require.Nil(t, s)
}

func TestStore_PutGet(t *testing.T) {
	for name, newDB := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s, err := New(newDB(t))
			require.NoError(t, err)

			require.ErrorIs(t, s.Put(nil), errNilState)
			require.EqualError(t, s.Put(&types.TransactionState{}), "transaction id is not assigned")

			ts := testStates(t, 1)[0]
			require.NoError(t, s.Put(ts))

			got, err := s.Get(ts.TransactionID)
			require.NoError(t, err)
			require.Equal(t, ts.TransactionID, got.TransactionID)
			require.Equal(t, ts.TraceID, got.TraceID)
			require.Equal(t, ts.Requested, got.Requested)
			require.Equal(t, ts.AssociatedTransactions, got.AssociatedTransactions)
			require.Equal(t, types.StateRequested, got.State)
			require.Equal(t, types.CashOut, got.Reason)
			require.True(t, got.OwnsTransactionID)
			require.True(t, ts.Created.Equal(got.Created))

			_, err = s.Get(uuid.New())
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_PendingAndArchive(t *testing.T) {
	for name, newDB := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s, err := New(newDB(t))
			require.NoError(t, err)

			states := testStates(t, 4)
			// store in reverse order, listing must be sorted by creation time
			for i := len(states) - 1; i >= 0; i-- {
				require.NoError(t, s.Put(states[i]))
			}
			pending, err := s.Pending()
			require.NoError(t, err)
			require.Len(t, pending, 4)
			for i, ts := range pending {
				require.Equal(t, states[i].TransactionID, ts.TransactionID)
			}

			// completed transaction is moved to archive
			now := time.Now()
			require.NoError(t, states[0].Transition(types.StateInProviderCall, now))
			require.NoError(t, states[0].Transition(types.StateCompleted, now))
			require.NoError(t, s.Put(states[0]))
			// unrecoverable failure is archived too
			require.NoError(t, states[1].Transition(types.StateFailed, now))
			require.NoError(t, s.Put(states[1]))
			// recoverable failure stays pending
			states[2].Recoverable = true
			require.NoError(t, states[2].Transition(types.StateFailed, now))
			require.NoError(t, s.Put(states[2]))

			pending, err = s.Pending()
			require.NoError(t, err)
			require.Len(t, pending, 2)
			require.Equal(t, states[2].TransactionID, pending[0].TransactionID)
			require.Equal(t, types.StateFailed, pending[0].State)
			require.True(t, pending[0].Recoverable)
			require.Equal(t, states[3].TransactionID, pending[1].TransactionID)

			archived, err := s.Archived()
			require.NoError(t, err)
			require.Len(t, archived, 2)
			require.Equal(t, types.StateCompleted, archived[0].State)
			require.Equal(t, types.StateFailed, archived[1].State)

			// archived transaction is still readable
			got, err := s.Get(states[0].TransactionID)
			require.NoError(t, err)
			require.Equal(t, types.StateCompleted, got.State)

			n, err := s.Purge()
			require.NoError(t, err)
			require.Equal(t, 2, n)
			archived, err = s.Archived()
			require.NoError(t, err)
			require.Empty(t, archived)
			pending, err = s.Pending()
			require.NoError(t, err)
			require.Len(t, pending, 2)
		})
	}
}

func TestStore_WriteFailure(t *testing.T) {
	db := memorydb.New()
	s, err := New(db)
	require.NoError(t, err)

	expErr := errors.New("disk full")
	db.MockWriteError(expErr)
	ts := testStates(t, 1)[0]
	err = s.Put(ts)
	require.ErrorIs(t, err, expErr)

	db.MockWriteError(nil)
	pending, err := s.Pending()
	require.NoError(t, err)
	require.Empty(t, pending)
}
