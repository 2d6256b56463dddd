package memorydb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/transferout/keyvaluedb"
)

func keys(t *testing.T, db *MemoryDB, prefix string) []string {
	t.Helper()
	var res []string
	require.NoError(t, db.ForEach([]byte(prefix), func(key []byte, _ func(any) error) error {
		res = append(res, string(key))
		return nil
	}))
	return res
}

func TestMemDB_GetPutDelete(t *testing.T) {
	db := New()
	require.Zero(t, db.Len())
	var value string
	found, err := db.Get([]byte("key"), &value)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, db.Put([]byte("key"), "value"))
	require.Equal(t, 1, db.Len())
	found, err = db.Get([]byte("key"), &value)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "value", value)

	require.NoError(t, db.Delete([]byte("key")))
	found, err = db.Get([]byte("key"), &value)
	require.NoError(t, err)
	require.False(t, found)
	require.Zero(t, db.Len())

	require.ErrorIs(t, db.Put(nil, "value"), keyvaluedb.ErrInvalidKey)
	require.ErrorContains(t, db.Put([]byte("ch"), make(chan int)), "encoding value of key 6368")

	require.NoError(t, db.Put([]byte("key"), "value"))
	var n int
	found, err = db.Get([]byte("key"), &n)
	require.True(t, found)
	require.ErrorContains(t, err, "decoding value of key")
}

func TestMemDB_MockWriteError(t *testing.T) {
	db := New()
	expErr := errors.New("disk is full")
	db.MockWriteError(expErr)
	require.ErrorIs(t, db.Put([]byte("key"), "value"), expErr)
	require.ErrorIs(t, db.Delete([]byte("key")), expErr)
	require.ErrorIs(t, db.Update(func(tx keyvaluedb.Tx) error {
		return tx.Put([]byte("key"), "value")
	}), expErr)
	require.Zero(t, db.Len())

	db.MockWriteError(nil)
	require.NoError(t, db.Put([]byte("key"), "value"))
}

func TestMemDB_ForEach(t *testing.T) {
	db := New()
	require.Empty(t, keys(t, db, ""))

	for _, k := range []string{"p/2", "a/1", "p/1", "s/x/1"} {
		require.NoError(t, db.Put([]byte(k), k))
	}
	require.Equal(t, []string{"a/1", "p/1", "p/2", "s/x/1"}, keys(t, db, ""))
	require.Equal(t, []string{"p/1", "p/2"}, keys(t, db, "p/"))
	require.Empty(t, keys(t, db, "x"))

	// callback may modify the db
	require.NoError(t, db.ForEach([]byte("p/"), func(key []byte, decode func(any) error) error {
		var v string
		require.NoError(t, decode(&v))
		require.Equal(t, string(key), v)
		return db.Delete(key)
	}))
	require.Equal(t, []string{"a/1", "s/x/1"}, keys(t, db, ""))

	expErr := errors.New("stop")
	require.ErrorIs(t, db.ForEach(nil, func([]byte, func(any) error) error { return expErr }), expErr)
}

func TestMemDB_Update(t *testing.T) {
	db := New()
	require.NoError(t, db.Put([]byte("p/1"), "1"))

	require.NoError(t, db.Update(func(tx keyvaluedb.Tx) error {
		require.NoError(t, tx.Put([]byte("a/1"), "1"))
		require.NoError(t, tx.Delete([]byte("p/1")))
		// changes are visible inside the tx only
		var v string
		found, err := tx.Get([]byte("a/1"), &v)
		require.NoError(t, err)
		require.True(t, found)
		_, ok := db.data["a/1"]
		require.False(t, ok)
		return nil
	}))
	require.Equal(t, []string{"a/1"}, keys(t, db, ""))

	expErr := errors.New("nope")
	require.ErrorIs(t, db.Update(func(tx keyvaluedb.Tx) error {
		require.NoError(t, tx.Delete([]byte("a/1")))
		return expErr
	}), expErr)
	require.Equal(t, []string{"a/1"}, keys(t, db, ""))
}
