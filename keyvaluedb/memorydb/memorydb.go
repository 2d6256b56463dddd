/*
Package memorydb implements keyvaluedb.DB in memory, used by tests and when
the transaction log doesn't need to survive restart.
*/
package memorydb

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/alphabill-org/transferout/keyvaluedb"
)

type (
	MemoryDB struct {
		mu       sync.RWMutex
		data     map[string][]byte
		writeErr error
	}

	// tx collects changes into copy of the data which replaces the original on commit.
	tx struct {
		data     map[string][]byte
		writeErr error
	}
)

var _ keyvaluedb.DB = (*MemoryDB)(nil)

// New returns empty DB, values are stored JSON encoded.
func New() *MemoryDB {
	return &MemoryDB{data: make(map[string][]byte)}
}

/*
MockWriteError makes all following writes (including writes in Update)
fail with "err". Pass nil to reset.
*/
func (db *MemoryDB) MockWriteError(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.writeErr = err
}

func (db *MemoryDB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.data)
}

func (db *MemoryDB) Get(key []byte, v any) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return get(db.data, key, v)
}

func (db *MemoryDB) Put(key []byte, v any) error {
	return db.Update(func(t keyvaluedb.Tx) error { return t.Put(key, v) })
}

func (db *MemoryDB) Delete(key []byte) error {
	return db.Update(func(t keyvaluedb.Tx) error { return t.Delete(key) })
}

/*
ForEach visits snapshot taken at the start of the call so "fn" may modify
the DB.
*/
func (db *MemoryDB) ForEach(prefix []byte, fn keyvaluedb.VisitFn) error {
	db.mu.RLock()
	snapshot := make(map[string][]byte)
	for k, v := range db.data {
		if strings.HasPrefix(k, string(prefix)) {
			snapshot[k] = v
		}
	}
	db.mu.RUnlock()

	for _, k := range slices.Sorted(maps.Keys(snapshot)) {
		data := snapshot[k]
		if err := fn([]byte(k), func(v any) error { return json.Unmarshal(data, v) }); err != nil {
			return err
		}
	}
	return nil
}

func (db *MemoryDB) Update(fn func(keyvaluedb.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	t := &tx{data: maps.Clone(db.data), writeErr: db.writeErr}
	if err := fn(t); err != nil {
		return err
	}
	db.data = t.data
	return nil
}

func get(data map[string][]byte, key []byte, v any) (bool, error) {
	if err := keyvaluedb.ValidateEntry(key, v); err != nil {
		return false, err
	}
	b, ok := data[string(key)]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return true, fmt.Errorf("decoding value of key %X: %w", key, err)
	}
	return true, nil
}

func (t *tx) Get(key []byte, v any) (bool, error) {
	return get(t.data, key, v)
}

func (t *tx) Put(key []byte, v any) error {
	if err := keyvaluedb.ValidateEntry(key, v); err != nil {
		return err
	}
	if t.writeErr != nil {
		return t.writeErr
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding value of key %X: %w", key, err)
	}
	t.data[string(key)] = b
	return nil
}

func (t *tx) Delete(key []byte) error {
	if err := keyvaluedb.ValidateKey(key); err != nil {
		return err
	}
	if t.writeErr != nil {
		return t.writeErr
	}
	delete(t.data, string(key))
	return nil
}
