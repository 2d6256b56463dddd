package translog

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/alphabill-org/transferout/keyvaluedb"
	"github.com/alphabill-org/transferout/types"
)

/*
Records are kept in single KV store under two key prefixes: transactions which
may still need recovery under "pending" prefix and finished transactions under
"archive" prefix. Moving record from one to the other is done in single DB tx.
*/
var (
	pendingPrefix = []byte("p/")
	archivePrefix = []byte("a/")
)

var (
	ErrNotFound = errors.New("transaction not found")
	errNilState = errors.New("transaction state is nil")
)

/*
Store is the durable transaction log: transaction id -> types.TransactionState.
*/
type Store struct {
	db keyvaluedb.DB
	mu sync.Mutex
}

func New(db keyvaluedb.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("transaction log database is nil")
	}
	return &Store{db: db}, nil
}

func pendingKey(id uuid.UUID) []byte {
	return append(slices.Clone(pendingPrefix), id[:]...)
}

func archiveKey(id uuid.UUID) []byte {
	return append(slices.Clone(archivePrefix), id[:]...)
}

/*
Put stores the state of the transaction. Transactions which may need recovery
are kept in the pending set, others are moved into archive.
*/
func (s *Store) Put(ts *types.TransactionState) error {
	if ts == nil {
		return errNilState
	}
	if ts.TransactionID == uuid.Nil {
		return fmt.Errorf("transaction id is not assigned")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx keyvaluedb.Tx) error {
		if ts.NeedsRecovery() {
			if err := tx.Put(pendingKey(ts.TransactionID), ts); err != nil {
				return fmt.Errorf("writing pending transaction %s: %w", ts.TransactionID, err)
			}
			return nil
		}
		if err := tx.Put(archiveKey(ts.TransactionID), ts); err != nil {
			return fmt.Errorf("archiving transaction %s: %w", ts.TransactionID, err)
		}
		if err := tx.Delete(pendingKey(ts.TransactionID)); err != nil {
			return fmt.Errorf("deleting pending transaction %s: %w", ts.TransactionID, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating transaction log: %w", err)
	}
	return nil
}

/*
Get returns the state of the transaction, either from the pending set or
from archive. Returns ErrNotFound when the id is unknown.
*/
func (s *Store) Get(id uuid.UUID) (*types.TransactionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range [][]byte{pendingKey(id), archiveKey(id)} {
		ts := &types.TransactionState{}
		found, err := s.db.Get(key, ts)
		if err != nil {
			return nil, fmt.Errorf("reading transaction %s: %w", id, err)
		}
		if found {
			return ts, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

/*
Pending returns all transactions which may need recovery, oldest first.
*/
func (s *Store) Pending() ([]*types.TransactionState, error) {
	return s.list(pendingPrefix)
}

/*
Archived returns finished transactions, oldest first.
*/
func (s *Store) Archived() ([]*types.TransactionState, error) {
	return s.list(archivePrefix)
}

func (s *Store) list(prefix []byte) ([]*types.TransactionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []*types.TransactionState
	err := s.db.ForEach(prefix, func(key []byte, decode func(any) error) error {
		ts := &types.TransactionState{}
		if err := decode(ts); err != nil {
			return fmt.Errorf("decoding transaction state (key %X): %w", key, err)
		}
		res = append(res, ts)
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(res, func(a, b *types.TransactionState) int {
		return a.Created.Compare(b.Created)
	})
	return res, nil
}

/*
Purge removes archived transactions, pending ones are never removed.
Returns number of removed records.
*/
func (s *Store) Purge() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys [][]byte
	if err := s.db.ForEach(archivePrefix, func(key []byte, _ func(any) error) error {
		keys = append(keys, bytes.Clone(key))
		return nil
	}); err != nil {
		return 0, fmt.Errorf("listing archived transactions: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	err := s.db.Update(func(tx keyvaluedb.Tx) error {
		for _, key := range keys {
			if err := tx.Delete(key); err != nil {
				return fmt.Errorf("deleting archived transaction (key %X): %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("purging archive: %w", err)
	}
	return len(keys), nil
}
