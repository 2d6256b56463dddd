/*
Package boltdb implements keyvaluedb.DB on top of single bucket of Bolt DB
file. Bolt takes exclusive lock on the file so only one process may have the
transaction log open at a time.
*/
package boltdb

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/alphabill-org/transferout/keyvaluedb"
)

const (
	defaultBucket = "transferout"
	// how long to wait for other process to release the file
	lockTimeout = 3 * time.Second
)

type (
	EncodeFn func(v any) ([]byte, error)
	DecodeFn func(data []byte, v any) error

	BoltDB struct {
		db     *bolt.DB
		bucket []byte
		encode EncodeFn
		decode DecodeFn
	}

	Option func(*BoltDB)

	// tx adapts bucket of read-write bolt transaction to keyvaluedb.Tx
	tx struct {
		b   *bolt.Bucket
		enc EncodeFn
		dec DecodeFn
	}
)

var _ keyvaluedb.DB = (*BoltDB)(nil)

/*
WithCodec replaces the default CBOR serialization of values.
*/
func WithCodec(enc EncodeFn, dec DecodeFn) Option {
	return func(db *BoltDB) {
		db.encode = enc
		db.decode = dec
	}
}

func WithBucket(name string) Option {
	return func(db *BoltDB) {
		db.bucket = []byte(name)
	}
}

/*
New opens the DB file, the file and its directory are created when missing.
*/
func New(dbFile string, opts ...Option) (*BoltDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbFile), 0700); err != nil {
		return nil, fmt.Errorf("creating directory for db file: %w", err)
	}
	bdb, err := bolt.Open(dbFile, 0600, &bolt.Options{Timeout: lockTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db %s: %w", dbFile, err)
	}
	db := &BoltDB{db: bdb, bucket: []byte(defaultBucket)}
	if db.encode, db.decode, err = cborCodec(); err != nil {
		return nil, errors.Join(err, bdb.Close())
	}
	for _, opt := range opts {
		opt(db)
	}

	if err := bdb.Update(func(btx *bolt.Tx) error {
		_, err := btx.CreateBucketIfNotExists(db.bucket)
		return err
	}); err != nil {
		return nil, errors.Join(fmt.Errorf("creating bucket %q: %w", db.bucket, err), bdb.Close())
	}
	return db, nil
}

/*
cborCodec keeps timestamps of the transaction states with nanosecond precision.
*/
func cborCodec() (EncodeFn, DecodeFn, error) {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return nil, nil, fmt.Errorf("creating CBOR encoder: %w", err)
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, nil, fmt.Errorf("creating CBOR decoder: %w", err)
	}
	return em.Marshal, dm.Unmarshal, nil
}

func (db *BoltDB) Path() string {
	return db.db.Path()
}

func (db *BoltDB) Get(key []byte, v any) (found bool, _ error) {
	if err := keyvaluedb.ValidateEntry(key, v); err != nil {
		return false, err
	}
	err := db.db.View(func(btx *bolt.Tx) error {
		data := btx.Bucket(db.bucket).Get(key)
		if found = data != nil; !found {
			return nil
		}
		return db.decode(data, v)
	})
	if err != nil {
		return found, fmt.Errorf("reading key %X: %w", key, err)
	}
	return found, nil
}

func (db *BoltDB) Put(key []byte, v any) error {
	return db.Update(func(t keyvaluedb.Tx) error { return t.Put(key, v) })
}

func (db *BoltDB) Delete(key []byte) error {
	return db.Update(func(t keyvaluedb.Tx) error { return t.Delete(key) })
}

func (db *BoltDB) ForEach(prefix []byte, fn keyvaluedb.VisitFn) error {
	return db.db.View(func(btx *bolt.Tx) error {
		c := btx.Bucket(db.bucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			data := v
			if err := fn(k, func(out any) error { return db.decode(data, out) }); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *BoltDB) Update(fn func(keyvaluedb.Tx) error) error {
	return db.db.Update(func(btx *bolt.Tx) error {
		return fn(&tx{b: btx.Bucket(db.bucket), enc: db.encode, dec: db.decode})
	})
}

func (db *BoltDB) Close() error {
	if db.db == nil {
		return nil
	}
	return db.db.Close()
}

func (t *tx) Get(key []byte, v any) (bool, error) {
	if err := keyvaluedb.ValidateEntry(key, v); err != nil {
		return false, err
	}
	data := t.b.Get(key)
	if data == nil {
		return false, nil
	}
	if err := t.dec(data, v); err != nil {
		return true, fmt.Errorf("decoding value of key %X: %w", key, err)
	}
	return true, nil
}

func (t *tx) Put(key []byte, v any) error {
	if err := keyvaluedb.ValidateEntry(key, v); err != nil {
		return err
	}
	data, err := t.enc(v)
	if err != nil {
		return fmt.Errorf("encoding value of key %X: %w", key, err)
	}
	return t.b.Put(key, data)
}

func (t *tx) Delete(key []byte) error {
	if err := keyvaluedb.ValidateKey(key); err != nil {
		return err
	}
	return t.b.Delete(key)
}
