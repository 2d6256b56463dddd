/*
Package keyvaluedb defines the storage used for the transaction log and the
provider journals. Values are encoded by the backend, keys are opaque byte
strings and callers group records by key prefix.
*/
package keyvaluedb

import (
	"errors"
	"reflect"
)

var (
	ErrInvalidKey = errors.New("invalid key")
	ErrNilValue   = errors.New("value is nil")
)

type (
	Getter interface {
		// Get decodes value stored under "key" into "v", returns false when
		// the key is not present.
		Get(key []byte, v any) (bool, error)
	}

	Putter interface {
		Put(key []byte, v any) error
		// Delete of missing key is not an error.
		Delete(key []byte) error
	}

	// Tx is read-write view of the DB valid only inside Update callback.
	Tx interface {
		Getter
		Putter
	}

	/*
	VisitFn is called for every record in the scanned range. The key is only
	valid during the call. Returning an error stops the scan.
	*/
	VisitFn func(key []byte, decode func(v any) error) error

	DB interface {
		Getter
		Putter
		// ForEach visits records whose key starts with "prefix" in ascending key order.
		ForEach(prefix []byte, fn VisitFn) error
		/*
		Update runs "fn" in a read-write transaction. Changes are committed
		when fn returns nil and discarded otherwise, the error of fn is
		returned as is.
		*/
		Update(fn func(tx Tx) error) error
	}
)

// ValidateKey returns ErrInvalidKey for empty key.
func ValidateKey(key []byte) error {
	if len(key) == 0 {
		return ErrInvalidKey
	}
	return nil
}

/*
ValidateEntry checks the key and that "v" is not nil (nil pointer inside
non-nil interface counts as nil too).
*/
func ValidateEntry(key []byte, v any) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if v == nil {
		return ErrNilValue
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return ErrNilValue
	}
	return nil
}
