package common

import (
	"errors"
	"fmt"
)

// StoreErrType tells why a storage layer refused a read or a write.
type StoreErrType uint32

const (
	// KeyNotFound is returned when nothing is stored under the key.
	KeyNotFound StoreErrType = iota
	// KeyAlreadyExists is returned when an insert would overwrite a value.
	// Events are immutable so the stores never replace one.
	KeyAlreadyExists
	// Corrupted is returned when a stored value cannot be decoded.
	Corrupted
)

var storeErrMessages = map[StoreErrType]string{
	KeyNotFound:      "Not Found",
	KeyAlreadyExists: "Key Already Exists",
	Corrupted:        "Corrupted",
}

// StoreErr is the error returned by the storage layers (event store, replay
// log, peer datastore) when a lookup or write cannot be satisfied.
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr builds a StoreErr about the value of kind dataType stored under
// key.
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

func (e StoreErr) Error() string {
	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, storeErrMessages[e.errType])
}

// Type returns the reason of the error.
func (e StoreErr) Type() StoreErrType {
	return e.errType
}

// IsStore reports whether err, or an error it wraps, is a StoreErr of type t.
func IsStore(err error, t StoreErrType) bool {
	var storeErr StoreErr
	return errors.As(err, &storeErr) && storeErr.errType == t
}
