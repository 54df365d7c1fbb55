package common

import "fmt"

// StoreErrType ...
type StoreErrType uint32

const (
	// KeyNotFound is returned when a key has no live record. It is a normal
	// outcome, not a failure; callers test for it with IsStore.
	KeyNotFound StoreErrType = iota
	// TooLate is returned when an item has fallen out of a rolling window.
	TooLate
	// SkippedIndex is returned when a write would leave a gap in a rolling
	// window.
	SkippedIndex
	// Empty ...
	Empty
	// KeyAlreadyExists ...
	KeyAlreadyExists
	// StorageUnavailable is returned when the backing database cannot serve
	// the request. It wraps the underlying cause.
	StorageUnavailable
	// PayloadTooLarge is returned when a payload exceeds the configured
	// maximum size.
	PayloadTooLarge
)

// StoreErr ...
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
	cause    error
}

// NewStoreErr ...
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// NewStoreErrCause builds a StoreErr that carries the underlying error, for
// codes like StorageUnavailable where the cause matters.
func NewStoreErrCause(dataType string, errType StoreErrType, key string, cause error) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
		cause:    cause,
	}
}

// Error ...
func (e StoreErr) Error() string {
	m := ""
	switch e.errType {
	case KeyNotFound:
		m = "Not Found"
	case TooLate:
		m = "Too Late"
	case SkippedIndex:
		m = "Skipped Index"
	case Empty:
		m = "Empty"
	case KeyAlreadyExists:
		m = "Key Already Exists"
	case StorageUnavailable:
		m = "Storage Unavailable"
	case PayloadTooLarge:
		m = "Payload Too Large"
	}

	if e.cause != nil {
		return fmt.Sprintf("%s, %s, %s: %v", e.dataType, e.key, m, e.cause)
	}

	return fmt.Sprintf("%s, %s, %s", e.dataType, e.key, m)
}

// Unwrap exposes the underlying cause, if any.
func (e StoreErr) Unwrap() error {
	return e.cause
}

// IsStore checks that an error is of type StoreErr and that it's code matches
// the provided StoreErr code.
func IsStore(err error, t StoreErrType) bool {
	storeErr, ok := err.(StoreErr)
	return ok && storeErr.errType == t
}
