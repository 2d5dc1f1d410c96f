package errors

import "errors"

var (
	// ErrTimeout is returned when a store operation exceeds its deadline.
	ErrTimeout = errors.New("timeout")
	// ErrConnectionClosed is returned when the store connection is gone.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrValueTooLarge is returned when a cache write exceeds the
	// configured value size ceiling. The write is rejected, never truncated.
	ErrValueTooLarge = errors.New("value too large")
	// ErrSerialization wraps codec failures encoding or decoding a value.
	ErrSerialization = errors.New("serialization failed")
)
