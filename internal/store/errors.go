package store

import "errors"

var (
	// ErrClosed is returned for writes attempted after Close.
	ErrClosed = errors.New("store is closed")

	// ErrWriteTimeout is returned when the write queue stays saturated
	// past the enqueue deadline.
	ErrWriteTimeout = errors.New("store write timed out")
)
