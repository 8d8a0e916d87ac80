package transport

import "errors"

// Connection-related errors. Closed-connection sends surface
// types.ErrNotConnected instead so callers only ever match the shared
// boundary error.
var (
	ErrWriteTimeout = errors.New("write timeout: send buffer full")
	ErrNilCallback  = errors.New("frame callback cannot be nil")
)
