package types

import "errors"

// Boundary errors. These are the only failure conditions that cross the
// public surface; everything else is absorbed and logged where it
// happens.
var (
	ErrNotConnected   = errors.New("not connected to session")
	ErrConnectionLost = errors.New("connection lost and reconnect attempts exhausted")
	ErrUnauthorized   = errors.New("operation requires teacher role")
	ErrMalformedFrame = errors.New("malformed frame")
)

// Handle validation errors.
var (
	ErrInvalidSessionID = errors.New("session ID must be positive")
	ErrInvalidSelfID    = errors.New("participant ID must be positive")
	ErrInvalidSelfName  = errors.New("display name must be 1-200 characters")
	ErrInvalidRole      = errors.New("role must be teacher or student")
)
