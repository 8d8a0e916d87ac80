package session

import "errors"

// Orchestrator lifecycle and operation errors. The cross-component
// boundary errors (not connected, unauthorized, connection lost) live
// in pkg/types; these cover misuse local to this package.
var (
	ErrAlreadyJoined    = errors.New("session already joined")
	ErrCannotKickSelf   = errors.New("cannot kick own participant")
	ErrInvalidServerURL = errors.New("server URL must be set")
)
