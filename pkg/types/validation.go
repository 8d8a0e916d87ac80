package types

import "math"

// Validate ensures the handle can open a connection. Handles come from
// the host application (login flow or invitation resolver), so failures
// here are programming errors rather than user input problems.
func (h SessionHandle) Validate() error {
	if h.SessionID <= 0 {
		return ErrInvalidSessionID
	}
	if h.SelfID <= 0 {
		return ErrInvalidSelfID
	}
	if len(h.SelfName) < 1 || len(h.SelfName) > 200 {
		return ErrInvalidSelfName
	}
	if !IsValidRole(h.Role) {
		return ErrInvalidRole
	}
	return nil
}

// IsValidRole checks the role against the two known values.
func IsValidRole(role string) bool {
	return role == RoleTeacher || role == RoleStudent
}

// ClampMicLevel forces a reported level into [0,1]. NaN collapses to 0
// so a broken sender cannot poison roster snapshots.
func ClampMicLevel(level float64) float64 {
	if math.IsNaN(level) {
		return 0
	}
	if level < 0 {
		return 0
	}
	if level > 1 {
		return 1
	}
	return level
}
