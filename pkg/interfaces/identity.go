package interfaces

// Well-known identity keys. UserName is written by the login flow;
// some older installs only carry DisplayName, so readers fall back.
const (
	IdentityKeyUserID      = "user_id"
	IdentityKeyUserName    = "user_name"
	IdentityKeyDisplayName = "name"
)

// IdentityStore exposes the host's persisted login state. The second
// return reports presence, so callers can distinguish "not logged in"
// from a stored zero value.
type IdentityStore interface {
	GetInt(key string) (int64, bool)
	GetString(key string) (string, bool)
}
