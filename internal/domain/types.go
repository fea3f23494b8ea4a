package domain

// ServerAddress is the reserved receiver value for envelopes addressed to
// the hub itself rather than to another party.
const ServerAddress = "server"

// Username represents a durable identity resolved from a connection token.
type Username string

// String returns the string form of the username.
func (u Username) String() string { return string(u) }

// Token is the opaque per-socket credential presented at connect time.
// A token maps to at most one live session at a time.
type Token string

// String returns the string form of the token.
func (t Token) String() string { return string(t) }

// UserRecord is the identity resolver's verdict about a connection token.
// The record is pushed verbatim to the client once its handshake completes.
type UserRecord struct {
	Username Username       `json:"username"`
	Attrs    map[string]any `json:"attrs,omitempty"`
}

// Well-known process tags interpreted by the hub.
const (
	// ProcessPing is the server-directed keepalive-and-rekey command. The
	// envelope body carries a fresh base64-encoded secret salt.
	ProcessPing = "ping"

	// ProcessUpdateUser tags the one-time push of a connection's resolved
	// identity record after its handshake completes.
	ProcessUpdateUser = "updateUser"
)
