package domain

import "context"

// CryptoSession is per-identity cryptographic state consumed by the hub:
// key material, shared-secret derivation and authenticated encryption.
// Implementations are safe for concurrent use.
type CryptoSession interface {
	// PublicKey returns the exported local public key, sent to the peer as
	// the first outbound frame.
	PublicKey() []byte

	// ImportPeerKey imports the peer's raw public key and derives the
	// shared secret. It fails on malformed input.
	ImportPeerKey(raw []byte) error

	// Rekey re-derives the shared secret with a freshly supplied salt.
	Rekey(salt []byte) error

	// Encrypt seals plaintext under the current secret.
	Encrypt(plaintext []byte) (iv, ciphertext []byte, err error)

	// Decrypt authenticates and opens a ciphertext. It fails on
	// authentication failure.
	Decrypt(iv, ciphertext []byte) ([]byte, error)

	// IVLen reports the iv size used by the wire framing.
	IVLen() int

	// Close wipes key material.
	Close()
}

// CryptoProvider creates a CryptoSession keyed by a resolved identity.
type CryptoProvider interface {
	NewSession(user Username) (CryptoSession, error)
}

// IdentityResolver maps an opaque connection token to a durable identity.
// Any error, or a record without a username, is fatal to that connection only.
type IdentityResolver interface {
	Resolve(ctx context.Context, token Token) (UserRecord, error)
}

// CredentialRefresher maintains the process-wide session credential backing
// the identity resolver, independent of any connection.
type CredentialRefresher interface {
	Refresh(ctx context.Context) error
}

// Socket is the transport-side handle for one connection.
type Socket interface {
	// Send writes a binary frame to the peer.
	Send(data []byte) error

	// Ping sends a transport-level ping.
	Ping() error

	// Close closes the socket with a protocol close code and reason.
	// Closing an already-closed socket is a no-op.
	Close(code int, reason string) error
}
