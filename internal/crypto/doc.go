// Package crypto implements the hub's per-connection crypto sessions.
//
// Each session owns a fresh X25519 key pair keyed by the connection's
// resolved identity. Importing the peer's raw public key performs the
// Diffie-Hellman exchange; the transport secret is then derived with
// HKDF-SHA256 and used for ChaCha20-Poly1305 sealing. Salt-based
// re-derivation rotates the transport secret without a new key exchange.
//
// The raw DH output and private key are wiped on Close. Callers should
// treat all returned secrets as sensitive.
package crypto
