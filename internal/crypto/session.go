package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"relayhub/internal/domain"
	"relayhub/internal/util/memzero"
)

var (
	// ErrNoSecret reports an operation that needs a shared secret before the
	// peer key exchange has completed.
	ErrNoSecret = errors.New("no shared secret established")

	// ErrMalformedKey reports a peer public key of the wrong shape.
	ErrMalformedKey = errors.New("malformed peer public key")
)

// hkdfInfo binds derived secrets to the protocol and the session identity.
const hkdfInfo = "relayhub v1 transport key "

// Provider implements domain.CryptoProvider with X25519 key agreement,
// HKDF-SHA256 derivation and ChaCha20-Poly1305 sealing.
type Provider struct{}

// NewProvider returns a Provider.
func NewProvider() *Provider { return &Provider{} }

// NewSession generates a fresh key pair keyed by user.
func (*Provider) NewSession(user domain.Username) (domain.CryptoSession, error) {
	priv, pub, err := GenerateX25519()
	if err != nil {
		return nil, err
	}
	return &Session{user: user, priv: priv, pub: pub}, nil
}

// Session is the per-connection crypto state. All methods are safe for
// concurrent use.
type Session struct {
	mu     sync.Mutex
	user   domain.Username
	priv   [KeySize]byte
	pub    [KeySize]byte
	secret []byte // raw DH output, kept for salt re-derivation
	aead   cipher.AEAD
}

// PublicKey returns the exported local public key.
func (s *Session) PublicKey() []byte {
	out := make([]byte, KeySize)
	copy(out, s.pub[:])
	return out
}

// ImportPeerKey performs the DH exchange with the peer's raw public key and
// derives the initial transport secret.
func (s *Session) ImportPeerKey(raw []byte) error {
	if len(raw) != KeySize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedKey, len(raw), KeySize)
	}
	var peer [KeySize]byte
	copy(peer[:], raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	dh, err := DH(s.priv, peer)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	if s.secret != nil {
		memzero.Zero(s.secret)
	}
	s.secret = dh
	return s.deriveLocked(nil)
}

// Rekey re-derives the transport secret with a fresh salt. It is only valid
// after a successful peer key import.
func (s *Session) Rekey(salt []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.secret == nil {
		return ErrNoSecret
	}
	return s.deriveLocked(salt)
}

func (s *Session) deriveLocked(salt []byte) error {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, s.secret, salt, []byte(hkdfInfo+s.user.String()))
	if _, err := io.ReadFull(r, key); err != nil {
		return err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return err
	}
	memzero.Zero(key)
	s.aead = aead
	return nil
}

// Encrypt seals plaintext under the current secret.
func (s *Session) Encrypt(plaintext []byte) (iv, ciphertext []byte, err error) {
	s.mu.Lock()
	aead := s.aead
	s.mu.Unlock()
	if aead == nil {
		return nil, nil, ErrNoSecret
	}
	iv = make([]byte, aead.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, err
	}
	return iv, aead.Seal(nil, iv, plaintext, nil), nil
}

// Decrypt authenticates and opens a ciphertext under the current secret.
func (s *Session) Decrypt(iv, ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	aead := s.aead
	s.mu.Unlock()
	if aead == nil {
		return nil, ErrNoSecret
	}
	if len(iv) != aead.NonceSize() {
		return nil, fmt.Errorf("bad iv size %d", len(iv))
	}
	return aead.Open(nil, iv, ciphertext, nil)
}

// IVLen reports the iv size used by the wire framing.
func (s *Session) IVLen() int { return chacha20poly1305.NonceSize }

// Close wipes key material. The session is unusable afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	memzero.Zero(s.priv[:])
	if s.secret != nil {
		memzero.Zero(s.secret)
		s.secret = nil
	}
	s.aead = nil
}

var (
	_ domain.CryptoProvider = (*Provider)(nil)
	_ domain.CryptoSession  = (*Session)(nil)
)
