package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"relayhub/internal/crypto"
	"relayhub/internal/domain"
	"relayhub/internal/metrics"
)

// State is the handshake state of a connection session.
type State int

const (
	// StateAwaitingIdentity is entered at construction, before the identity
	// resolver has been consulted.
	StateAwaitingIdentity State = iota

	// StateAwaitingPeerKey means identity is resolved and our public key is
	// exported; the next inbound frame is the peer's raw public key.
	StateAwaitingPeerKey

	// StateEstablished means the shared secret exists and inbound frames are
	// iv||ciphertext envelopes.
	StateEstablished

	// StateInvalid is terminal; the socket is closed and the session removed.
	StateInvalid
)

// String returns a short name for the state.
func (s State) String() string {
	switch s {
	case StateAwaitingIdentity:
		return "awaiting-identity"
	case StateAwaitingPeerKey:
		return "awaiting-peer-key"
	case StateEstablished:
		return "established"
	default:
		return "invalid"
	}
}

// inboundBuffer bounds the per-session frame queue. The transport read pump
// blocks once it fills, which preserves arrival order.
const inboundBuffer = 64

// Session owns one socket's handshake state machine, its crypto session and
// its liveness timestamps. A single worker goroutine consumes inbound
// frames, so no frame is decrypted before the peer-key import completes.
type Session struct {
	token  domain.Token
	connID string
	hub    *Hub
	log    zerolog.Logger

	mu       sync.Mutex
	sock     domain.Socket
	state    State
	user     domain.UserRecord
	crypto   domain.CryptoSession
	isAlive  bool
	lastSeen time.Time

	inbound   chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(h *Hub, token domain.Token, sock domain.Socket) *Session {
	connID := uuid.NewString()
	return &Session{
		token:    token,
		connID:   connID,
		hub:      h,
		log:      h.log.With().Str("token", token.String()).Str("conn", connID).Logger(),
		sock:     sock,
		state:    StateAwaitingIdentity,
		isAlive:  true,
		lastSeen: h.clock.Now(),
		inbound:  make(chan []byte, inboundBuffer),
		done:     make(chan struct{}),
	}
}

// Token returns the connection token the session was admitted with.
func (s *Session) Token() domain.Token { return s.token }

// Username returns the resolved identity, empty until resolution succeeds.
func (s *Session) Username() domain.Username {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user.Username
}

// State returns the current handshake state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Established reports whether the handshake has completed.
func (s *Session) Established() bool { return s.State() == StateEstablished }

// resolveIdentity consults the resolver and, on success, creates the crypto
// session and moves to StateAwaitingPeerKey.
func (s *Session) resolveIdentity(ctx context.Context) error {
	rec, err := s.hub.resolver.Resolve(ctx, s.token)
	if err != nil {
		s.setState(StateInvalid)
		return domain.NewCloseError(domain.CloseProtocolError, "invalid token")
	}
	if rec.Username == "" {
		s.setState(StateInvalid)
		return domain.NewCloseError(domain.ClosePolicyViolation, "invalid user")
	}
	cs, err := s.hub.provider.NewSession(rec.Username)
	if err != nil {
		s.setState(StateInvalid)
		return domain.NewCloseError(domain.CloseProtocolError, "key generation failed")
	}

	s.mu.Lock()
	s.user = rec
	s.crypto = cs
	s.state = StateAwaitingPeerKey
	s.mu.Unlock()
	s.log = s.log.With().Str("username", rec.Username.String()).Logger()
	return nil
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// PublicKey returns the crypto session's exported public key, sent to the
// peer as the first outbound frame.
func (s *Session) PublicKey() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user.Username == "" || s.crypto == nil {
		return nil, domain.ErrInvalidSession
	}
	return s.crypto.PublicKey(), nil
}

// HandleFrame enqueues an inbound frame for the session worker. It blocks
// only when the session's queue is full, applying backpressure to the one
// connection instead of the whole process.
func (s *Session) HandleFrame(data []byte) error {
	s.Touch()
	select {
	case <-s.done:
		return domain.ErrSessionClosed
	case s.inbound <- data:
		return nil
	}
}

// run consumes inbound frames in arrival order until the session terminates.
func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.inbound:
			if err := s.process(data); err != nil {
				ce := domain.AsCloseError(err)
				s.log.Warn().Err(err).Msg("closing connection")
				metrics.ConnectionErrors.WithLabelValues(ce.Reason).Inc()
				s.Terminate(ce.Code, ce.Reason)
				return
			}
		}
	}
}

func (s *Session) process(data []byte) error {
	s.mu.Lock()
	state := s.state
	user := s.user.Username
	cs := s.crypto
	s.mu.Unlock()

	if user == "" || cs == nil {
		return domain.NewCloseError(domain.CloseProtocolError, "invalid session")
	}

	switch state {
	case StateAwaitingPeerKey:
		if err := cs.ImportPeerKey(data); err != nil {
			s.log.Warn().Err(err).Msg("peer key import failed")
			return domain.NewCloseError(domain.CloseProtocolError, "invalid key")
		}
		s.setState(StateEstablished)
		s.log.Debug().Str("peer_key", crypto.Fingerprint(data)).Msg("handshake complete")
		s.hub.pushUserRecord(s)
		return nil

	case StateEstablished:
		iv, ciphertext, err := domain.SplitFrame(data, cs.IVLen())
		if err != nil {
			return domain.NewCloseError(domain.CloseProtocolError, "invalid frame")
		}
		plaintext, err := cs.Decrypt(iv, ciphertext)
		if err != nil {
			s.log.Warn().Err(err).Msg("decrypt failed")
			return domain.NewCloseError(domain.CloseProtocolError, "decrypt error")
		}
		var env domain.Envelope
		if err := json.Unmarshal(plaintext, &env); err != nil {
			return domain.NewCloseError(domain.CloseProtocolError, "invalid payload")
		}
		return s.hub.route(s, env)

	default:
		return domain.NewCloseError(domain.CloseProtocolError, "invalid session state")
	}
}

// encryptEnvelope seals env under the session's current secret and returns
// the iv||ciphertext wire frame.
func (s *Session) encryptEnvelope(env domain.Envelope) ([]byte, error) {
	s.mu.Lock()
	cs := s.crypto
	user := s.user.Username
	s.mu.Unlock()
	if user == "" || cs == nil {
		return nil, domain.ErrInvalidSession
	}
	plaintext, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	iv, ciphertext, err := cs.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}
	return domain.JoinFrame(iv, ciphertext), nil
}

// SendEnvelope encrypts env for this connection and writes it to the socket.
func (s *Session) SendEnvelope(env domain.Envelope) error {
	frame, err := s.encryptEnvelope(env)
	if err != nil {
		return err
	}
	return s.send(frame)
}

func (s *Session) send(frame []byte) error {
	s.mu.Lock()
	sock := s.sock
	s.mu.Unlock()
	return sock.Send(frame)
}

// Rekey re-derives the shared secret with a fresh salt.
func (s *Session) Rekey(salt []byte) error {
	s.mu.Lock()
	cs := s.crypto
	state := s.state
	s.mu.Unlock()
	if cs == nil || state != StateEstablished {
		return domain.ErrInvalidSession
	}
	return cs.Rekey(salt)
}

// Touch refreshes liveness after any inbound traffic, ping or pong.
func (s *Session) Touch() {
	s.mu.Lock()
	s.isAlive = true
	s.lastSeen = s.hub.clock.Now()
	s.mu.Unlock()
}

// Alive reports whether the peer answered since the last idle marking.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isAlive
}

// LastSeen returns the time of the last observed traffic.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// MarkIdle clears the liveness flag; any pong or frame sets it again.
func (s *Session) MarkIdle() {
	s.mu.Lock()
	s.isAlive = false
	s.mu.Unlock()
}

// Ping sends a transport-level ping to the peer.
func (s *Session) Ping() error {
	s.mu.Lock()
	sock := s.sock
	s.mu.Unlock()
	return sock.Ping()
}

// rebind swaps in a fresh socket for a reconnect on the same token.
func (s *Session) rebind(sock domain.Socket) {
	s.mu.Lock()
	s.sock = sock
	s.mu.Unlock()
	s.Touch()
	s.log.Debug().Msg("socket rebound")
}

// ownsSocket reports whether sock is the session's current transport.
func (s *Session) ownsSocket(sock domain.Socket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sock == sock
}

// Terminate closes the socket, wipes crypto state and removes the session
// from the registry. It is safe to call more than once; in-flight work for
// the session is abandoned.
func (s *Session) Terminate(code int, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.state = StateInvalid
		sock := s.sock
		cs := s.crypto
		s.mu.Unlock()

		_ = sock.Close(code, reason)
		if cs != nil {
			cs.Close()
		}
		s.hub.remove(s)
		s.log.Info().Int("code", code).Str("reason", reason).Msg("session terminated")
	})
}
