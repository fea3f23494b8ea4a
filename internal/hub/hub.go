package hub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"relayhub/internal/domain"
	"relayhub/internal/metrics"
)

// DefaultResolveTimeout bounds a single identity-resolution call.
const DefaultResolveTimeout = 10 * time.Second

// Hub owns the connection registry: token to session and username to token,
// kept consistent under one mutex. It admits sockets, drives each through
// the handshake, and routes decrypted envelopes.
type Hub struct {
	log      zerolog.Logger
	resolver domain.IdentityResolver
	provider domain.CryptoProvider
	clock    clock.Clock

	resolveTimeout time.Duration

	mu         sync.Mutex
	sessions   map[domain.Token]*Session
	identities map[domain.Username]domain.Token
}

// New constructs a Hub. clk may be nil, defaulting to the wall clock.
func New(log zerolog.Logger, resolver domain.IdentityResolver, provider domain.CryptoProvider, clk clock.Clock) *Hub {
	if clk == nil {
		clk = clock.New()
	}
	return &Hub{
		log:            log,
		resolver:       resolver,
		provider:       provider,
		clock:          clk,
		resolveTimeout: DefaultResolveTimeout,
		sessions:       make(map[domain.Token]*Session),
		identities:     make(map[domain.Username]domain.Token),
	}
}

// Admit takes a freshly accepted socket with its connection token, resolves
// the identity, registers the session and sends the exported public key as
// the first outbound frame. A token that already maps to a live session is
// reused: the socket is rebound and the key re-sent.
//
// On failure the socket is closed with the proper close code and the
// session is never registered.
func (h *Hub) Admit(ctx context.Context, token domain.Token, sock domain.Socket) (*Session, error) {
	if token == "" {
		err := domain.NewCloseError(domain.CloseProtocolError, "missing token")
		_ = sock.Close(err.Code, err.Reason)
		return nil, err
	}

	h.mu.Lock()
	existing := h.sessions[token]
	h.mu.Unlock()
	if existing != nil {
		existing.rebind(sock)
		return existing, h.sendPublicKey(existing)
	}

	s := newSession(h, token, sock)
	rctx, cancel := context.WithTimeout(ctx, h.resolveTimeout)
	defer cancel()
	if err := s.resolveIdentity(rctx); err != nil {
		ce := domain.AsCloseError(err)
		_ = sock.Close(ce.Code, ce.Reason)
		metrics.ConnectionErrors.WithLabelValues(ce.Reason).Inc()
		return nil, err
	}

	// Register both mappings together. A concurrent admit on the same token
	// may have won the race; reuse its session instead.
	h.mu.Lock()
	if raced := h.sessions[token]; raced != nil {
		h.mu.Unlock()
		if s.crypto != nil {
			s.crypto.Close()
		}
		raced.rebind(sock)
		return raced, h.sendPublicKey(raced)
	}
	displaced := h.registerLocked(s)
	h.mu.Unlock()

	if displaced != nil {
		// Same identity arrived on a new token; the stale session would
		// otherwise dangle in the token map.
		displaced.Terminate(domain.CloseProtocolError, "superseded by new connection")
	}

	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Inc()
	if err := h.sendPublicKey(s); err != nil {
		s.Terminate(domain.CloseProtocolError, "handshake send failed")
		return nil, err
	}
	go s.run()
	s.log.Info().Msg("connected")
	return s, nil
}

// registerLocked inserts both mappings and returns any session displaced by
// the same identity reconnecting on a different token.
func (h *Hub) registerLocked(s *Session) *Session {
	var displaced *Session
	if prev, ok := h.identities[s.user.Username]; ok && prev != s.token {
		displaced = h.sessions[prev]
	}
	h.sessions[s.token] = s
	h.identities[s.user.Username] = s.token
	return displaced
}

func (h *Hub) sendPublicKey(s *Session) error {
	key, err := s.PublicKey()
	if err != nil {
		return err
	}
	return s.send(key)
}

// remove drops the session's registry entries if they still point at it.
func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[s.token] != s {
		return
	}
	delete(h.sessions, s.token)
	if tok, ok := h.identities[s.user.Username]; ok && tok == s.token {
		delete(h.identities, s.user.Username)
	}
	metrics.ConnectionsActive.Dec()
}

// Detach handles a transport-level close: the session dies with its socket,
// unless the token was already rebound to a fresh socket.
func (h *Hub) Detach(token domain.Token, sock domain.Socket) {
	h.mu.Lock()
	s := h.sessions[token]
	h.mu.Unlock()
	if s != nil && s.ownsSocket(sock) {
		s.Terminate(domain.CloseProtocolError, "socket closed")
	}
}

// Lookup returns the live session for a username.
func (h *Hub) Lookup(user domain.Username) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tok, ok := h.identities[user]
	if !ok {
		return nil, false
	}
	s, ok := h.sessions[tok]
	return s, ok
}

// Sessions returns a snapshot of all live sessions.
func (h *Hub) Sessions() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, s)
	}
	return out
}

// Len reports the number of registered sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close terminates every live session, for process shutdown.
func (h *Hub) Close() {
	for _, s := range h.Sessions() {
		s.Terminate(domain.CloseProtocolError, "server shutting down")
	}
}

// route turns one decrypted envelope into a delivery decision. A returned
// error is fatal to the sender's connection; user-level conditions are
// answered with error envelopes instead.
func (h *Hub) route(sender *Session, env domain.Envelope) error {
	if env.Receiver == "" {
		return nil
	}

	if env.Receiver == domain.ServerAddress {
		return h.handleServerEnvelope(sender, env)
	}

	target, ok := h.lookupForRoute(env.Receiver)
	if !ok {
		body, err := domain.MarshalBody(map[string]domain.Username{"receiver": env.Receiver})
		if err != nil {
			return err
		}
		metrics.ConnectionErrors.WithLabelValues("receiver not found").Inc()
		sender.log.Debug().Str("receiver", env.Receiver.String()).Msg("receiver not found")
		return sender.SendEnvelope(domain.Envelope{
			Error:   "receiver not found",
			QueryID: env.QueryID,
			Body:    body,
		})
	}
	if target == nil {
		// The identity map names a token with no live session: a broken
		// registry invariant, fatal to the sender.
		return domain.NewCloseError(domain.CloseProtocolError, "inconsistent registry")
	}

	now := h.clock.Now()
	out := domain.Envelope{
		Sender:        sender.Username(),
		Receiver:      env.Receiver,
		Process:       env.Process,
		Body:          env.Body,
		QueryID:       env.QueryID,
		WorkerProcess: env.WorkerProcess,
		Sent:          &now,
	}
	if err := target.SendEnvelope(out); err != nil {
		// Delivery failure is the recipient's problem, never the sender's.
		target.log.Warn().Err(err).Msg("delivery failed")
		return nil
	}
	metrics.MessagesRelayed.Inc()
	return nil
}

// lookupForRoute distinguishes "unknown identity" (ok=false) from the
// inconsistent case where the identity is mapped but the session is gone
// (ok=true, session nil).
func (h *Hub) lookupForRoute(user domain.Username) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tok, ok := h.identities[user]
	if !ok {
		return nil, false
	}
	return h.sessions[tok], true
}

// handleServerEnvelope interprets envelopes addressed to the reserved
// server identity. The ping command applies the sender's fresh salt and
// answers with an acknowledgement encrypted under the pre-rotation secret.
func (h *Hub) handleServerEnvelope(sender *Session, env domain.Envelope) error {
	if env.Process != domain.ProcessPing {
		sender.log.Debug().Str("process", env.Process).Msg("unknown server command")
		return nil
	}

	var saltB64 string
	if err := json.Unmarshal(env.Body, &saltB64); err != nil {
		return domain.NewCloseError(domain.CloseProtocolError, "invalid salt payload")
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return domain.NewCloseError(domain.CloseProtocolError, "invalid salt payload")
	}

	body, err := domain.MarshalBody(struct{}{})
	if err != nil {
		return err
	}
	frame, err := sender.encryptEnvelope(domain.Envelope{
		QueryID: env.QueryID,
		Body:    body,
		Sender:  domain.ServerAddress,
	})
	if err != nil {
		return err
	}
	if err := sender.Rekey(salt); err != nil {
		return err
	}
	return sender.send(frame)
}

// pushUserRecord sends a connection its own resolved identity record, once,
// right after its handshake completes.
func (h *Hub) pushUserRecord(s *Session) {
	s.mu.Lock()
	rec := s.user
	s.mu.Unlock()
	body, err := domain.MarshalBody(rec)
	if err != nil {
		s.log.Error().Err(err).Msg("encoding user record")
		return
	}
	if err := s.SendEnvelope(domain.Envelope{
		Process: domain.ProcessUpdateUser,
		Sender:  domain.ServerAddress,
		Body:    body,
	}); err != nil {
		s.log.Warn().Err(err).Msg("user record push failed")
	}
}
