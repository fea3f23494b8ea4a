package transport_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"relayhub/internal/auth"
	"relayhub/internal/crypto"
	"relayhub/internal/domain"
	"relayhub/internal/hub"
	"relayhub/internal/transport"
)

const readWait = 3 * time.Second

// users maps connection tokens to identities the way the auth provider
// would in production.
var users = map[domain.Token]domain.Username{
	"t-a":     "alice",
	"t-b":     "bob",
	"t-empty": "",
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	resolver := auth.ResolverFunc(func(_ context.Context, tok domain.Token) (domain.UserRecord, error) {
		name, ok := users[tok]
		if !ok {
			return domain.UserRecord{}, fmt.Errorf("unknown token %q", tok)
		}
		return domain.UserRecord{Username: name}, nil
	})
	h := hub.New(zerolog.Nop(), resolver, crypto.NewProvider(), nil)
	srv := httptest.NewServer(transport.NewServer(h, zerolog.Nop(), "").Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(h.Close)
	return srv
}

func wsURL(srv *httptest.Server, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + token
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	cs   domain.CryptoSession
}

// dial connects, completes the key exchange and consumes the updateUser
// push, asserting it names the expected identity.
func dial(t *testing.T, srv *httptest.Server, token string, user domain.Username) *wsClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readWait)))
	_, serverKey, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Len(t, serverKey, crypto.KeySize)

	cs, err := crypto.NewProvider().NewSession(user)
	require.NoError(t, err)
	require.NoError(t, cs.ImportPeerKey(serverKey))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, cs.PublicKey()))

	c := &wsClient{t: t, conn: conn, cs: cs}
	push := c.recv()
	require.Equal(t, domain.ProcessUpdateUser, push.Process)
	require.Equal(t, domain.Username(domain.ServerAddress), push.Sender)
	var rec domain.UserRecord
	require.NoError(t, json.Unmarshal(push.Body, &rec))
	require.Equal(t, user, rec.Username)
	return c
}

func (c *wsClient) send(env domain.Envelope) {
	c.t.Helper()
	plaintext, err := json.Marshal(env)
	require.NoError(c.t, err)
	iv, ct, err := c.cs.Encrypt(plaintext)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.BinaryMessage, domain.JoinFrame(iv, ct)))
}

func (c *wsClient) recv() domain.Envelope {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(readWait)))
	_, frame, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	iv, ct, err := domain.SplitFrame(frame, c.cs.IVLen())
	require.NoError(c.t, err)
	plaintext, err := c.cs.Decrypt(iv, ct)
	require.NoError(c.t, err)
	var env domain.Envelope
	require.NoError(c.t, json.Unmarshal(plaintext, &env))
	return env
}

func TestEndToEnd(t *testing.T) {
	srv := newTestServer(t)

	a := dial(t, srv, "t-a", "alice")
	b := dial(t, srv, "t-b", "bob")

	a.send(domain.Envelope{
		Receiver: "bob",
		Process:  "chat",
		Body:     json.RawMessage(`"hi"`),
		QueryID:  "q1",
	})
	got := b.recv()
	require.Equal(t, domain.Username("alice"), got.Sender)
	require.Equal(t, domain.Username("bob"), got.Receiver)
	require.Equal(t, "chat", got.Process)
	require.JSONEq(t, `"hi"`, string(got.Body))
	require.Equal(t, "q1", got.QueryID)
	require.NotNil(t, got.Sent)

	a.send(domain.Envelope{Receiver: "carol", QueryID: "q2"})
	errReply := a.recv()
	require.Equal(t, "receiver not found", errReply.Error)
	require.Equal(t, "q2", errReply.QueryID)
	require.JSONEq(t, `{"receiver":"carol"}`, string(errReply.Body))
}

func TestResolverErrorClosesWithProtocolCode(t *testing.T) {
	srv := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "t-unknown"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readWait)))
	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, domain.CloseProtocolError),
		"expected close %d, got %v", domain.CloseProtocolError, err)
}

func TestMissingIdentityClosesWithPolicyCode(t *testing.T) {
	srv := newTestServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "t-empty"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readWait)))
	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, domain.ClosePolicyViolation),
		"expected close %d, got %v", domain.ClosePolicyViolation, err)
}

func TestRejectBadPaths(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/ws/")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
