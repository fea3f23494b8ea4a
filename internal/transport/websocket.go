package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"relayhub/internal/domain"
)

const (
	// writeWait bounds a single write to the peer.
	writeWait = 10 * time.Second

	// maxMessageSize bounds inbound frames.
	maxMessageSize = 1 << 20
)

var errSocketClosed = errors.New("websocket closed")

// wsSocket adapts a gorilla connection to domain.Socket with serialized
// writes. gorilla allows at most one concurrent writer per connection.
type wsSocket struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func newWSSocket(conn *websocket.Conn) *wsSocket {
	return &wsSocket{conn: conn}
}

// Send writes one binary frame.
func (s *wsSocket) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSocketClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Ping sends a transport-level ping control frame.
func (s *wsSocket) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSocketClosed
	}
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// Close sends a close frame with the protocol code and closes the
// underlying connection. Repeated calls are no-ops.
func (s *wsSocket) Close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return s.conn.Close()
}

var _ domain.Socket = (*wsSocket)(nil)
