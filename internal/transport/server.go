package transport

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"relayhub/internal/domain"
	"relayhub/internal/hub"
)

// Server owns the HTTP listener: WebSocket upgrades on /ws/{token}, plus
// /metrics and /healthz.
type Server struct {
	hub      *hub.Hub
	log      zerolog.Logger
	addr     string
	upgrader websocket.Upgrader
}

// NewServer builds a Server for the hub on addr.
func NewServer(h *hub.Hub, log zerolog.Logger, addr string) *Server {
	return &Server{
		hub:  h,
		log:  log,
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are native apps and services, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", s.handleWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully and
// terminates every live session.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", s.addr).Msg("listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.hub.Close()
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	token := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/"), "/")
	if token == "" || strings.Contains(token, "/") {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("upgrade failed")
		return
	}
	sock := newWSSocket(conn)

	sess, err := s.hub.Admit(r.Context(), domain.Token(token), sock)
	if err != nil {
		// The hub already closed the socket with the proper close code.
		return
	}
	go s.readPump(conn, sock, sess)
}

// readPump forwards inbound frames to the session until the socket dies,
// then detaches it from the registry.
func (s *Server) readPump(conn *websocket.Conn, sock *wsSocket, sess *hub.Session) {
	defer s.hub.Detach(sess.Token(), sock)

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		sess.Touch()
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		sess.Touch()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}
		if err := sess.HandleFrame(data); err != nil {
			return
		}
	}
}
