// Package transport terminates WebSocket connections and feeds the hub.
//
// Upgrades are accepted on /ws/{token}; the token path segment is the
// connection token handed to the hub for admission. Each accepted socket
// gets a read pump that forwards binary frames to its session in arrival
// order and refreshes liveness on ping and pong control frames. Writes are
// serialized per socket, since sends originate from several goroutines
// (the session worker, peers routing to us, and the heartbeat sweep).
//
// The same listener also serves /metrics and /healthz.
package transport
