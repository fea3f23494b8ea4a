// Package hub holds the connection registry and the message router.
//
// Each admitted socket gets a Session that drives the key-exchange
// handshake and then decrypts inbound frames in strict arrival order.
// The Hub keeps two consistent maps, token to session and username to
// token, and turns every decrypted envelope into a delivery decision:
// relay to another connection (re-encrypted under the recipient's own
// secret), answer a server-directed command, or reply with an error
// envelope. The Supervisor reclaims connections that stop answering
// heartbeat pings and owns the periodic credential refresh.
package hub
