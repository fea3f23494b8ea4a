package domain

import (
	"encoding/json"
	"time"
)

// Envelope is the decrypted application message exchanged over a session.
// Body is passed through verbatim when the envelope is relayed; only the
// hub-owned fields (sender, sent) are rewritten in transit.
type Envelope struct {
	Sender        Username        `json:"sender,omitempty"`
	Receiver      Username        `json:"receiver,omitempty"`
	Process       string          `json:"process,omitempty"`
	Body          json.RawMessage `json:"body,omitempty"`
	QueryID       string          `json:"queryId,omitempty"`
	WorkerProcess string          `json:"workerProcess,omitempty"`
	Sent          *time.Time      `json:"sent,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// MarshalBody JSON-encodes v into an Envelope body.
func MarshalBody(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// JoinFrame concatenates iv and ciphertext into a single wire frame.
func JoinFrame(iv, ciphertext []byte) []byte {
	frame := make([]byte, 0, len(iv)+len(ciphertext))
	frame = append(frame, iv...)
	return append(frame, ciphertext...)
}

// SplitFrame separates a wire frame into its iv prefix and ciphertext.
func SplitFrame(frame []byte, ivLen int) (iv, ciphertext []byte, err error) {
	if len(frame) <= ivLen {
		return nil, nil, ErrShortFrame
	}
	return frame[:ivLen], frame[ivLen:], nil
}
