package domain

import (
	"errors"
	"fmt"
)

// Protocol-level close codes, reused verbatim from the wire protocol.
const (
	// CloseProtocolError covers invalid or missing tokens, sessions used out
	// of order, decrypt/import failures and inconsistent routing targets.
	CloseProtocolError = 1002

	// ClosePolicyViolation covers identity resolution failing to produce a
	// usable identity.
	ClosePolicyViolation = 1008
)

var (
	// ErrInvalidSession reports a session operation invoked before identity
	// resolution or crypto setup. It is a programming error and the caller
	// must close the socket, never swallow it.
	ErrInvalidSession = errors.New("invalid session")

	// ErrSessionClosed reports an operation on a terminated session.
	ErrSessionClosed = errors.New("session closed")

	// ErrShortFrame reports a wire frame too small to hold an iv.
	ErrShortFrame = errors.New("frame shorter than iv")
)

// CloseError instructs the transport to close the socket with a protocol
// close code and reason.
type CloseError struct {
	Code   int
	Reason string
}

// Error implements the error interface.
func (e *CloseError) Error() string {
	return fmt.Sprintf("close %d: %s", e.Code, e.Reason)
}

// NewCloseError builds a CloseError with the given code and reason.
func NewCloseError(code int, reason string) *CloseError {
	return &CloseError{Code: code, Reason: reason}
}

// AsCloseError extracts a CloseError from err, defaulting to a protocol
// error close when err carries no explicit code.
func AsCloseError(err error) *CloseError {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce
	}
	return &CloseError{Code: CloseProtocolError, Reason: err.Error()}
}
