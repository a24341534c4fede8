package conversation

import (
	"errors"
	"fmt"
)

// Sentinel errors for the conversation package.
var (
	// ErrMissingAPIKey indicates the API key was not provided.
	ErrMissingAPIKey = errors.New("conversation: API key is required")

	// ErrNotConnected indicates the provider is not connected.
	ErrNotConnected = errors.New("conversation: not connected")

	// ErrAlreadyConnected indicates the provider is already connected.
	ErrAlreadyConnected = errors.New("conversation: already connected")

	// ErrClosed indicates the provider was closed and cannot reconnect.
	ErrClosed = errors.New("conversation: provider closed")

	// ErrInvalidAudio indicates the audio frame is not valid PCM16.
	ErrInvalidAudio = errors.New("conversation: invalid audio frame")

	// ErrTextInputUnsupported indicates the backend rejects typed messages.
	ErrTextInputUnsupported = errors.New("conversation: text input not supported")
)

// ConnectionError represents a transport-level failure: dial, handshake, or
// an unexpected socket close. Connection errors are fatal; the provider does
// not reconnect.
type ConnectionError struct {
	// Reason describes why the connection failed.
	Reason string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("conversation: connection error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("conversation: connection error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(reason string, cause error) *ConnectionError {
	return &ConnectionError{Reason: reason, Cause: cause}
}

// ProtocolError represents a malformed inbound payload. Protocol errors are
// not fatal: the message is logged and skipped.
type ProtocolError struct {
	// Backend identifies the provider that received the payload.
	Backend string

	// Detail describes what was malformed.
	Detail string

	// Cause is the underlying decode error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("conversation: %s protocol error: %s: %v", e.Backend, e.Detail, e.Cause)
	}
	return fmt.Sprintf("conversation: %s protocol error: %s", e.Backend, e.Detail)
}

// Unwrap returns the underlying cause.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// IsNotConnected returns true if the error indicates no usable connection.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrClosed)
}

// IsFatal returns true if the error ends the session.
func IsFatal(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}
