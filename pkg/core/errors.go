package core

import (
	"errors"
	"fmt"
)

// Error represents a classified session error.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Code    string    `json:"code,omitempty"`
	Err     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrTransport covers connection failures and unexpected closes.
	// Recoverable by reconnecting; surfaced as status disconnected/error.
	ErrTransport ErrorType = "transport_error"

	// ErrDevice covers microphone unavailability or denied access.
	// Recoverable only by user action; capture simply never starts.
	ErrDevice ErrorType = "device_error"

	// ErrSynthesis covers TTS request or playback failures.
	// Fully recovered internally; the session returns to idle.
	ErrSynthesis ErrorType = "synthesis_error"

	// ErrProtocol covers malformed inbound payloads.
	// Dropped and logged; never propagated to reducers.
	ErrProtocol ErrorType = "protocol_error"

	// ErrInvalidRequest covers caller mistakes (bad arguments, misuse).
	ErrInvalidRequest ErrorType = "invalid_request_error"
)

// NewTransportError wraps a connection-level failure.
func NewTransportError(message string, err error) *Error {
	return &Error{Type: ErrTransport, Message: message, Err: err}
}

// NewDeviceError wraps a capture-device failure.
func NewDeviceError(message string, err error) *Error {
	return &Error{Type: ErrDevice, Message: message, Err: err}
}

// NewSynthesisError wraps a TTS request or playback failure.
func NewSynthesisError(message string, err error) *Error {
	return &Error{Type: ErrSynthesis, Message: message, Err: err}
}

// NewProtocolError wraps a malformed-payload failure.
func NewProtocolError(message string, err error) *Error {
	return &Error{Type: ErrProtocol, Message: message, Err: err}
}

// NewInvalidRequestError creates a caller-misuse error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// IsRetryable reports whether the failure may clear on retry.
// Device and protocol errors need user action or a backend fix.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrTransport, ErrSynthesis:
		return true
	default:
		return false
	}
}

// TypeOf returns the ErrorType of err, or an empty string for
// unclassified errors.
func TypeOf(err error) ErrorType {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ""
}
