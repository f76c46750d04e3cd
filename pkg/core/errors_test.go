package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{
		Type:    ErrInvalidRequest,
		Message: "invalid credentials",
	}

	expected := "invalid_request_error: invalid credentials"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestError_WithCode(t *testing.T) {
	err := &Error{
		Type:    ErrTransport,
		Message: "connection refused",
		Code:    "dial_failed",
	}

	expected := "transport_error: connection refused (code: dial_failed)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("socket closed")
	err := NewTransportError("read frame", inner)

	if !errors.Is(err, inner) {
		t.Error("wrapped error not reachable through errors.Is")
	}
}

func TestConstructorsSetTypes(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want ErrorType
	}{
		{"transport", NewTransportError("x", nil), ErrTransport},
		{"device", NewDeviceError("x", nil), ErrDevice},
		{"synthesis", NewSynthesisError("x", nil), ErrSynthesis},
		{"protocol", NewProtocolError("x", nil), ErrProtocol},
		{"invalid request", NewInvalidRequestError("x"), ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.want {
				t.Errorf("Type = %v, want %v", tt.err.Type, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !NewTransportError("x", nil).IsRetryable() {
		t.Error("transport errors should be retryable by reconnect")
	}
	if !NewSynthesisError("x", nil).IsRetryable() {
		t.Error("synthesis errors should be retryable")
	}
	if NewDeviceError("x", nil).IsRetryable() {
		t.Error("device errors need user action, not retries")
	}
	if NewProtocolError("x", nil).IsRetryable() {
		t.Error("protocol errors are not retryable")
	}
}

func TestTypeOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewDeviceError("mic denied", nil))
	if got := TypeOf(err); got != ErrDevice {
		t.Errorf("TypeOf = %v, want %v", got, ErrDevice)
	}
	if got := TypeOf(errors.New("plain")); got != "" {
		t.Errorf("TypeOf(plain) = %v, want empty", got)
	}
}
