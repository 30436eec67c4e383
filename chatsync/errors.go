package chatsync

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota

	// Transport errors
	ErrorNotConnected
	ErrorAlreadyConnected
	ErrorConnection
	ErrorTimeout
	ErrorInvalidConfig

	// Protocol errors
	ErrorBroker
	ErrorSerialization
	ErrorMalformedPayload

	// Room errors
	ErrorNotJoined
	ErrorJoinFailed
	ErrorInvalidMessage
	ErrorUnknownReactionTarget
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorNotConnected:
		return "not_connected"
	case ErrorAlreadyConnected:
		return "already_connected"
	case ErrorConnection:
		return "connection_error"
	case ErrorTimeout:
		return "timeout"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorBroker:
		return "broker_error"
	case ErrorSerialization:
		return "serialization_error"
	case ErrorMalformedPayload:
		return "malformed_payload"
	case ErrorNotJoined:
		return "not_joined"
	case ErrorJoinFailed:
		return "join_failed"
	case ErrorInvalidMessage:
		return "invalid_message"
	case ErrorUnknownReactionTarget:
		return "unknown_reaction_target"
	default:
		return fmt.Sprintf("unknown_code_%d", int(e))
	}
}

// ChatError is a structured error with code and context.
type ChatError struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *ChatError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *ChatError) Unwrap() error {
	return e.Wrapped
}

// Is matches any ChatError carrying the same code.
func (e *ChatError) Is(target error) bool {
	t, ok := target.(*ChatError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new ChatError with the given code and message.
func NewError(code ErrorCode, message string) *ChatError {
	return &ChatError{Code: code, Message: message}
}

// WrapError wraps an existing error with a ChatError.
func WrapError(code ErrorCode, message string, err error) *ChatError {
	return &ChatError{Code: code, Message: message, Wrapped: err}
}

// Sentinel errors for errors.Is checks against the common failure modes.
var (
	ErrNotConnected = NewError(ErrorNotConnected, "not connected to broker")
	ErrNotJoined    = NewError(ErrorNotJoined, "room not joined")
)

// CodeOf extracts the ErrorCode from err, or ErrorUnknown.
func CodeOf(err error) ErrorCode {
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrorUnknown
}
