// Package errors provides the error taxonomy for the gochat session layer.
// It defines error categories, error codes, and the SessionError type used
// to classify connection and per-call failures.
package errors

import (
	"errors"
	"fmt"

	"github.com/real-rm/gochat/internal/message"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryAuth represents authentication failures at connect time
	CategoryAuth ErrorCategory = "auth"
	// CategoryNetwork represents socket-level failures
	CategoryNetwork ErrorCategory = "network"
	// CategoryTransport represents protocol-level handshake or frame failures
	CategoryTransport ErrorCategory = "transport"
	// CategoryState represents operations attempted in the wrong connection state
	CategoryState ErrorCategory = "state"
	// CategoryContent represents malformed payload content
	CategoryContent ErrorCategory = "content"
)

// ErrorCode represents specific error codes
type ErrorCode string

const (
	ErrCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
	ErrCodeMissingToken         ErrorCode = "MISSING_TOKEN"
	ErrCodeNetworkError         ErrorCode = "NETWORK_ERROR"
	ErrCodeTransportError       ErrorCode = "TRANSPORT_ERROR"
	ErrCodeNotConnected         ErrorCode = "NOT_CONNECTED"
	ErrCodeSubscriptionFailed   ErrorCode = "SUBSCRIPTION_FAILED"
	ErrCodeContentParse         ErrorCode = "CONTENT_PARSE_ERROR"
)

// SessionError represents a session-layer error with category and
// recoverability information. Connection-level failures are broadcast to
// listeners rather than thrown; per-call failures are returned as values.
type SessionError struct {
	Category    ErrorCategory
	Code        ErrorCode
	Message     string
	Recoverable bool
	Cause       error
}

// Error implements the error interface
func (e *SessionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *SessionError) Unwrap() error {
	return e.Cause
}

// IsFatal returns true if the error must not trigger an automatic retry
func (e *SessionError) IsFatal() bool {
	return !e.Recoverable
}

// ToErrorInfo converts a SessionError to a message.ErrorInfo for the wire
func (e *SessionError) ToErrorInfo() *message.ErrorInfo {
	return &message.ErrorInfo{
		Code:    string(e.Code),
		Message: e.Message,
	}
}

// NewAuthenticationError creates an authentication error. Fatal: the connect
// attempt surfaces it to the caller and no automatic retry happens.
func NewAuthenticationError(code ErrorCode, msg string, cause error) *SessionError {
	return &SessionError{
		Category:    CategoryAuth,
		Code:        code,
		Message:     msg,
		Recoverable: false,
		Cause:       cause,
	}
}

// NewNetworkError creates a socket-level error. Recoverable: it feeds the
// fixed-delay reconnect loop.
func NewNetworkError(msg string, cause error) *SessionError {
	return &SessionError{
		Category:    CategoryNetwork,
		Code:        ErrCodeNetworkError,
		Message:     msg,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewTransportError creates a protocol-level error (handshake rejected,
// error frame received). Recoverable for reconnect purposes.
func NewTransportError(msg string, cause error) *SessionError {
	return &SessionError{
		Category:    CategoryTransport,
		Code:        ErrCodeTransportError,
		Message:     msg,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewNotConnectedError creates the error returned when subscribe is
// attempted while the transport is not connected. Always recoverable; the
// caller is expected to gate on connection state.
func NewNotConnectedError(operation string) *SessionError {
	return &SessionError{
		Category:    CategoryState,
		Code:        ErrCodeNotConnected,
		Message:     fmt.Sprintf("cannot %s: transport not connected", operation),
		Recoverable: true,
	}
}

// NewSubscriptionError creates an error for a subscribe that could not reach
// the broker.
func NewSubscriptionError(destination string, cause error) *SessionError {
	return &SessionError{
		Category:    CategoryTransport,
		Code:        ErrCodeSubscriptionFailed,
		Message:     fmt.Sprintf("subscription to %s failed", destination),
		Recoverable: true,
		Cause:       cause,
	}
}

// ErrMissingToken creates the error for a connect attempted without a token.
// A missing token is a hard precondition failure, not a retryable condition.
func ErrMissingToken() *SessionError {
	return NewAuthenticationError(ErrCodeMissingToken, "no authentication token supplied", nil)
}

// ErrHandshakeRejected creates the error for a handshake answered with an
// error frame.
func ErrHandshakeRejected(info *message.ErrorInfo) *SessionError {
	if info == nil {
		return NewTransportError("handshake rejected by broker", nil)
	}
	if info.Code == string(ErrCodeAuthenticationFailed) {
		return NewAuthenticationError(ErrCodeAuthenticationFailed, info.Message, nil)
	}
	return NewTransportError(fmt.Sprintf("handshake rejected: %s", info.Message), nil)
}

// IsAuthenticationError reports whether err is an authentication failure
func IsAuthenticationError(err error) bool {
	var se *SessionError
	return errors.As(err, &se) && se.Category == CategoryAuth
}

// IsNotConnected reports whether err is a not-connected condition
func IsNotConnected(err error) bool {
	var se *SessionError
	return errors.As(err, &se) && se.Code == ErrCodeNotConnected
}

// IsNetworkError reports whether err is a socket-level failure
func IsNetworkError(err error) bool {
	var se *SessionError
	return errors.As(err, &se) && se.Category == CategoryNetwork
}

// IsTransportError reports whether err is a protocol-level failure
func IsTransportError(err error) bool {
	var se *SessionError
	return errors.As(err, &se) && se.Category == CategoryTransport
}
