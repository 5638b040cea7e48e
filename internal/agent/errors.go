// ABOUTME: Typed error taxonomy for the remote agent RPC boundary
// ABOUTME: Classifies transport failures into the kinds the retry policy understands

package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrBreakerOpen is returned when the circuit breaker refuses a call
// without touching the transport.
var ErrBreakerOpen = errors.New("circuit breaker open")

// ErrorKind classifies a failed agent call.
type ErrorKind int

const (
	KindTimeout ErrorKind = iota
	KindUnavailable
	KindSessionNotFound
	KindInvalidRequest
	KindPermissionDenied
)

// String returns the lowercase name of the kind for logging.
func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	case KindSessionNotFound:
		return "session_not_found"
	case KindInvalidRequest:
		return "invalid_request"
	case KindPermissionDenied:
		return "permission_denied"
	default:
		return "unknown"
	}
}

// Retryable reports whether a call failing with this kind may be retried
// with the same session handle.
func (k ErrorKind) Retryable() bool {
	return k == KindTimeout || k == KindUnavailable
}

// CallError is a classified failure from the agent RPC boundary.
type CallError struct {
	Kind ErrorKind
	Err  error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("agent call %s: %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// IsSessionNotFound reports whether err is a session-not-found call error.
// The registry invalidates the handle and the dispatcher retries once with
// a fresh session when this is true.
func IsSessionNotFound(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Kind == KindSessionNotFound
}

// IsRetryable reports whether err is a classified retryable failure.
func IsRetryable(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Kind.Retryable()
}

// classifyStatus maps an HTTP response status to an error kind.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status == http.StatusNotFound:
		return KindSessionNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindPermissionDenied
	case status == http.StatusTooManyRequests || status >= 500:
		return KindUnavailable
	default:
		return KindInvalidRequest
	}
}

// classifyTransportError maps a transport-level error (connection refused,
// deadline exceeded) to a CallError.
func classifyTransportError(err error) *CallError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &CallError{Kind: KindTimeout, Err: err}
	}
	return &CallError{Kind: KindUnavailable, Err: err}
}
