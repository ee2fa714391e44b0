package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnauthenticated means credentials are missing or were rejected.
	// It is never retried.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotSupported is returned for capabilities an adapter does not offer.
	ErrNotSupported = errors.New("operation not supported by adapter")

	// ErrNotFound is returned when a remote object does not exist.
	ErrNotFound = errors.New("remote object not found")
)

// TransientError wraps a failure that may succeed when retried: network
// errors, timeouts, 5xx responses and failed transfers after a valid grant.
type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transient failure (HTTP %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err carries a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// StatusError is a permanent non-2xx response.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
}

func unauthenticated(op, detail string) error {
	if detail == "" {
		return fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	}
	return fmt.Errorf("%s: %w: %s", op, ErrUnauthenticated, detail)
}

// classifyStatus maps a control-plane HTTP status to the error taxonomy.
func classifyStatus(op string, status int, message string) error {
	message = strings.TrimSpace(message)
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return unauthenticated(op, message)
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case status >= 500, status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return &TransientError{Op: op, StatusCode: status, Err: errors.New(nonEmpty(message, http.StatusText(status)))}
	default:
		return &StatusError{Op: op, StatusCode: status, Message: message}
	}
}

// classifyTransport turns a failed round trip into a TransientError unless
// the caller's context was cancelled.
func classifyTransport(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.Canceled) {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return &TransientError{Op: op, Err: err}
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
