// Package util provides shared utility types for the gateway.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrCircuitOpen.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., BackendError, UpstreamStatusError). Each
//     type implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
package util

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinel errors.
var (
	ErrInvalidRequest  = errors.New("invalid request envelope")
	ErrTaskTimeout     = errors.New("task timed out")
	ErrCircuitOpen     = errors.New("circuit breaker open")
	ErrBackendUnavail  = errors.New("backend unavailable")
	ErrBadUpstreamBody = errors.New("malformed upstream payload")
	ErrSchedulerClosed = errors.New("scheduler closed")
	ErrConfigInvalid   = errors.New("invalid configuration")
)

// ValidationError reports why a request envelope failed validation.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid request: %s", e.Message)
}

// Is checks if the error matches the target.
func (e *ValidationError) Is(target error) bool {
	if target == ErrInvalidRequest {
		return true
	}
	_, ok := target.(*ValidationError)
	return ok
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// BackendError represents a connection-level failure reaching a backend.
type BackendError struct {
	Backend string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Message, e.Cause)
	}
	return fmt.Sprintf("backend %s: %s", e.Backend, e.Message)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *BackendError) Is(target error) bool {
	if target == ErrBackendUnavail {
		return true
	}
	_, ok := target.(*BackendError)
	return ok || errors.Is(e.Cause, target)
}

// NewBackendError creates a new BackendError.
func NewBackendError(backend, message string, cause error) *BackendError {
	return &BackendError{Backend: backend, Message: message, Cause: cause}
}

// UpstreamStatusError represents a non-2xx HTTP status from an upstream.
type UpstreamStatusError struct {
	Backend    string
	StatusCode int
}

// Error implements the error interface.
func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("backend %s returned status %d", e.Backend, e.StatusCode)
}

// Is checks if the error matches the target.
func (e *UpstreamStatusError) Is(target error) bool {
	_, ok := target.(*UpstreamStatusError)
	return ok
}

// IsServerStatus reports whether the status is a 5xx server error.
func (e *UpstreamStatusError) IsServerStatus() bool {
	return e.StatusCode >= 500
}

// TimeoutError represents a timeout during an operation.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %v during %s", e.Duration, e.Operation)
}

// Is checks if the error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if target == ErrTaskTimeout {
		return true
	}
	_, ok := target.(*TimeoutError)
	return ok
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{Operation: operation, Duration: duration}
}

// CircuitOpenError represents a short-circuited call for a backend.
type CircuitOpenError struct {
	Backend   string
	RetryTime time.Time
}

// Error implements the error interface.
func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for backend %s", e.Backend)
}

// Is checks if the error matches the target.
func (e *CircuitOpenError) Is(target error) bool {
	if target == ErrCircuitOpen {
		return true
	}
	_, ok := target.(*CircuitOpenError)
	return ok
}

// NewCircuitOpenError creates a new CircuitOpenError.
func NewCircuitOpenError(backend string, retryTime time.Time) *CircuitOpenError {
	return &CircuitOpenError{Backend: backend, RetryTime: retryTime}
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsRetryable reports whether a forwarding failure may be retried.
// Connection-level failures and 5xx statuses are retryable; client
// statuses and malformed payloads are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrBadUpstreamBody) {
		return false
	}

	var statusErr *UpstreamStatusError
	if errors.As(err, &statusErr) {
		return statusErr.IsServerStatus()
	}

	var backendErr *BackendError
	return errors.As(err, &backendErr)
}
