// Package apperrors provides structured application errors with exit code mapping.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTimeout      = errors.New("timeout")
	ErrRemote       = errors.New("remote error")
	ErrInternal     = errors.New("internal error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "issue_number", "owner")
	Resource string // For not found/conflict (e.g., "issue", "post")
	Op       string // Operation that failed (e.g., "git.push")
	Status   int    // HTTP status reported by the remote tracker, if any
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel and the cause so both are visible to errors.Is().
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Conflict creates a conflict error for a resource.
func Conflict(resource, id, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  reason,
		Resource: resource,
	}
}

// Unauthorized creates an authentication/authorization error for an operation.
func Unauthorized(op, message string) error {
	return &Error{
		Sentinel: ErrUnauthorized,
		Message:  fmt.Sprintf("%s: %s", op, message),
		Op:       op,
	}
}

// Timeout creates a timeout error for an operation that exceeded its deadline.
func Timeout(op string, after time.Duration) error {
	return &Error{
		Sentinel: ErrTimeout,
		Message:  fmt.Sprintf("%s: timeout after %s", op, after),
		Op:       op,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
