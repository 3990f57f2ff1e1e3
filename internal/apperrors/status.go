package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Exit codes returned by the CLI.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitValidation   = 2
	ExitNotFound     = 3
	ExitUnauthorized = 4
)

// FromStatus classifies a non-2xx HTTP response from the remote tracker.
func FromStatus(op string, code int, message string) error {
	if message == "" {
		message = http.StatusText(code)
	}

	var sentinel error
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		sentinel = ErrUnauthorized
	case code == http.StatusNotFound || code == http.StatusGone:
		sentinel = ErrNotFound
	case code == http.StatusConflict:
		sentinel = ErrConflict
	case code == http.StatusUnprocessableEntity || code == http.StatusBadRequest:
		sentinel = ErrValidation
	default:
		sentinel = ErrRemote
	}

	return &Error{
		Sentinel: sentinel,
		Message:  fmt.Sprintf("%s: HTTP %d: %s", op, code, message),
		Op:       op,
		Status:   code,
	}
}

// IsClientError returns true for 4xx responses.
func IsClientError(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status >= 400 && appErr.Status < 500
	}
	return false
}

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrValidation):
		return ExitValidation
	case errors.Is(err, ErrNotFound):
		return ExitNotFound
	case errors.Is(err, ErrUnauthorized):
		return ExitUnauthorized
	default:
		return ExitFailure
	}
}
