package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestValidation(t *testing.T) {
	t.Parallel()
	err := Validation("issue_number", "issue_number is required")

	if !errors.Is(err, ErrValidation) {
		t.Error("expected error to match ErrValidation")
	}
	if err.Error() != "issue_number is required" {
		t.Errorf("expected message 'issue_number is required', got %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Field != "issue_number" {
		t.Errorf("expected field 'issue_number', got %q", appErr.Field)
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	err := NotFound("post", "license.md")

	if !errors.Is(err, ErrNotFound) {
		t.Error("expected error to match ErrNotFound")
	}
	if err.Error() != "post license.md not found" {
		t.Errorf("expected message 'post license.md not found', got %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Resource != "post" {
		t.Errorf("expected resource 'post', got %q", appErr.Resource)
	}
}

func TestConflict(t *testing.T) {
	t.Parallel()
	err := Conflict("issue", "12", "issue is locked")

	if !errors.Is(err, ErrConflict) {
		t.Error("expected error to match ErrConflict")
	}
	if err.Error() != "issue is locked" {
		t.Errorf("expected message 'issue is locked', got %q", err.Error())
	}
}

func TestTimeout(t *testing.T) {
	t.Parallel()
	err := Timeout("deploy.job", 10*time.Second)

	if !errors.Is(err, ErrTimeout) {
		t.Error("expected error to match ErrTimeout")
	}
	if err.Error() != "deploy.job: timeout after 10s" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestInternal(t *testing.T) {
	t.Parallel()
	cause := fmt.Errorf("remote rejected")
	err := Internal("git.push", cause)

	if !errors.Is(err, ErrInternal) {
		t.Error("expected error to match ErrInternal")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through errors.Is")
	}
	if err.Error() != "git.push: remote rejected" {
		t.Errorf("unexpected message: %q", err.Error())
	}

	var appErr *Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected error to be *Error")
	}
	if appErr.Op != "git.push" {
		t.Errorf("expected op 'git.push', got %q", appErr.Op)
	}
	if appErr.Cause != cause {
		t.Error("expected cause to be preserved")
	}
}

func TestFromStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		code     int
		sentinel error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrUnauthorized},
		{"not found", http.StatusNotFound, ErrNotFound},
		{"gone", http.StatusGone, ErrNotFound},
		{"conflict", http.StatusConflict, ErrConflict},
		{"unprocessable", http.StatusUnprocessableEntity, ErrValidation},
		{"server error", http.StatusBadGateway, ErrRemote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := FromStatus("issue.create", tt.code, "")
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("FromStatus(%d) does not match %v", tt.code, tt.sentinel)
			}
		})
	}
}

func TestFromStatus_Message(t *testing.T) {
	t.Parallel()
	err := FromStatus("issue.update", http.StatusNotFound, "Not Found")
	if err.Error() != "issue.update: HTTP 404: Not Found" {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if !IsClientError(err) {
		t.Error("expected 404 to be a client error")
	}
	if IsClientError(FromStatus("issue.update", http.StatusBadGateway, "")) {
		t.Error("expected 502 not to be a client error")
	}
	if IsClientError(fmt.Errorf("plain")) {
		t.Error("expected plain error not to be a client error")
	}
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil", nil, ExitOK},
		{"validation", Validation("owner", "required"), ExitValidation},
		{"not found", NotFound("post", "a.md"), ExitNotFound},
		{"unauthorized", Unauthorized("issue.create", "bad token"), ExitUnauthorized},
		{"status unauthorized", FromStatus("issue.create", http.StatusUnauthorized, ""), ExitUnauthorized},
		{"internal", Internal("op", fmt.Errorf("fail")), ExitFailure},
		{"wrapped validation", fmt.Errorf("wrap: %w", Validation("f", "m")), ExitValidation},
		{"unknown error", fmt.Errorf("unknown"), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ExitCode(tt.err)
			if got != tt.expected {
				t.Errorf("ExitCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestErrorsIsWithWrapping(t *testing.T) {
	t.Parallel()
	original := Validation("issue_number", "required")
	wrapped := fmt.Errorf("update post: %w", original)
	doubleWrapped := fmt.Errorf("deploy: %w", wrapped)

	if !errors.Is(doubleWrapped, ErrValidation) {
		t.Error("expected errors.Is to find ErrValidation through multiple wraps")
	}
}
