// Package health runs preflight checks against the collaborators a deploy
// depends on (local repository, git remote, issue tracker).
package health

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultTimeout bounds each individual check.
const DefaultTimeout = 5 * time.Second

// ReadinessChecker is the interface for readiness checks.
// *issue.Client implements it.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// ReadinessFunc adapts a function to ReadinessChecker.
type ReadinessFunc func(ctx context.Context) error

// Ready calls f.
func (f ReadinessFunc) Ready(ctx context.Context) error {
	return f(ctx)
}

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusSkipped   Status = "skipped"
)

// CheckResult contains the result of a single check.
type CheckResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Response is the aggregate of all registered checks, in registration order.
type Response struct {
	Status Status        `json:"status"`
	Checks []CheckResult `json:"checks,omitempty"`
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// Check returns the named result.
func (r *Response) Check(name string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

type check struct {
	name     string
	checker  ReadinessChecker
	optional bool
}

// Checker performs checks in order. A failed required check makes the
// response unhealthy and skips the checks after it; a failed optional check
// only degrades it.
type Checker struct {
	checks  []check
	timeout time.Duration
	logger  *slog.Logger
}

// NewChecker creates a checker with the given per-check timeout
// (DefaultTimeout if zero).
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{
		timeout: timeout,
		logger:  slog.With("component", "health"),
	}
}

// Require registers a check that must pass.
func (c *Checker) Require(name string, rc ReadinessChecker) *Checker {
	c.checks = append(c.checks, check{name: name, checker: rc})
	return c
}

// Optional registers a check whose failure degrades the response.
func (c *Checker) Optional(name string, rc ReadinessChecker) *Checker {
	c.checks = append(c.checks, check{name: name, checker: rc, optional: true})
	return c
}

// Run executes every registered check.
func (c *Checker) Run(ctx context.Context) *Response {
	resp := &Response{Status: StatusHealthy}
	if len(c.checks) == 0 {
		resp.Status = StatusUnhealthy
		resp.Checks = []CheckResult{{Name: "checks", Status: StatusUnhealthy, Message: "no checks configured"}}
		return resp
	}

	blocked := false
	for _, chk := range c.checks {
		if blocked {
			resp.Checks = append(resp.Checks, CheckResult{Name: chk.name, Status: StatusSkipped, Message: "skipped after a failed required check"})
			continue
		}

		result := c.runOne(ctx, chk)
		resp.Checks = append(resp.Checks, result)
		if result.Status == StatusHealthy {
			continue
		}
		if chk.optional {
			if resp.Status == StatusHealthy {
				resp.Status = StatusDegraded
			}
			continue
		}
		resp.Status = StatusUnhealthy
		blocked = true
	}
	return resp
}

func (c *Checker) runOne(ctx context.Context, chk check) CheckResult {
	result := CheckResult{Name: chk.name, Status: StatusHealthy}
	if chk.checker == nil {
		result.Status = StatusUnhealthy
		result.Message = chk.name + " not configured"
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := chk.checker.Ready(ctx)
	result.Duration = time.Since(start)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			result.Message = "timed out after " + c.timeout.String()
		}
		c.logger.Warn("Check failed", "check", chk.name, "optional", chk.optional, "error", err)
		return result
	}
	c.logger.Debug("Check passed", "check", chk.name, "duration", result.Duration)
	return result
}
