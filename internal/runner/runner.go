// Package runner executes independent units of work under a concurrency
// ceiling and a per-unit timeout. A failing unit never cancels its siblings.
package runner

import (
	"context"
	"errors"
	"fmt"
	"isubo/internal/apperrors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxConcurrency = 6
	DefaultUnitTimeout    = 10 * time.Second
)

// Unit is one schedulable piece of work.
type Unit func(ctx context.Context) (any, error)

// Result is the settled outcome of one unit. Index is the unit's position in
// the submitted slice.
type Result struct {
	Index    int
	Value    any
	Err      error
	Duration time.Duration
}

// TimedOut reports whether the unit exceeded its timeout.
func (r Result) TimedOut() bool {
	return errors.Is(r.Err, apperrors.ErrTimeout)
}

// Config holds runner limits.
type Config struct {
	MaxConcurrency int           // units in flight at once (default: 6)
	UnitTimeout    time.Duration // per-unit deadline (default: 10s)
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.UnitTimeout <= 0 {
		c.UnitTimeout = DefaultUnitTimeout
	}
	return c
}

// Stats holds cumulative runner statistics.
type Stats struct {
	Submitted    int64
	Succeeded    int64
	Failed       int64 // includes timed out units
	TimedOut     int64
	InFlight     int64
	PeakInFlight int64
}

// Outcome labels for MetricsRecorder.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
)

// MetricsRecorder receives one observation per settled unit.
type MetricsRecorder interface {
	RecordUnit(ctx context.Context, outcome string, duration time.Duration)
}

// Option configures a Runner.
type Option func(*Runner)

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = l.With("component", "runner")
	}
}

// Runner is a bounded, fault-isolating scheduler. A Runner may be reused;
// counters accumulate across Run calls.
type Runner struct {
	cfg     Config
	metrics MetricsRecorder
	logger  *slog.Logger

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64
	inFlight  atomic.Int64
	peak      atomic.Int64
}

// New creates a Runner.
func New(cfg Config, opts ...Option) *Runner {
	r := &Runner{
		cfg:    cfg.withDefaults(),
		logger: slog.With("component", "runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the effective limits.
func (r *Runner) Config() Config {
	return r.cfg
}

// Run submits units in order and waits until every submitted unit settled.
// The returned slice has one Result per unit, indexed like units.
//
// Run returns an error only when ctx is cancelled before every unit could be
// submitted; the unsubmitted units then settle with the context error.
func (r *Runner) Run(ctx context.Context, units []Unit) ([]Result, error) {
	results := make([]Result, len(units))
	if len(units) == 0 {
		return results, nil
	}

	var g errgroup.Group
	g.SetLimit(r.cfg.MaxConcurrency)

	var submitErr error
	for i, unit := range units {
		if err := ctx.Err(); err != nil {
			submitErr = err
			for j := i; j < len(units); j++ {
				results[j] = Result{Index: j, Err: err}
			}
			break
		}
		r.submitted.Add(1)
		g.Go(func() error {
			results[i] = r.runUnit(ctx, i, unit)
			return nil
		})
	}
	_ = g.Wait() // units never return errors to the group

	if submitErr != nil {
		return results, fmt.Errorf("runner: submission interrupted: %w", submitErr)
	}
	return results, nil
}

func (r *Runner) runUnit(ctx context.Context, index int, unit Unit) Result {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	unitCtx, cancel := context.WithTimeout(ctx, r.cfg.UnitTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- Result{Err: apperrors.Internal(fmt.Sprintf("unit %d", index), fmt.Errorf("panic: %v", p))}
			}
		}()
		v, err := unit(unitCtx)
		done <- Result{Value: v, Err: err}
	}()

	var res Result
	select {
	case res = <-done:
	case <-unitCtx.Done():
		// The unit keeps running in the background; only our wait is abandoned.
		res = Result{Err: unitCtx.Err()}
	}
	res.Index = index
	res.Duration = time.Since(start)

	if res.Err != nil && ctx.Err() == nil && errors.Is(unitCtx.Err(), context.DeadlineExceeded) &&
		errors.Is(res.Err, context.DeadlineExceeded) {
		res.Err = apperrors.Timeout(fmt.Sprintf("unit %d", index), r.cfg.UnitTimeout)
	}

	outcome := OutcomeSuccess
	switch {
	case res.Err == nil:
		r.succeeded.Add(1)
	case res.TimedOut():
		outcome = OutcomeTimeout
		r.failed.Add(1)
		r.timedOut.Add(1)
	default:
		outcome = OutcomeFailure
		r.failed.Add(1)
	}
	if res.Err != nil {
		r.logger.Debug("Unit failed", "index", index, "outcome", outcome, "error", res.Err)
	}
	if r.metrics != nil {
		r.metrics.RecordUnit(ctx, outcome, res.Duration)
	}
	return res
}

// Stats returns a snapshot of the counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Submitted:    r.submitted.Load(),
		Succeeded:    r.succeeded.Load(),
		Failed:       r.failed.Load(),
		TimedOut:     r.timedOut.Load(),
		InFlight:     r.inFlight.Load(),
		PeakInFlight: r.peak.Load(),
	}
}
