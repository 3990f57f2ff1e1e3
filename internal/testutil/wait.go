package testutil

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// Poll configures how WaitFor samples a condition. Defaults suit local git
// and httptest fixtures: 5s overall, 10ms between samples.
type Poll struct {
	Timeout  time.Duration
	Interval time.Duration
}

// PollOption adjusts a Poll.
type PollOption func(*Poll)

// WithTimeout sets the maximum wait time.
func WithTimeout(d time.Duration) PollOption {
	return func(p *Poll) {
		p.Timeout = d
	}
}

// WithInterval sets the sampling interval.
func WithInterval(d time.Duration) PollOption {
	return func(p *Poll) {
		p.Interval = d
	}
}

func newPoll(opts []PollOption) Poll {
	p := Poll{Timeout: 5 * time.Second, Interval: 10 * time.Millisecond}
	for _, opt := range opts {
		opt(&p)
	}
	if p.Interval <= 0 {
		p.Interval = time.Millisecond
	}
	return p
}

// WaitFor samples condition until it holds or the poll times out. The
// condition is checked once more at the deadline.
func WaitFor(tb testing.TB, condition func() bool, opts ...PollOption) bool {
	tb.Helper()

	p := newPoll(opts)
	ctx, cancel := context.WithTimeout(context.Background(), p.Timeout)
	defer cancel()

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		if condition() {
			return true
		}
		select {
		case <-ctx.Done():
			return condition()
		case <-ticker.C:
		}
	}
}

// MustWaitFor fails the test when condition does not hold in time.
func MustWaitFor(tb testing.TB, condition func() bool, opts ...PollOption) {
	tb.Helper()
	if !WaitFor(tb, condition, opts...) {
		tb.Fatal("timed out waiting for condition")
	}
}

// MustWaitForCount fails the test when counter stays below target.
func MustWaitForCount(tb testing.TB, counter *atomic.Int64, target int64, opts ...PollOption) {
	tb.Helper()
	ok := WaitFor(tb, func() bool { return counter.Load() >= target }, opts...)
	if !ok {
		tb.Fatalf("timed out waiting for counter to reach %d (current: %d)", target, counter.Load())
	}
}
