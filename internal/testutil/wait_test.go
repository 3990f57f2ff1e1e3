package testutil

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		succeedAt int
		opts      []PollOption
		want      bool
	}{
		{"immediate", 1, []PollOption{WithTimeout(time.Second)}, true},
		{"eventual", 3, []PollOption{WithTimeout(time.Second), WithInterval(time.Millisecond)}, true},
		{"never", -1, []PollOption{WithTimeout(30 * time.Millisecond), WithInterval(5 * time.Millisecond)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			calls := 0
			got := WaitFor(t, func() bool {
				calls++
				return tt.succeedAt > 0 && calls >= tt.succeedAt
			}, tt.opts...)

			if got != tt.want {
				t.Errorf("WaitFor() = %v, want %v", got, tt.want)
			}
			if tt.want && calls != tt.succeedAt {
				t.Errorf("condition sampled %d times, want %d", calls, tt.succeedAt)
			}
		})
	}
}

func TestWaitFor_ChecksAtDeadline(t *testing.T) {
	t.Parallel()
	var flipped atomic.Bool
	time.AfterFunc(15*time.Millisecond, func() { flipped.Store(true) })

	// The interval is longer than the timeout, so only the final sample can
	// see the flip.
	got := WaitFor(t, flipped.Load, WithTimeout(40*time.Millisecond), WithInterval(time.Hour))
	if !got {
		t.Error("expected the deadline sample to observe the condition")
	}
}

func TestMustWaitForCount(t *testing.T) {
	t.Parallel()
	var counter atomic.Int64
	go func() {
		for i := 0; i < 5; i++ {
			time.Sleep(2 * time.Millisecond)
			counter.Add(1)
		}
	}()

	MustWaitForCount(t, &counter, 5, WithTimeout(time.Second))
}

func TestNewPoll(t *testing.T) {
	t.Parallel()
	p := newPoll(nil)
	if p.Timeout != 5*time.Second || p.Interval != 10*time.Millisecond {
		t.Errorf("defaults = %+v", p)
	}

	p = newPoll([]PollOption{WithTimeout(time.Minute), WithInterval(0)})
	if p.Timeout != time.Minute || p.Interval != time.Millisecond {
		t.Errorf("adjusted = %+v", p)
	}
}
