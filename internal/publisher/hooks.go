package publisher

import "context"

// Hooks run at fixed points of a publish attempt. A non-nil error from any
// hook fails the attempt at that point, which triggers compensation.
type Hooks struct {
	BeforePush       func(ctx context.Context) error
	AfterBackup      func(ctx context.Context) error
	AfterCommit      func(ctx context.Context) error
	BeforePushRemote func(ctx context.Context) error
	AfterPush        func(ctx context.Context, commitID string) error
	// OnRecover runs before each compensating action; an error skips that
	// action only.
	OnRecover func(ctx context.Context, task RecoverTask) error
}

func nop(context.Context) error { return nil }

func (h Hooks) withDefaults() Hooks {
	if h.BeforePush == nil {
		h.BeforePush = nop
	}
	if h.AfterBackup == nil {
		h.AfterBackup = nop
	}
	if h.AfterCommit == nil {
		h.AfterCommit = nop
	}
	if h.BeforePushRemote == nil {
		h.BeforePushRemote = nop
	}
	if h.AfterPush == nil {
		h.AfterPush = func(context.Context, string) error { return nil }
	}
	if h.OnRecover == nil {
		h.OnRecover = func(context.Context, RecoverTask) error { return nil }
	}
	return h
}
