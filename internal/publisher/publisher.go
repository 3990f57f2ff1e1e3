// Package publisher commits and pushes the post and asset files touched by a
// deploy call as one recoverable unit. Every mutating git step queues its
// compensating action; a failure drains that queue in reverse.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"isubo/internal/apperrors"
	"isubo/internal/gitrepo"
	"isubo/internal/hint"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// State of a publish attempt.
type State string

const (
	StateClean         State = "clean"
	StateBackedUp      State = "backed_up"
	StateCommitted     State = "committed"
	StatePushed        State = "pushed"
	StateRestored      State = "restored"
	StateNothingToPush State = "nothing_to_push"
	StateFailed        State = "failed"
	StateRolledBack    State = "rolled_back"
)

// Reset modes for the anchor compensation.
const (
	ResetMixed = "mixed"
	ResetHard  = "hard"
)

const (
	DefaultRemote = "origin"
	// DefaultRecoverTimeout bounds compensation, which outlives a cancelled
	// publish context.
	DefaultRecoverTimeout = 30 * time.Second
)

// Transport is the version-control surface the publisher drives.
// *gitrepo.Client satisfies it.
type Transport interface {
	Status(ctx context.Context) (*gitrepo.Status, error)
	Add(ctx context.Context, paths []string) error
	Commit(ctx context.Context, message string) (string, error)
	ResetMixed(ctx context.Context, ref string) error
	ResetHard(ctx context.Context, ref string) error
	Push(ctx context.Context, remote, branch string) error
	CurrentBranch(ctx context.Context) (string, error)
	LatestCommit(ctx context.Context) (string, error)
	Root() string
}

// MetricsRecorder is optional.
type MetricsRecorder interface {
	RecordPublish(ctx context.Context, state string, duration time.Duration)
	RecordRecover(ctx context.Context, kind string, ok bool)
}

// Config controls where and how the publisher pushes.
type Config struct {
	Remote         string        // default: origin
	Branch         string        // empty pushes the current branch
	ResetMode      string        // mixed (default) or hard
	RecoverTimeout time.Duration // default: DefaultRecoverTimeout
}

func (c Config) withDefaults() Config {
	if c.Remote == "" {
		c.Remote = DefaultRemote
	}
	if c.ResetMode != ResetHard {
		c.ResetMode = ResetMixed
	}
	if c.RecoverTimeout <= 0 {
		c.RecoverTimeout = DefaultRecoverTimeout
	}
	return c
}

// Outcome describes one publish attempt.
type Outcome struct {
	AttemptID   string
	State       State
	Anchor      string   // HEAD before the attempt
	CommitID    string   // commit created by the attempt, if any
	Pushed      []string // paths included in the commit
	Restaged    []string // previously staged paths staged again
	RecoverErrs []error  // compensating actions that failed
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithHinter sets the progress hinter (default: hint.Nop).
func WithHinter(h hint.Hinter) Option {
	return func(p *Publisher) {
		p.hint = hint.OrNop(h)
	}
}

// WithHooks installs step hooks. Unset fields stay no-ops.
func WithHooks(h Hooks) Option {
	return func(p *Publisher) {
		p.hooks = h.withDefaults()
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// Publisher runs publish attempts against one repository.
// Concurrent attempts against the same repository are not supported.
type Publisher struct {
	git     Transport
	cfg     Config
	hint    hint.Hinter
	hooks   Hooks
	metrics MetricsRecorder
	logger  *slog.Logger
}

// New creates a Publisher.
func New(git Transport, cfg Config, opts ...Option) *Publisher {
	p := &Publisher{
		git:    git,
		cfg:    cfg.withDefaults(),
		hint:   hint.Nop{},
		hooks:  Hooks{}.withDefaults(),
		logger: slog.With("component", "publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// stepError tags a failure with the step that produced it.
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.step + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

// step runs fn between Start and Succeed/Fail hints.
func (p *Publisher) step(name, msg string, fn func() error) error {
	key := "publisher." + name
	p.hint.Start(key, msg)
	if err := fn(); err != nil {
		p.hint.Fail(key, err)
		return &stepError{step: name, err: err}
	}
	p.hint.Succeed(key)
	return nil
}

// Publish commits the changed files named by batch and pushes them. A clean
// tree, or a batch whose files are all unchanged, ends without mutation.
//
// On any failure after the anchor is recorded, the queued compensating
// actions run newest first and the step error is returned wrapped as an
// internal error. Compensation failures are reported in Outcome.RecoverErrs
// and never returned. Compensation and restaging ignore cancellation of ctx
// and are bounded by Config.RecoverTimeout instead.
func (p *Publisher) Publish(ctx context.Context, batch Batch) (*Outcome, error) {
	out := &Outcome{AttemptID: uuid.NewString(), State: StateClean}
	logger := p.logger.With("attempt", out.AttemptID)
	start := time.Now()
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordPublish(ctx, string(out.State), time.Since(start))
		}
		logger.Info("Publish finished", "state", out.State, "commit", out.CommitID, "duration", time.Since(start))
	}()

	st, err := p.git.Status(ctx)
	if err != nil {
		out.State = StateFailed
		return out, apperrors.Internal("publisher.status", err)
	}
	if st.IsClean() {
		p.hint.Info("nothing to push: working tree clean")
		out.State = StateNothingToPush
		return out, nil
	}

	anchor, err := p.git.LatestCommit(ctx)
	if err != nil {
		out.State = StateFailed
		return out, apperrors.Internal("publisher.anchor", err)
	}
	out.Anchor = anchor

	var q recoverQueue
	if err := p.attempt(ctx, batch, st, &q, out); err != nil {
		out.State = StateFailed
		logger.Error("Publish failed", "error", err, "queued_recover_tasks", q.len())
		if n := q.len(); n > 0 {
			rctx, cancel := p.recoverContext(ctx)
			out.RecoverErrs = append(out.RecoverErrs, p.drain(rctx, &q)...)
			cancel()
			if len(out.RecoverErrs) < n {
				out.State = StateRolledBack
			}
		}
		op := "publisher"
		var se *stepError
		if errors.As(err, &se) {
			op += "." + se.step
			err = se.err
		}
		return out, apperrors.Internal(op, err)
	}
	return out, nil
}

func (p *Publisher) attempt(ctx context.Context, batch Batch, st *gitrepo.Status, q *recoverQueue, out *Outcome) error {
	if err := p.hooks.BeforePush(ctx); err != nil {
		return &stepError{step: "before_push", err: err}
	}

	prior, st, err := p.backup(ctx, st)
	if prior != nil || err == nil {
		q.push(RecoverTask{
			Kind:  KindRestage,
			Name:  "restage_prior",
			Hint:  "Restoring previously staged files",
			Paths: prior,
		})
	}
	if err != nil {
		return err
	}
	out.State = StateBackedUp
	if err := p.hooks.AfterBackup(ctx); err != nil {
		return &stepError{step: "after_backup", err: err}
	}

	eligible := batch.eligible(st)
	if len(eligible) == 0 {
		q.clear()
		p.hint.Info("nothing to push: no recorded post or asset changed")
		out.State = StateNothingToPush
		out.Restaged = p.restage(ctx, prior, out)
		return nil
	}

	if err := p.step("stage", "Staging posts and assets", func() error {
		return p.git.Add(ctx, eligible)
	}); err != nil {
		return err
	}
	q.push(RecoverTask{Kind: KindUnstage, Name: "unstage", Hint: "Unstaging posts and assets"})

	msg := batch.commitMessage()
	if err := p.step("commit", msg, func() error {
		id, err := p.git.Commit(ctx, msg)
		out.CommitID = id
		return err
	}); err != nil {
		return err
	}
	q.push(RecoverTask{
		Kind: KindResetToAnchor,
		Name: "reset_to_anchor",
		Hint: "Reverting to the commit before publish",
		Ref:  out.Anchor,
	})
	out.State = StateCommitted
	out.Pushed = eligible
	if err := p.hooks.AfterCommit(ctx); err != nil {
		return &stepError{step: "after_commit", err: err}
	}

	branch := p.cfg.Branch
	if branch == "" {
		if branch, err = p.git.CurrentBranch(ctx); err != nil {
			return &stepError{step: "branch", err: err}
		}
	}
	if err := p.hooks.BeforePushRemote(ctx); err != nil {
		return &stepError{step: "before_push_remote", err: err}
	}
	if err := p.step("push", fmt.Sprintf("Pushing %s to %s", branch, p.cfg.Remote), func() error {
		return p.git.Push(ctx, p.cfg.Remote, branch)
	}); err != nil {
		return err
	}

	// Remote state is final from here on.
	q.clear()
	out.State = StatePushed
	out.Restaged = p.restage(ctx, subtract(prior, eligible), out)
	if len(out.RecoverErrs) == 0 {
		out.State = StateRestored
	}
	if err := p.hooks.AfterPush(ctx, out.CommitID); err != nil {
		return &stepError{step: "after_push", err: err}
	}
	return nil
}

// recoverContext detaches from ctx cancellation so an interrupted publish can
// still undo its local steps.
func (p *Publisher) recoverContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), p.cfg.RecoverTimeout)
}

// backup unstages everything when the index is not empty and returns the
// previously staged paths with a fresh status.
func (p *Publisher) backup(ctx context.Context, st *gitrepo.Status) ([]string, *gitrepo.Status, error) {
	if len(st.Staged) == 0 {
		return nil, st, nil
	}
	prior := append([]string(nil), st.Staged...)
	if err := p.step("backup", "Backing up staged changes", func() error {
		return p.git.ResetMixed(ctx, "")
	}); err != nil {
		return nil, nil, err
	}
	fresh, err := p.git.Status(ctx)
	if err != nil {
		return prior, nil, &stepError{step: "status", err: err}
	}
	return prior, fresh, nil
}

// restage re-adds paths on the happy path. A failure is reported, never
// returned.
func (p *Publisher) restage(ctx context.Context, paths []string, out *Outcome) []string {
	if len(paths) == 0 {
		return nil
	}
	rctx, cancel := p.recoverContext(ctx)
	defer cancel()
	if err := p.step("restage", "Restoring previously staged files", func() error {
		return p.git.Add(rctx, paths)
	}); err != nil {
		p.logger.Warn("Restage failed", "paths", len(paths), "error", err)
		out.RecoverErrs = append(out.RecoverErrs, err)
		return nil
	}
	return paths
}

// CheckUnpushed reports whether any recorded file is currently changed. The
// index is unstaged for the check and restored afterwards.
func (p *Publisher) CheckUnpushed(ctx context.Context, batch Batch) (bool, error) {
	st, err := p.git.Status(ctx)
	if err != nil {
		return false, fmt.Errorf("checking unpushed files: %w", err)
	}
	prior := append([]string(nil), st.Staged...)
	if len(prior) > 0 {
		if err := p.git.ResetMixed(ctx, ""); err != nil {
			return false, fmt.Errorf("checking unpushed files: %w", err)
		}
		st, err = p.git.Status(ctx)
		if err != nil {
			if addErr := p.git.Add(ctx, prior); addErr != nil {
				p.logger.Warn("Restage failed", "error", addErr)
			}
			return false, fmt.Errorf("checking unpushed files: %w", err)
		}
	}
	eligible := batch.eligible(st)
	if err := p.git.Add(ctx, prior); err != nil {
		return len(eligible) > 0, fmt.Errorf("restoring staged files: %w", err)
	}
	return len(eligible) > 0, nil
}
