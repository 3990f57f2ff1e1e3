// Package deploy drives per-post create, update and publish operations under
// bounded concurrency, then runs a single asset publish for the whole call.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"isubo/internal/apperrors"
	"isubo/internal/hint"
	"isubo/internal/issue"
	"isubo/internal/post"
	"isubo/internal/publisher"
	"isubo/internal/runner"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Option configures a Deployer.
type Option func(*Deployer)

// WithRunner replaces the default runner.
func WithRunner(r Runner) Option {
	return func(d *Deployer) {
		d.runner = r
	}
}

// WithHinter sets the progress hinter (default: hint.Nop).
func WithHinter(h hint.Hinter) Option {
	return func(d *Deployer) {
		d.hint = hint.OrNop(h)
	}
}

// WithPreDeploy installs a hook run once per job before any remote call.
// An error fails that job only.
func WithPreDeploy(fn func(ctx context.Context) error) Option {
	return func(d *Deployer) {
		if fn != nil {
			d.preDeploy = fn
		}
	}
}

// WithClipboard replaces the system clipboard.
func WithClipboard(c Clipboard) Option {
	return func(d *Deployer) {
		d.clipboard = c
	}
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(d *Deployer) {
		d.metrics = m
	}
}

// WithPushAssets toggles the asset phase. Enabled by default.
func WithPushAssets(enabled bool) Option {
	return func(d *Deployer) {
		d.pushAssets = enabled
	}
}

// Deployer is built once with its collaborators and may serve several
// sequential calls. Each call owns its own asset records.
type Deployer struct {
	formatter  Formatter
	entries    EntryClient
	assets     AssetPublisher
	runner     Runner
	clipboard  Clipboard
	hint       hint.Hinter
	metrics    MetricsRecorder
	preDeploy  func(ctx context.Context) error
	pushAssets bool
	logger     *slog.Logger
}

// New creates a Deployer.
func New(formatter Formatter, entries EntryClient, assets AssetPublisher, opts ...Option) *Deployer {
	d := &Deployer{
		formatter:  formatter,
		entries:    entries,
		assets:     assets,
		clipboard:  SystemClipboard{},
		hint:       hint.Nop{},
		preDeploy:  func(context.Context) error { return nil },
		pushAssets: true,
		logger:     slog.With("component", "deploy"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.runner == nil {
		d.runner = runner.New(runner.Config{})
	}
	return d
}

// session accumulates what one call touched on disk. Jobs append
// concurrently; once closed, units abandoned by a timeout can no longer
// change it.
type session struct {
	mu       sync.Mutex
	closed   bool
	records  []publisher.AssetRecord
	posts    []string
	done     []*issue.Result
	reported map[int]bool
}

// close freezes the session and returns the jobs that reported themselves.
func (s *session) close() map[int]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.reported
}

// settle claims the progress report for a job. It fails once the session is
// closed or the job already reported.
func (s *session) settle(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.reported[index] {
		return false
	}
	if s.reported == nil {
		s.reported = make(map[int]bool)
	}
	s.reported[index] = true
	return true
}

func (s *session) recordAssets(d *post.Detail) {
	if len(d.AssetPaths) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.records = append(s.records, publisher.AssetRecord{
		PostPath:   d.Path,
		AssetPaths: append([]string(nil), d.AssetPaths...),
	})
}

func (s *session) recordInjected(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.posts = append(s.posts, path)
}

func (s *session) complete(res *issue.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = append(s.done, res)
}

func (s *session) results() []*issue.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*issue.Result(nil), s.done...)
}

func (s *session) batch() publisher.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return publisher.Batch{
		Records: append([]publisher.AssetRecord(nil), s.records...),
		Posts:   append([]string(nil), s.posts...),
	}
}

type jobFunc func(ctx context.Context, s *session, job Job, progress Progress) (*issue.Result, Verb, error)

type jobValue struct {
	verb   Verb
	result *issue.Result
}

// Create force-creates a remote entry for every path, injects the assigned
// number into each post, then publishes assets once. Successful results are
// returned in completion order; failed jobs are omitted.
func (d *Deployer) Create(ctx context.Context, paths []string, progress Progress) ([]*issue.Result, *Report, error) {
	if len(paths) == 0 {
		return nil, nil, nil
	}
	s := &session{}
	_, report, err := d.deploy(ctx, s, VerbCreate, paths, progress, d.createJob)
	return s.results(), report, err
}

// Update pushes every path to its linked entry. A post without an issue
// number fails its own job.
func (d *Deployer) Update(ctx context.Context, paths []string, progress Progress) ([]*issue.Result, *Report, error) {
	if len(paths) == 0 {
		return nil, nil, nil
	}
	s := &session{}
	_, report, err := d.deploy(ctx, s, VerbUpdate, paths, progress, d.updateJob)
	return s.results(), report, err
}

// Publish updates posts that carry an issue number and creates the rest.
// One PublishResult per path is returned in input order.
func (d *Deployer) Publish(ctx context.Context, paths []string, progress Progress) ([]PublishResult, *Report, error) {
	if len(paths) == 0 {
		return nil, nil, nil
	}
	s := &session{}
	results, report, err := d.deploy(ctx, s, VerbPublish, paths, progress, d.publishJob)

	out := make([]PublishResult, len(paths))
	for i, path := range paths {
		out[i] = PublishResult{Filepath: path, Verb: VerbPublish}
		if i >= len(results) {
			continue
		}
		r := results[i]
		if v, ok := r.Value.(jobValue); ok {
			out[i].Verb = v.verb
			out[i].Result = v.result
		}
		if r.Err != nil {
			out[i].Err = r.Err
			out[i].Result = nil
		}
	}
	return out, report, err
}

// WriteToClipboard renders the first path and copies its body.
func (d *Deployer) WriteToClipboard(ctx context.Context, paths []string) (*post.Detail, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	detail, err := d.formatter.Render(paths[0])
	if err != nil {
		return nil, err
	}
	if err := d.clipboard.WriteAll(detail.Body); err != nil {
		return nil, fmt.Errorf("writing clipboard: %w", err)
	}
	d.hint.Info(fmt.Sprintf("Copied %q to the clipboard", detail.Frontmatter.Title))
	return detail, nil
}

// deploy schedules one unit per path, waits for all of them, then runs the
// asset phase exactly once.
func (d *Deployer) deploy(ctx context.Context, s *session, verb Verb, paths []string, progress Progress, fn jobFunc) ([]runner.Result, *Report, error) {
	progress = progress.resolve()
	logger := d.logger.With("verb", verb, "posts", len(paths))
	logger.Info("Deploy started")

	units := make([]runner.Unit, len(paths))
	for i, path := range paths {
		job := Job{Filepath: path, Verb: verb, index: i}
		units[i] = func(ctx context.Context) (any, error) {
			return d.runJob(ctx, s, job, progress, fn)
		}
	}

	results, err := d.runner.Run(ctx, units)
	reported := s.close()
	if err != nil {
		logger.Error("Deploy interrupted", "error", err)
		return results, nil, err
	}

	report := &Report{Attempted: len(paths)}
	for i, r := range results {
		if r.Err == nil {
			report.Succeeded++
		}
		if reported[i] {
			continue
		}
		// Late units, timed out ones included, are reported here exactly once.
		v, _ := r.Value.(jobValue)
		if v.verb == "" {
			v.verb = verb
		}
		if r.Err != nil {
			progress.Fail(v.verb, paths[i], FailInfo{ErrMsg: r.Err.Error(), PostTitle: postTitle(paths[i])})
			continue
		}
		s.complete(v.result)
		progress.Succ(v.verb, paths[i])
	}
	d.publishAssets(ctx, s, report)
	logger.Info("Deploy finished", "succeeded", report.Succeeded, "asset_error", report.AssetErr)
	return results, report, nil
}

// runJob reports its own outcome unless the unit outlived its timeout; the
// deployer then reports the timeout once on its behalf.
func (d *Deployer) runJob(ctx context.Context, s *session, job Job, progress Progress, fn jobFunc) (any, error) {
	start := time.Now()
	progress.Start(job.Verb, job.Filepath)

	res, used, err := func() (*issue.Result, Verb, error) {
		if err := d.preDeploy(ctx); err != nil {
			return nil, job.Verb, fmt.Errorf("pre-deploy hook: %w", err)
		}
		return fn(ctx, s, job, progress)
	}()

	if d.metrics != nil {
		d.metrics.RecordDeploy(ctx, string(used), err == nil, time.Since(start))
	}
	if err != nil {
		d.logger.Warn("Post deploy failed", "path", job.Filepath, "verb", used, "error", err)
	}
	abandoned := errors.Is(ctx.Err(), context.DeadlineExceeded)
	if abandoned || !s.settle(job.index) {
		d.logger.Debug("Dropping late job report", "path", job.Filepath, "verb", used)
		return jobValue{verb: used, result: res}, err
	}
	if err != nil {
		progress.Fail(used, job.Filepath, FailInfo{ErrMsg: err.Error(), PostTitle: postTitle(job.Filepath)})
		return jobValue{verb: used}, err
	}
	s.complete(res)
	progress.Succ(used, job.Filepath)
	return jobValue{verb: used, result: res}, nil
}

func (d *Deployer) createJob(ctx context.Context, s *session, job Job, _ Progress) (*issue.Result, Verb, error) {
	detail, err := d.formatter.Render(job.Filepath)
	if err != nil {
		return nil, VerbCreate, err
	}
	res, err := d.create(ctx, s, detail)
	return res, VerbCreate, err
}

func (d *Deployer) updateJob(ctx context.Context, s *session, job Job, _ Progress) (*issue.Result, Verb, error) {
	detail, err := d.formatter.Render(job.Filepath)
	if err != nil {
		return nil, VerbUpdate, err
	}
	res, err := d.update(ctx, s, detail)
	return res, VerbUpdate, err
}

func (d *Deployer) publishJob(ctx context.Context, s *session, job Job, progress Progress) (*issue.Result, Verb, error) {
	detail, err := d.formatter.Render(job.Filepath)
	if err != nil {
		return nil, VerbPublish, err
	}
	if detail.Frontmatter.HasIssue() {
		progress.StartVerb(VerbUpdate, job.Filepath)
		res, err := d.update(ctx, s, detail)
		return res, VerbUpdate, err
	}
	progress.StartVerb(VerbCreate, job.Filepath)
	res, err := d.create(ctx, s, detail)
	return res, VerbCreate, err
}

// create ignores any existing issue number.
func (d *Deployer) create(ctx context.Context, s *session, detail *post.Detail) (*issue.Result, error) {
	res, err := d.entries.Create(ctx, issue.Entry{
		Title:  detail.Frontmatter.Title,
		Body:   detail.Body,
		Labels: detail.Frontmatter.Tags,
	})
	if err != nil {
		return nil, err
	}
	if res == nil || res.Number <= 0 {
		return nil, apperrors.Internal("issue create", errors.New("response carries no issue number"))
	}
	s.recordAssets(detail)

	// The remote entry stays even if the post cannot be rewritten.
	patch := post.Patch{IssueNumber: res.Number, Title: detail.Frontmatter.Title}
	if err := d.formatter.InjectFrontmatter(detail.Path, patch); err != nil {
		return nil, fmt.Errorf("issue #%d created but frontmatter not updated: %w", res.Number, err)
	}
	s.recordInjected(detail.Path)
	return res, nil
}

func (d *Deployer) update(ctx context.Context, s *session, detail *post.Detail) (*issue.Result, error) {
	if !detail.Frontmatter.HasIssue() {
		return nil, apperrors.Validation("issue_number", fmt.Sprintf("%s has no issue_number; create it first", filepath.Base(detail.Path)))
	}
	res, err := d.entries.Update(ctx, issue.Entry{
		Number: detail.Frontmatter.IssueNumber,
		Title:  detail.Frontmatter.Title,
		Body:   detail.Body,
		Labels: detail.Frontmatter.Tags,
	})
	if err != nil {
		return nil, err
	}
	s.recordAssets(detail)
	return res, nil
}

// publishAssets runs the publisher once. Its failure is reported, never
// propagated to per-post results.
func (d *Deployer) publishAssets(ctx context.Context, s *session, report *Report) {
	report.Batch = s.batch()
	if !d.pushAssets {
		report.Skipped = true
		d.hint.Info("asset publishing disabled")
		return
	}
	outcome, err := d.assets.Publish(ctx, report.Batch)
	report.Outcome = outcome
	if err != nil {
		report.AssetErr = err
		d.hint.Fail("deploy.assets", err)
		d.logger.Error("Asset publish failed", "error", err)
	}
}

func postTitle(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
