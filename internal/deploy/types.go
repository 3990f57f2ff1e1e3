package deploy

import (
	"context"
	"isubo/internal/issue"
	"isubo/internal/post"
	"isubo/internal/publisher"
	"isubo/internal/runner"
	"time"
)

// Verb is the remote operation applied to a post.
type Verb string

const (
	VerbCreate  Verb = "create"
	VerbUpdate  Verb = "update"
	VerbPublish Verb = "publish"
)

// Job is one post scheduled for deployment. Verb is the operation requested
// by the call; publish jobs decide create or update once the post is read.
type Job struct {
	Filepath string
	Verb     Verb
	index    int
}

// Formatter renders posts and persists frontmatter patches.
// *post.Formatter satisfies it.
type Formatter interface {
	Render(path string) (*post.Detail, error)
	InjectFrontmatter(path string, patch post.Patch) error
}

// EntryClient creates and updates remote entries.
// *issue.Client satisfies it.
type EntryClient interface {
	Create(ctx context.Context, e issue.Entry) (*issue.Result, error)
	Update(ctx context.Context, e issue.Entry) (*issue.Result, error)
}

// AssetPublisher commits and pushes the files touched by a deploy call.
// *publisher.Publisher satisfies it.
type AssetPublisher interface {
	Publish(ctx context.Context, batch publisher.Batch) (*publisher.Outcome, error)
}

// Runner schedules per-post units. *runner.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, units []runner.Unit) ([]runner.Result, error)
}

// Clipboard receives the rendered body of a single post.
type Clipboard interface {
	WriteAll(text string) error
}

// MetricsRecorder is optional.
type MetricsRecorder interface {
	RecordDeploy(ctx context.Context, verb string, success bool, duration time.Duration)
}

// FailInfo accompanies a failed job in progress callbacks.
type FailInfo struct {
	ErrMsg    string
	PostTitle string
}

// Progress callbacks are observational. Nil fields are no-ops.
type Progress struct {
	Start     func(verb Verb, path string)
	StartVerb func(verb Verb, path string) // publish only: the verb decided for the post
	Succ      func(verb Verb, path string)
	Fail      func(verb Verb, path string, info FailInfo)
}

func (p Progress) resolve() Progress {
	if p.Start == nil {
		p.Start = func(Verb, string) {}
	}
	if p.StartVerb == nil {
		p.StartVerb = func(Verb, string) {}
	}
	if p.Succ == nil {
		p.Succ = func(Verb, string) {}
	}
	if p.Fail == nil {
		p.Fail = func(Verb, string, FailInfo) {}
	}
	return p
}

// PublishResult is the per-path outcome of Publish. Exactly one of Result
// and Err is set.
type PublishResult struct {
	Filepath string
	Verb     Verb
	Result   *issue.Result
	Err      error
}

// Report describes the trailing asset phase of a deploy call.
type Report struct {
	Attempted int
	Succeeded int
	Batch     publisher.Batch
	Outcome   *publisher.Outcome
	AssetErr  error
	Skipped   bool // asset publishing disabled by configuration
}
