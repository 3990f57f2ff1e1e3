package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"isubo/internal/apperrors"
	"isubo/internal/config"
	"isubo/internal/deploy"
	"isubo/internal/gitrepo"
	"isubo/internal/health"
	"isubo/internal/hint"
	"isubo/internal/issue"
	"isubo/internal/observability"
	"isubo/internal/post"
	"isubo/internal/publisher"
	"isubo/internal/runner"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// app holds the collaborators shared by every subcommand.
type app struct {
	cfg         *config.Config
	hint        hint.Hinter
	metrics     *observability.Metrics
	metricsFile string
	formatter   *post.Formatter
	tracker     *issue.Client
	logger      *slog.Logger
}

func newApp(ctx context.Context, opts *options, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(opts.confPath)
	if err != nil {
		return nil, err
	}
	if opts.disableTOC {
		cfg.TOC = false
	}
	if opts.disableBack2Top {
		cfg.Back2Top = false
	}

	metrics, err := observability.NewMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating metrics: %w", err)
	}

	var statement []string
	if cfg.SourceStatement.Enable {
		statement = cfg.SourceStatement.Content
	}

	a := &app{
		cfg:         cfg,
		hint:        newHinter(stderr),
		metrics:     metrics,
		metricsFile: opts.metricsFile,
		formatter: post.NewFormatter(post.Options{
			SourceDir:       cfg.AbsoluteSourceDir,
			LinkPrefix:      cfg.RawLinkPrefix(),
			TOC:             cfg.TOC,
			Back2Top:        cfg.Back2Top,
			SourceStatement: statement,
		}),
		tracker: issue.New(issue.Config{
			APIURL:  cfg.APIURL,
			Owner:   cfg.Owner,
			Repo:    cfg.Repo,
			Token:   cfg.Token,
			Timeout: cfg.HTTPTimeout,
		}),
		logger: slog.With("component", "cli"),
	}
	a.logger.Debug("Config loaded", "source_dir", cfg.AbsoluteSourceDir, "repo", cfg.Owner+"/"+cfg.Repo, "push_asset", cfg.PushAsset)
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.metricsFile != "" {
		if err := a.metrics.WriteFile(a.metricsFile); err != nil {
			a.logger.Warn("Metrics not written", "path", a.metricsFile, "error", err)
		}
	}
	if err := a.metrics.Shutdown(ctx); err != nil {
		a.logger.Debug("Metrics shutdown failed", "error", err)
	}
}

func (a *app) runner() *runner.Runner {
	return runner.New(runner.Config{
		MaxConcurrency: a.cfg.Concurrency,
		UnitTimeout:    a.cfg.JobTimeout,
	}, runner.WithMetrics(a.metrics))
}

// baseDeployer never touches git; used when assets are not pushed.
func (a *app) baseDeployer(opts ...deploy.Option) *deploy.Deployer {
	base := []deploy.Option{
		deploy.WithRunner(a.runner()),
		deploy.WithHinter(a.hint),
		deploy.WithMetrics(a.metrics),
		deploy.WithPushAssets(false),
	}
	return deploy.New(a.formatter, a.tracker, nil, append(base, opts...)...)
}

// deployer opens the repository holding source_dir when assets are pushed.
func (a *app) deployer(ctx context.Context) (*deploy.Deployer, error) {
	if !a.cfg.PushAssetsEnabled() {
		return a.baseDeployer(), nil
	}

	git, err := gitrepo.Open(ctx, a.cfg.AbsoluteSourceDir, a.cfg.GitTimeout)
	if err != nil {
		return nil, fmt.Errorf("source_dir must be inside a git repository (or set push_asset: disable): %w", err)
	}
	pub := publisher.New(git, publisher.Config{
		Remote:    a.cfg.Remote,
		Branch:    a.cfg.Branch,
		ResetMode: a.cfg.ResetMode,
	},
		publisher.WithHinter(a.hint),
		publisher.WithMetrics(a.metrics),
		publisher.WithHooks(publisher.Hooks{
			AfterPush: func(_ context.Context, commitID string) error {
				a.hint.Info("pushed " + shortID(commitID) + " to " + a.cfg.Remote)
				return nil
			},
		}),
	)

	return deploy.New(a.formatter, a.tracker, pub,
		deploy.WithRunner(a.runner()),
		deploy.WithHinter(a.hint),
		deploy.WithMetrics(a.metrics),
	), nil
}

// checker builds the preflight used by doctor.
func (a *app) checker() *health.Checker {
	c := health.NewChecker(a.cfg.HTTPTimeout)
	c.Require("source_dir", health.ReadinessFunc(func(context.Context) error {
		info, err := os.Stat(a.cfg.AbsoluteSourceDir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", a.cfg.AbsoluteSourceDir)
		}
		return nil
	}))

	if a.cfg.PushAssetsEnabled() {
		var git *gitrepo.Client
		c.Require("git", health.ReadinessFunc(func(ctx context.Context) error {
			var err error
			git, err = gitrepo.Open(ctx, a.cfg.AbsoluteSourceDir, a.cfg.GitTimeout)
			if err != nil {
				return err
			}
			if !git.IsRepository(ctx) {
				return fmt.Errorf("%s is not a git work tree", git.Root())
			}
			return nil
		}))
		c.Require("remote", health.ReadinessFunc(func(ctx context.Context) error {
			_, err := git.RemoteURL(ctx, a.cfg.Remote)
			return err
		}))
		c.Optional("branch", health.ReadinessFunc(func(ctx context.Context) error {
			if a.cfg.Branch != "" {
				return nil
			}
			branch, err := git.CurrentBranch(ctx)
			if err == nil && branch == "" {
				return errors.New("detached HEAD and no branch configured")
			}
			return err
		}))
	}

	c.Require("tracker", health.ReadinessFunc(func(ctx context.Context) error {
		err := a.tracker.Ready(ctx)
		if apperrors.IsClientError(err) {
			return fmt.Errorf("%w (check token, owner and repo in the config)", err)
		}
		return err
	}))
	return c
}

func setupLogging(w io.Writer, level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return apperrors.Validation("log-level", fmt.Sprintf("unknown log level %q", level))
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	case "text", "":
		handler = slog.NewTextHandler(w, handlerOpts)
	default:
		return apperrors.Validation("log-format", fmt.Sprintf("unknown log format %q", format))
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// newHinter draws progress on a terminal and falls back to log lines
// when stderr is redirected.
func newHinter(w io.Writer) hint.Hinter {
	f, ok := w.(*os.File)
	tty := ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
	return hinterFor(w, tty, slog.Default().Enabled(context.Background(), slog.LevelDebug))
}

// hinterFor keeps step logs next to the terminal output at debug level.
func hinterFor(w io.Writer, tty, debug bool) hint.Hinter {
	logged := hint.NewLog(slog.With("component", "progress"))
	switch {
	case !tty:
		return logged
	case debug:
		return hint.Multi{hint.NewTerminal(w), logged}
	default:
		return hint.NewTerminal(w)
	}
}

func progressFor(h hint.Hinter) deploy.Progress {
	key := func(path string) string { return "post:" + path }
	return deploy.Progress{
		Start: func(verb deploy.Verb, path string) {
			h.Start(key(path), fmt.Sprintf("%s %s", verb, filepath.Base(path)))
		},
		StartVerb: func(verb deploy.Verb, path string) {
			h.Info(fmt.Sprintf("%s: %s issue", filepath.Base(path), verb))
		},
		Succ: func(_ deploy.Verb, path string) {
			h.Succeed(key(path))
		},
		Fail: func(_ deploy.Verb, path string, info deploy.FailInfo) {
			h.Fail(key(path), errors.New(info.ErrMsg))
		},
	}
}

// findPosts maps arguments to post files. An argument naming an existing
// file is used as is; otherwise it is a post name matching any <name>.md
// below sourceDir.
func findPosts(sourceDir string, args []string, all bool) ([]string, error) {
	if all && len(args) > 0 {
		return nil, apperrors.Validation("posts", "--all cannot be combined with post names")
	}
	if !all && len(args) == 0 {
		return nil, apperrors.Validation("posts", "no posts given; pass post names or --all")
	}

	index, err := indexPosts(sourceDir)
	if err != nil {
		return nil, err
	}

	var paths []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, dup := seen[p]; !dup {
			seen[p] = struct{}{}
			paths = append(paths, p)
		}
	}

	if all {
		var names []string
		for name := range index {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			for _, p := range index[name] {
				add(p)
			}
		}
		return paths, nil
	}

	for _, arg := range args {
		if info, err := os.Stat(arg); err == nil && !info.IsDir() && strings.EqualFold(filepath.Ext(arg), ".md") {
			abs, err := filepath.Abs(arg)
			if err != nil {
				return nil, err
			}
			add(abs)
			continue
		}
		name := strings.TrimSuffix(filepath.Base(arg), ".md")
		matches, ok := index[name]
		if !ok {
			return nil, apperrors.NotFound("post", arg)
		}
		for _, p := range matches {
			add(p)
		}
	}
	return paths, nil
}

// indexPosts groups every .md file below dir by name, skipping dot
// directories.
func indexPosts(dir string) (map[string][]string, error) {
	index := make(map[string][]string)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(p) != ".md" {
			return nil
		}
		name := strings.TrimSuffix(d.Name(), ".md")
		index[name] = append(index[name], p)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NotFound("source_dir", dir)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	return index, nil
}

func printIssues(w io.Writer, results []*issue.Result) {
	for _, r := range results {
		fmt.Fprintf(w, "#%d\t%s\t%s\n", r.Number, r.Title, r.URL)
	}
}

func printPublished(w io.Writer, results []deploy.PublishResult) {
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "%s\tfailed\t%s\t%v\n", r.Verb, filepath.Base(r.Filepath), r.Err)
			continue
		}
		fmt.Fprintf(w, "%s\t#%d\t%s\t%s\n", r.Verb, r.Result.Number, r.Result.Title, r.Result.URL)
	}
}

func printChecks(w io.Writer, resp *health.Response) {
	for _, c := range resp.Checks {
		switch c.Status {
		case health.StatusHealthy:
			fmt.Fprintf(w, "ok\t%s\t%s\n", c.Name, c.Duration.Round(time.Millisecond))
		default:
			fmt.Fprintf(w, "%s\t%s\t%s\n", c.Status, c.Name, c.Message)
		}
	}
	fmt.Fprintf(w, "status: %s\n", resp.Status)
}

func shortID(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}
