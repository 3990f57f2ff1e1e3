// Package gitrepo is a thin client over the git command line, scoped to one
// working tree. It implements the version-control transport used by the
// asset publisher.
package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"isubo/internal/apperrors"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTimeout bounds each git invocation when none is configured.
const DefaultTimeout = 30 * time.Second

// Client runs git commands against a single working tree. All paths it
// accepts and returns are absolute. Safe for concurrent use, though callers
// writing the index concurrently will race in git itself.
type Client struct {
	root    string
	timeout time.Duration
	logger  *slog.Logger
}

// Open resolves the top-level directory of the working tree containing dir
// and returns a client rooted there.
func Open(ctx context.Context, dir string, timeout time.Duration) (*Client, error) {
	if !filepath.IsAbs(dir) {
		return nil, apperrors.Validation("dir", fmt.Sprintf("must be absolute: %s", dir))
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		root:    dir,
		timeout: timeout,
		logger:  slog.With("component", "gitrepo"),
	}
	top, err := c.run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, apperrors.NotFound("git repository", dir)
	}
	top = strings.TrimSpace(top)
	if resolved, err := filepath.EvalSymlinks(top); err == nil {
		top = resolved
	}
	c.root = filepath.Clean(top)
	return c, nil
}

// Root returns the absolute top-level directory of the working tree.
func (c *Client) Root() string {
	return c.root
}

// run executes git in the root directory and returns raw stdout.
func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "git", args...)
	cmd.Dir = c.root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	c.logger.Debug("git", "args", args, "duration", time.Since(start), "error", err)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("git %s: %w", args[0], ctx.Err())
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", apperrors.Timeout("git "+args[0], c.timeout)
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// rel converts an absolute path into one relative to the root. Relative
// paths pass through unchanged.
func (c *Client) rel(p string) (string, error) {
	if !filepath.IsAbs(p) {
		return p, nil
	}
	r, err := filepath.Rel(c.root, p)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", apperrors.Validation("path", fmt.Sprintf("%s is outside %s", p, c.root))
	}
	return r, nil
}

func (c *Client) relAll(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		r, err := c.rel(p)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// IsRepository reports whether the root is still inside a git working tree.
func (c *Client) IsRepository(ctx context.Context) bool {
	out, err := c.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(out) == "true"
}

// Add stages paths. An empty list is a no-op.
func (c *Client) Add(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	rels, err := c.relAll(paths)
	if err != nil {
		return err
	}
	_, err = c.run(ctx, append([]string{"add", "--"}, rels...)...)
	return err
}

// Commit records the index with message and returns the new commit id.
func (c *Client) Commit(ctx context.Context, message string) (string, error) {
	if _, err := c.run(ctx, "commit", "--no-verify", "-m", message); err != nil {
		return "", err
	}
	id, err := c.LatestCommit(ctx)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ResetMixed resets the index to ref, keeping the working tree. An empty
// ref means HEAD.
func (c *Client) ResetMixed(ctx context.Context, ref string) error {
	return c.reset(ctx, "--mixed", ref)
}

// ResetHard resets both index and working tree to ref.
func (c *Client) ResetHard(ctx context.Context, ref string) error {
	return c.reset(ctx, "--hard", ref)
}

func (c *Client) reset(ctx context.Context, mode, ref string) error {
	args := []string{"reset", "-q", mode}
	if ref != "" {
		args = append(args, ref)
	}
	_, err := c.run(ctx, args...)
	return err
}

// Push pushes branch to remote.
func (c *Client) Push(ctx context.Context, remote, branch string) error {
	if remote == "" || branch == "" {
		return apperrors.Validation("push", "remote and branch are required")
	}
	_, err := c.run(ctx, "push", remote, branch)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrRemote, err)
	}
	return nil
}

// CurrentBranch returns the checked-out branch name. It works on an unborn
// branch and fails on a detached HEAD.
func (c *Client) CurrentBranch(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "symbolic-ref", "--short", "-q", "HEAD")
	if err != nil {
		return "", fmt.Errorf("getting current branch: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// LatestCommit returns the HEAD commit id, or "" when the branch has no
// commits yet.
func (c *Client) LatestCommit(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "rev-parse", "--verify", "-q", "HEAD^{commit}")
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return "", nil
		}
		return "", fmt.Errorf("reading latest commit: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// RemoteURL returns the fetch URL configured for remote.
func (c *Client) RemoteURL(ctx context.Context, remote string) (string, error) {
	out, err := c.run(ctx, "remote", "get-url", remote)
	if err != nil {
		return "", apperrors.NotFound("git remote", remote)
	}
	return strings.TrimSpace(out), nil
}
