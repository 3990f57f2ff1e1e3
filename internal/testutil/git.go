package testutil

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Repo is a scratch git working copy with a bare "origin" remote, both
// living under the test's temp directory.
type Repo struct {
	Dir    string
	Remote string
	tb     testing.TB
}

// InitRepo creates a bare remote and a clone-equivalent working copy on
// branch main with one initial commit already pushed.
func InitRepo(tb testing.TB) *Repo {
	tb.Helper()

	base := TempDir(tb)
	remote := filepath.Join(base, "remote.git")
	dir := filepath.Join(base, "work")
	for _, d := range []string{remote, dir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			tb.Fatalf("failed to create %s: %v", d, err)
		}
	}

	RunGit(tb, remote, "init", "--bare")
	r := InitEmptyRepo(tb, dir)
	r.Remote = remote

	r.Write("README.md", "# test repo\n")
	r.Git("add", "README.md")
	r.Git("commit", "-m", "Initial commit")
	r.Git("remote", "add", "origin", remote)
	r.Git("push", "-u", "origin", "main")
	return r
}

// InitEmptyRepo initializes dir as a repository on branch main with no
// commits and no remote.
func InitEmptyRepo(tb testing.TB, dir string) *Repo {
	tb.Helper()

	RunGit(tb, dir, "init")
	// Fresh CI containers have no global identity.
	RunGit(tb, dir, "config", "user.email", "isubo@example.com")
	RunGit(tb, dir, "config", "user.name", "isubo test")
	RunGit(tb, dir, "config", "commit.gpgsign", "false")
	RunGit(tb, dir, "checkout", "-b", "main")
	return &Repo{Dir: dir, tb: tb}
}

// RunGit runs git in dir and fails the test on a non-zero exit.
func RunGit(tb testing.TB, dir string, args ...string) string {
	tb.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		tb.Fatalf("git %v failed: %v\nOutput: %s", args, err, output)
	}
	return string(output)
}

// Git runs git in the working copy.
func (r *Repo) Git(args ...string) string {
	r.tb.Helper()
	return RunGit(r.tb, r.Dir, args...)
}

// Path returns the absolute path of rel inside the working copy.
func (r *Repo) Path(rel string) string {
	return filepath.Join(r.Dir, filepath.FromSlash(rel))
}

// Write creates or overwrites rel inside the working copy, creating parent
// directories, and returns its absolute path.
func (r *Repo) Write(rel, content string) string {
	r.tb.Helper()

	p := r.Path(rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		r.tb.Fatalf("failed to create dir for %s: %v", rel, err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		r.tb.Fatalf("failed to write %s: %v", rel, err)
	}
	return p
}

// Head returns the local HEAD commit id.
func (r *Repo) Head() string {
	r.tb.Helper()
	return strings.TrimSpace(r.Git("rev-parse", "HEAD"))
}

// RemoteHead returns the commit id of branch in the bare remote.
func (r *Repo) RemoteHead(branch string) string {
	r.tb.Helper()
	return strings.TrimSpace(RunGit(r.tb, r.Remote, "rev-parse", branch))
}

// Staged returns the slash-separated paths currently in the index that
// differ from HEAD.
func (r *Repo) Staged() []string {
	r.tb.Helper()
	return splitLines(r.Git("diff", "--cached", "--name-only"))
}

// CommitFiles returns the paths touched by the given commit.
func (r *Repo) CommitFiles(rev string) []string {
	r.tb.Helper()
	return splitLines(r.Git("show", "--name-only", "--format=", rev))
}

// CommitSubject returns the first line of the commit message of rev.
func (r *Repo) CommitSubject(rev string) string {
	r.tb.Helper()
	return strings.TrimSpace(r.Git("log", "-1", "--format=%s", rev))
}

// CommitCount returns the number of commits reachable from HEAD.
func (r *Repo) CommitCount() int {
	r.tb.Helper()
	return len(splitLines(r.Git("rev-list", "HEAD")))
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// TempDir returns tb.TempDir with symlinks resolved so paths compare equal to
// what git reports for the top-level directory.
func TempDir(tb testing.TB) string {
	tb.Helper()
	dir, err := filepath.EvalSymlinks(tb.TempDir())
	if err != nil {
		tb.Fatalf("failed to resolve temp dir: %v", err)
	}
	return dir
}
