package gitrepo

import (
	"context"
	"errors"
	"isubo/internal/apperrors"
	"isubo/internal/testutil"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func openRepo(t *testing.T) (*Client, *testutil.Repo) {
	t.Helper()
	requireGit(t)
	repo := testutil.InitRepo(t)
	c, err := Open(context.Background(), repo.Dir, 10*time.Second)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return c, repo
}

func TestOpen_Subdirectory(t *testing.T) {
	t.Parallel()
	requireGit(t)
	repo := testutil.InitRepo(t)
	repo.Write("source/a.md", "a")

	c, err := Open(context.Background(), repo.Path("source"), 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if c.Root() != repo.Dir {
		t.Errorf("Root() = %q, want %q", c.Root(), repo.Dir)
	}
	if c.timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want default", c.timeout)
	}
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()
	requireGit(t)

	if _, err := Open(context.Background(), "relative/dir", 0); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("relative dir: expected ErrValidation, got %v", err)
	}
	if _, err := Open(context.Background(), testutil.TempDir(t), 0); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("non-repo dir: expected ErrNotFound, got %v", err)
	}
}

func TestClient_StatusAddCommit(t *testing.T) {
	t.Parallel()
	c, repo := openRepo(t)
	ctx := context.Background()

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !st.IsClean() {
		t.Fatalf("expected clean repo, got %+v", st.Files)
	}

	post := repo.Write("source/post.md", "# post")
	img := repo.Write("source/img/a.png", "png")
	repo.Write("README.md", "changed")

	if err := c.Add(ctx, []string{post, img}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	st, err = c.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(st.Files) != 3 {
		t.Errorf("expected 3 changed files, got %+v", st.Files)
	}
	if len(st.Staged) != 2 {
		t.Errorf("expected 2 staged files, got %v", st.Staged)
	}
	if _, ok := st.Changed()[repo.Path("README.md")]; !ok {
		t.Error("expected README.md in changed set")
	}

	id, err := c.Commit(ctx, "add post")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if id != repo.Head() {
		t.Errorf("Commit() = %q, want HEAD %q", id, repo.Head())
	}
	if files := repo.CommitFiles(id); len(files) != 2 {
		t.Errorf("commit files = %v", files)
	}
}

func TestClient_AddEmptyIsNoop(t *testing.T) {
	t.Parallel()
	c, _ := openRepo(t)
	if err := c.Add(context.Background(), nil); err != nil {
		t.Errorf("Add(nil) error = %v", err)
	}
}

func TestClient_AddOutsideRoot(t *testing.T) {
	t.Parallel()
	c, _ := openRepo(t)
	err := c.Add(context.Background(), []string{filepath.Join(testutil.TempDir(t), "x.md")})
	if !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestClient_ResetMixedAndHard(t *testing.T) {
	t.Parallel()
	c, repo := openRepo(t)
	ctx := context.Background()
	anchor := repo.Head()

	p := repo.Write("a.md", "a")
	repo.Git("add", "a.md")
	repo.Git("commit", "-m", "a")

	if err := c.ResetMixed(ctx, anchor); err != nil {
		t.Fatalf("ResetMixed() error = %v", err)
	}
	if repo.Head() != anchor {
		t.Error("expected HEAD back at anchor")
	}
	st, _ := c.Status(ctx)
	if len(st.Files) != 1 || st.Files[0].Path != p || !st.Files[0].Untracked() {
		t.Errorf("mixed reset should keep a.md untracked on disk, got %+v", st.Files)
	}

	repo.Write("README.md", "dirty")
	repo.Git("add", "README.md")
	if err := c.ResetHard(ctx, ""); err != nil {
		t.Fatalf("ResetHard() error = %v", err)
	}
	st, _ = c.Status(ctx)
	for _, f := range st.Files {
		if f.Path == repo.Path("README.md") {
			t.Error("hard reset should discard README.md changes")
		}
	}
}

func TestClient_BranchCommitAndPush(t *testing.T) {
	t.Parallel()
	c, repo := openRepo(t)
	ctx := context.Background()

	branch, err := c.CurrentBranch(ctx)
	if err != nil || branch != "main" {
		t.Fatalf("CurrentBranch() = %q, %v", branch, err)
	}

	repo.Write("a.md", "a")
	repo.Git("add", "a.md")
	repo.Git("commit", "-m", "a")

	if err := c.Push(ctx, "origin", branch); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if repo.RemoteHead("main") != repo.Head() {
		t.Error("expected remote main to match local HEAD")
	}

	url, err := c.RemoteURL(ctx, "origin")
	if err != nil || url != repo.Remote {
		t.Errorf("RemoteURL() = %q, %v", url, err)
	}
	if _, err := c.RemoteURL(ctx, "missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing remote, got %v", err)
	}
}

func TestClient_PushFailure(t *testing.T) {
	t.Parallel()
	c, _ := openRepo(t)
	ctx := context.Background()

	err := c.Push(ctx, "nowhere", "main")
	if !errors.Is(err, apperrors.ErrRemote) {
		t.Errorf("expected ErrRemote, got %v", err)
	}
	if err := c.Push(ctx, "", "main"); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestClient_LatestCommitUnborn(t *testing.T) {
	t.Parallel()
	requireGit(t)
	dir := testutil.TempDir(t)
	testutil.InitEmptyRepo(t, dir)

	c, err := Open(context.Background(), dir, 0)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	id, err := c.LatestCommit(context.Background())
	if err != nil {
		t.Fatalf("LatestCommit() error = %v", err)
	}
	if id != "" {
		t.Errorf("LatestCommit() = %q, want empty", id)
	}
	if branch, err := c.CurrentBranch(context.Background()); err != nil || branch != "main" {
		t.Errorf("CurrentBranch() on unborn = %q, %v", branch, err)
	}
	if !c.IsRepository(context.Background()) {
		t.Error("IsRepository() = false")
	}
}
