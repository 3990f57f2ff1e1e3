package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"isubo/internal/apperrors"
	"isubo/internal/deploy"
	"isubo/internal/hint"
	"isubo/internal/testutil"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

type tracker struct {
	mu      sync.Mutex
	next    int
	ready   int // status for GET /repos/octo/blog
	created int
	updated int
}

func (f *tracker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/repos/octo/blog":
		status := f.ready
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		if status != http.StatusOK {
			fmt.Fprint(w, `{"message":"Bad credentials"}`)
			return
		}
		fmt.Fprint(w, `{"full_name":"octo/blog"}`)
	case r.Method == http.MethodPost && r.URL.Path == "/repos/octo/blog/issues":
		var body struct {
			Title string `json:"title"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.next++
		f.created++
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"number":%d,"title":%q,"html_url":"https://github.com/octo/blog/issues/%d"}`, f.next, body.Title, f.next)
	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/repos/octo/blog/issues/"):
		var body struct {
			Title string `json:"title"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.updated++
		n := strings.TrimPrefix(r.URL.Path, "/repos/octo/blog/issues/")
		fmt.Fprintf(w, `{"number":%s,"title":%q,"html_url":"https://github.com/octo/blog/issues/%s"}`, n, body.Title, n)
	default:
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	}
}

func writeConfig(t *testing.T, dir, apiURL, extra string) string {
	t.Helper()
	conf := fmt.Sprintf(`owner: octo
repo: blog
token: test-token
source_dir: source
link_prefix: https://cdn.example.com/blog
api_url: %s
%s`, apiURL, extra)
	path := filepath.Join(dir, "isubo.conf.yml")
	if err := os.WriteFile(path, []byte(conf), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFindPosts(t *testing.T) {
	t.Parallel()
	dir := testutil.TempDir(t)
	for _, rel := range []string{"a.md", "2024/b.md", "2025/b.md", "notes.txt", ".draft/c.md"} {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("# x\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name    string
		args    []string
		all     bool
		want    []string
		wantErr error
	}{
		{name: "by name", args: []string{"a"}, want: []string{"a.md"}},
		{name: "with extension", args: []string{"a.md"}, want: []string{"a.md"}},
		{name: "name in several dirs", args: []string{"b"}, want: []string{"2024/b.md", "2025/b.md"}},
		{name: "deduplicated", args: []string{"a", "a.md"}, want: []string{"a.md"}},
		{name: "existing path", args: []string{filepath.Join(dir, "2024", "b.md")}, want: []string{"2024/b.md"}},
		{name: "all skips dot dirs", all: true, want: []string{"a.md", "2024/b.md", "2025/b.md"}},
		{name: "hidden post not found", args: []string{"c"}, wantErr: apperrors.ErrNotFound},
		{name: "missing", args: []string{"nope"}, wantErr: apperrors.ErrNotFound},
		{name: "nothing given", wantErr: apperrors.ErrValidation},
		{name: "all with names", args: []string{"a"}, all: true, wantErr: apperrors.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := findPosts(dir, tt.args, tt.all)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("findPosts() error = %v", err)
			}
			var rel []string
			for _, p := range got {
				r, _ := filepath.Rel(dir, p)
				rel = append(rel, filepath.ToSlash(r))
			}
			if strings.Join(rel, ",") != strings.Join(tt.want, ",") {
				t.Errorf("findPosts() = %v, want %v", rel, tt.want)
			}
		})
	}
}

func TestFindPosts_MissingSourceDir(t *testing.T) {
	t.Parallel()
	_, err := findPosts(filepath.Join(t.TempDir(), "gone"), nil, true)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetupLogging(t *testing.T) {
	t.Parallel()
	tests := []struct {
		level, format string
		wantErr       bool
	}{
		{"info", "text", false},
		{"debug", "json", false},
		{"WARN", "", false},
		{"loud", "text", true},
		{"info", "xml", true},
	}
	for _, tt := range tests {
		err := setupLogging(&bytes.Buffer{}, tt.level, tt.format)
		if (err != nil) != tt.wantErr {
			t.Errorf("setupLogging(%q, %q) error = %v, wantErr %v", tt.level, tt.format, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("expected validation error, got %v", err)
		}
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	if err := summarize(nil); err != nil {
		t.Errorf("summarize(nil) = %v", err)
	}
	if err := summarize(&deploy.Report{Attempted: 2, Succeeded: 2}); err != nil {
		t.Errorf("all succeeded: %v", err)
	}

	err := summarize(&deploy.Report{Attempted: 3, Succeeded: 1, AssetErr: apperrors.Internal("publisher.push", errors.New("rejected"))})
	if err == nil || !strings.Contains(err.Error(), "2 of 3 posts failed") {
		t.Fatalf("unexpected error: %v", err)
	}
	if !errors.Is(err, apperrors.ErrInternal) || apperrors.ExitCode(err) != apperrors.ExitFailure {
		t.Errorf("asset error lost: %v", err)
	}
}

func TestRun_MissingConfig(t *testing.T) {
	t.Parallel()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"publish", "a", "--conf", filepath.Join(t.TempDir(), "none.yml")}, &stdout, &stderr)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if apperrors.ExitCode(err) != apperrors.ExitNotFound {
		t.Errorf("exit code = %d", apperrors.ExitCode(err))
	}
}

func TestRun_Publish(t *testing.T) {
	t.Parallel()
	requireGit(t)

	repo := testutil.InitRepo(t)
	a := repo.Write("source/a.md", "---\ntitle: Post A\n---\n\n![d](img/d.png)\n")
	repo.Write("source/img/d.png", "png")
	repo.Write("source/b.md", "---\ntitle: Post B\nissue_number: 41\n---\n\nBody.\n")
	repo.Git("add", "source/b.md")
	repo.Git("commit", "-q", "-m", "add b")
	repo.Git("push", "-q", "origin", "main")

	fake := &tracker{next: 100}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	conf := writeConfig(t, repo.Dir, srv.URL, "")
	metricsFile := filepath.Join(t.TempDir(), "isubo.prom")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"publish", "a", "b", "--conf", conf, "--metrics-file", metricsFile, "--disable-toc"}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("run() error = %v\nstderr:\n%s", err, stderr.String())
	}

	out := stdout.String()
	if !strings.Contains(out, "create\t#101\tPost A") || !strings.Contains(out, "update\t#41\tPost B") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if fake.created != 1 || fake.updated != 1 {
		t.Errorf("created=%d updated=%d", fake.created, fake.updated)
	}

	raw, err := os.ReadFile(a)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "issue_number: 101") {
		t.Errorf("issue number not injected:\n%s", raw)
	}

	// b.md is unchanged locally, so the commit holds a.md and its image.
	if repo.RemoteHead("main") != repo.Head() {
		t.Error("expected the asset commit to be pushed")
	}
	files := strings.Join(repo.CommitFiles("HEAD"), ",")
	if files != "source/a.md,source/img/d.png" {
		t.Errorf("commit files = %s", files)
	}

	prom, err := os.ReadFile(metricsFile)
	if err != nil {
		t.Fatalf("metrics file not written: %v", err)
	}
	if !strings.Contains(string(prom), "isubo_deploys_total") {
		t.Errorf("metrics file missing deploy counter")
	}
}

func TestRun_PartialFailureExitCode(t *testing.T) {
	t.Parallel()
	requireGit(t)

	repo := testutil.InitRepo(t)
	repo.Write("source/a.md", "---\ntitle: Post A\n---\n\nBody.\n")
	srv := httptest.NewServer(&tracker{})
	t.Cleanup(srv.Close)
	conf := writeConfig(t, repo.Dir, srv.URL, "push_asset: disable\n")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"update", "a", "--conf", conf}, &stdout, &stderr)
	if err == nil || !strings.Contains(err.Error(), "1 of 1 posts failed") {
		t.Fatalf("expected partial failure, got %v", err)
	}
	if apperrors.ExitCode(err) != apperrors.ExitFailure {
		t.Errorf("exit code = %d", apperrors.ExitCode(err))
	}
	if repo.CommitCount() != 1 {
		t.Error("disabled asset push must not commit")
	}
}

func TestRun_Doctor(t *testing.T) {
	t.Parallel()
	requireGit(t)

	tests := []struct {
		name    string
		ready   int
		wantErr bool
	}{
		{"healthy", http.StatusOK, false},
		{"bad token", http.StatusUnauthorized, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			repo := testutil.InitRepo(t)
			repo.Write("source/a.md", "# a\n")
			srv := httptest.NewServer(&tracker{ready: tt.ready})
			t.Cleanup(srv.Close)
			conf := writeConfig(t, repo.Dir, srv.URL, "")

			var stdout, stderr bytes.Buffer
			err := run(context.Background(), []string{"doctor", "--conf", conf}, &stdout, &stderr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("doctor error = %v, wantErr %v\n%s", err, tt.wantErr, stdout.String())
			}
			out := stdout.String()
			for _, name := range []string{"source_dir", "git", "remote", "tracker"} {
				if !strings.Contains(out, "\t"+name+"\t") {
					t.Errorf("missing %s check in output:\n%s", name, out)
				}
			}
			if tt.wantErr && !strings.Contains(err.Error(), "tracker") {
				t.Errorf("error should name the tracker check: %v", err)
			}
			if tt.wantErr && !strings.Contains(out, "check token, owner and repo") {
				t.Errorf("expected a credentials hint for a rejected lookup:\n%s", out)
			}
		})
	}
}

func TestHinterFor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		tty   bool
		debug bool
		check func(hint.Hinter) bool
	}{
		{"redirected", false, true, func(h hint.Hinter) bool { _, ok := h.(*hint.Log); return ok }},
		{"terminal", true, false, func(h hint.Hinter) bool { _, ok := h.(*hint.Terminal); return ok }},
		{"terminal with debug logs", true, true, func(h hint.Hinter) bool { m, ok := h.(hint.Multi); return ok && len(m) == 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if h := hinterFor(&bytes.Buffer{}, tt.tty, tt.debug); !tt.check(h) {
				t.Errorf("hinterFor(tty=%v, debug=%v) = %T", tt.tty, tt.debug, h)
			}
		})
	}
}
