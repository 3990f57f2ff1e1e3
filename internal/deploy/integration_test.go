package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"isubo/internal/gitrepo"
	"isubo/internal/issue"
	"isubo/internal/post"
	"isubo/internal/publisher"
	"isubo/internal/testutil"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeTracker struct {
	mu      sync.Mutex
	next    int
	created []map[string]any
}

func (f *fakeTracker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/repos/octo/blog/issues" {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
		return
	}
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"message":"Problems parsing JSON"}`, http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.next++
	n := f.next
	f.created = append(f.created, body)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, `{"number":%d,"html_url":"https://github.com/octo/blog/issues/%d","title":%q}`, n, n, body["title"])
}

func TestCreate_EndToEndWithGitAndTracker(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	repo := testutil.InitRepo(t)
	a := repo.Write("source/a.md", "---\ntitle: Post A\ntags: [go]\n---\n\n## Intro\n\n![diagram](img/a.png)\n")
	repo.Write("source/img/a.png", "not really a png")
	b := repo.Write("source/b.md", "---\ntitle: Post B\n---\n\nJust text.\n")
	anchor := repo.Head()

	tracker := &fakeTracker{}
	srv := httptest.NewServer(tracker)
	t.Cleanup(srv.Close)

	git, err := gitrepo.Open(context.Background(), repo.Dir, 10*time.Second)
	if err != nil {
		t.Fatalf("gitrepo.Open() error = %v", err)
	}
	formatter := post.NewFormatter(post.Options{SourceDir: repo.Path("source")})
	entries := issue.New(issue.Config{APIURL: srv.URL, Owner: "octo", Repo: "blog", Token: "t"})
	assets := publisher.New(git, publisher.Config{})

	d := New(formatter, entries, assets)
	results, report, err := d.Create(context.Background(), []string{a, b}, Progress{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if len(results) != 2 || len(tracker.created) != 2 {
		t.Fatalf("expected 2 issues, results=%d created=%d", len(results), len(tracker.created))
	}
	if len(report.Batch.Records) != 1 {
		t.Errorf("expected 1 asset record, got %+v", report.Batch.Records)
	}
	if report.AssetErr != nil {
		t.Fatalf("AssetErr = %v", report.AssetErr)
	}
	if report.Outcome.State != publisher.StateRestored {
		t.Errorf("State = %s", report.Outcome.State)
	}

	if got := repo.CommitCount(); got != 2 {
		t.Errorf("expected one new commit, history has %d", got)
	}
	head := repo.Head()
	if head == anchor || repo.RemoteHead("main") != head {
		t.Errorf("expected pushed commit, head=%s remote=%s", head, repo.RemoteHead("main"))
	}
	files := repo.CommitFiles("HEAD")
	sort.Strings(files)
	want := []string{"source/a.md", "source/b.md", "source/img/a.png"}
	if strings.Join(files, ",") != strings.Join(want, ",") {
		t.Errorf("commit files = %v, want %v", files, want)
	}
	if subject := repo.CommitSubject("HEAD"); !strings.HasPrefix(subject, "Update 2 articles including") {
		t.Errorf("subject = %q", subject)
	}

	for _, p := range []string{a, b} {
		raw, err := os.ReadFile(p)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(raw), "issue_number: ") {
			t.Errorf("%s missing injected issue_number:\n%s", p, raw)
		}
	}
}
