package publisher

import (
	"fmt"
	"isubo/internal/gitrepo"
	"path/filepath"
)

// AssetRecord links a rendered post to the local assets it references.
// All paths are absolute.
type AssetRecord struct {
	PostPath   string
	AssetPaths []string
}

// Batch is everything one deploy call may have touched on disk: the asset
// records plus post files rewritten by frontmatter injection that have no
// assets of their own.
type Batch struct {
	Records []AssetRecord
	Posts   []string
}

// Empty reports whether the batch names no files at all.
func (b Batch) Empty() bool {
	return len(b.Records) == 0 && len(b.Posts) == 0
}

// posts returns the unique post paths, records first.
func (b Batch) posts() []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(p string) {
		p = canonical(p)
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, r := range b.Records {
		add(r.PostPath)
	}
	for _, p := range b.Posts {
		add(p)
	}
	return out
}

// candidates returns every unique recorded path: posts, then assets.
func (b Batch) candidates() []string {
	out := b.posts()
	seen := make(map[string]struct{}, len(out))
	for _, p := range out {
		seen[p] = struct{}{}
	}
	for _, r := range b.Records {
		for _, a := range r.AssetPaths {
			a = canonical(a)
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}

// eligible keeps the recorded paths the status reports as changed.
func (b Batch) eligible(st *gitrepo.Status) []string {
	changed := make(map[string]struct{}, len(st.Files))
	for p := range st.Changed() {
		changed[canonical(p)] = struct{}{}
	}
	var out []string
	for _, p := range b.candidates() {
		if _, ok := changed[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// commitMessage names the first post; plural form is keyed on post count.
func (b Batch) commitMessage() string {
	posts := b.posts()
	if len(posts) == 0 {
		return "Update related resources"
	}
	first := filepath.Base(posts[0])
	first = first[:len(first)-len(filepath.Ext(first))]
	if len(posts) > 1 {
		return fmt.Sprintf("Update %d articles including %q, and related resources", len(posts), first)
	}
	return fmt.Sprintf("Update %q article and related resources", first)
}

// canonical resolves symlinks in the parent directory so recorded paths and
// git-reported paths compare equal. The file itself may not exist.
func canonical(p string) string {
	p = filepath.Clean(p)
	dir, base := filepath.Split(p)
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return filepath.Join(resolved, base)
	}
	return p
}

func subtract(paths, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, p := range remove {
		drop[canonical(p)] = struct{}{}
	}
	var out []string
	for _, p := range paths {
		if _, ok := drop[canonical(p)]; !ok {
			out = append(out, p)
		}
	}
	return out
}
