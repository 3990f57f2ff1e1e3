package post

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

type assetLink struct {
	dest string
	url  string
}

// resolveAssets maps relative image destinations to files under the source
// directory. Missing files and remote URLs are left untouched.
func (f *Formatter) resolveAssets(postPath string, dests []string) ([]string, []assetLink) {
	var assets []string
	var links []assetLink
	seen := make(map[string]struct{})
	dir := filepath.Dir(postPath)

	for _, dest := range dests {
		if !isLocal(dest) {
			continue
		}
		clean := dest
		if i := strings.IndexAny(clean, "?#"); i >= 0 {
			clean = clean[:i]
		}
		if unescaped, err := url.PathUnescape(clean); err == nil {
			clean = unescaped
		}
		abs := filepath.Join(dir, filepath.FromSlash(clean))
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			continue
		}
		rel, ok := f.relToSource(abs)
		if !ok {
			continue
		}
		if _, dup := seen[abs]; !dup {
			seen[abs] = struct{}{}
			assets = append(assets, abs)
		}
		if f.opts.LinkPrefix != "" {
			links = append(links, assetLink{dest: dest, url: f.opts.LinkPrefix + "/" + escapePath(rel)})
		}
	}
	return assets, links
}

func (f *Formatter) relToSource(abs string) (string, bool) {
	if f.opts.SourceDir == "" {
		return "", false
	}
	rel, err := filepath.Rel(f.opts.SourceDir, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func isLocal(dest string) bool {
	if dest == "" || strings.HasPrefix(dest, "/") || strings.HasPrefix(dest, "#") {
		return false
	}
	u, err := url.Parse(dest)
	if err != nil {
		return true
	}
	return u.Scheme == "" && u.Host == ""
}

func escapePath(rel string) string {
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// rewriteLinks replaces inline `](dest` and reference `]: dest` occurrences.
func rewriteLinks(body string, links []assetLink) string {
	if len(links) == 0 {
		return body
	}
	pairs := make([]string, 0, len(links)*6)
	done := make(map[string]struct{})
	for _, l := range links {
		if _, ok := done[l.dest]; ok {
			continue
		}
		done[l.dest] = struct{}{}
		pairs = append(pairs,
			"]("+l.dest, "]("+l.url,
			"](<"+l.dest+">", "](<"+l.url+">",
			"]: "+l.dest, "]: "+l.url,
		)
	}
	return strings.NewReplacer(pairs...).Replace(body)
}
