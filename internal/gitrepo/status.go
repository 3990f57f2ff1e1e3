package gitrepo

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// FileStatus is one entry of the porcelain status. Index and WorkTree are the
// X and Y letters of `git status --porcelain`.
type FileStatus struct {
	Path     string
	From     string
	Index    byte
	WorkTree byte
}

// Untracked reports whether git does not track the file yet.
func (f FileStatus) Untracked() bool {
	return f.Index == '?'
}

// Staged reports whether the entry has changes recorded in the index.
func (f FileStatus) Staged() bool {
	return f.Index != ' ' && f.Index != '?' && f.Index != '!'
}

// Status is a snapshot of the working tree. Paths are absolute.
type Status struct {
	Staged []string
	Files  []FileStatus
}

// IsClean reports whether nothing is changed, staged or untracked.
func (s *Status) IsClean() bool {
	return len(s.Files) == 0
}

// Changed returns the set of every reported path.
func (s *Status) Changed() map[string]struct{} {
	out := make(map[string]struct{}, len(s.Files))
	for _, f := range s.Files {
		out[f.Path] = struct{}{}
	}
	return out
}

// Status reads the working tree status, listing untracked files
// individually.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	out, err := c.run(ctx, "status", "--porcelain=v1", "-z", "--untracked-files=all")
	if err != nil {
		return nil, fmt.Errorf("reading status: %w", err)
	}
	return parseStatus(c.root, out)
}

// parseStatus decodes NUL-terminated porcelain v1 output. A rename or copy
// entry is followed by an extra field holding the source path.
func parseStatus(root, out string) (*Status, error) {
	st := &Status{}
	fields := strings.Split(out, "\x00")
	for i := 0; i < len(fields); i++ {
		entry := fields[i]
		if entry == "" {
			continue
		}
		if len(entry) < 4 || entry[2] != ' ' {
			return nil, fmt.Errorf("malformed status entry %q", entry)
		}
		f := FileStatus{
			Index:    entry[0],
			WorkTree: entry[1],
			Path:     filepath.Join(root, filepath.FromSlash(entry[3:])),
		}
		if f.Index == 'R' || f.Index == 'C' {
			i++
			if i >= len(fields) {
				return nil, fmt.Errorf("status entry %q missing source path", entry)
			}
			f.From = filepath.Join(root, filepath.FromSlash(fields[i]))
		}
		st.Files = append(st.Files, f)
		if f.Staged() {
			st.Staged = append(st.Staged, f.Path)
			if f.From != "" {
				st.Staged = append(st.Staged, f.From)
			}
		}
	}
	return st, nil
}
