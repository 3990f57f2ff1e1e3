// Package post renders markdown posts into issue bodies and writes
// frontmatter updates back to the source files.
package post

import (
	"path/filepath"
	"strings"
)

// Frontmatter holds the keys the deployer reads from a post.
type Frontmatter struct {
	Title       string   `yaml:"title"`
	Tags        []string `yaml:"tags"`
	IssueNumber int      `yaml:"issue_number"`
}

// HasIssue reports whether the post is already linked to a remote entry.
func (f Frontmatter) HasIssue() bool {
	return f.IssueNumber > 0
}

// Detail is a rendered post.
type Detail struct {
	Path        string
	Name        string // file name without extension
	Frontmatter Frontmatter
	Body        string
	AssetPaths  []string // absolute, deduplicated, in order of appearance
}

// Patch is a frontmatter update. Zero fields are left alone.
type Patch struct {
	IssueNumber int
	Title       string
}

// Options controls rendering.
type Options struct {
	SourceDir       string // absolute; assets outside it are not collected
	LinkPrefix      string // replaces the source dir in rewritten asset links
	TOC             bool
	Back2Top        bool
	SourceStatement []string // appended paragraphs; empty disables
}

func nameOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
