package post

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"isubo/internal/apperrors"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/adrg/frontmatter"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// Formatter renders posts. It holds no per-post state and may be shared by
// concurrent deploy jobs.
type Formatter struct {
	opts   Options
	md     goldmark.Markdown
	logger *slog.Logger
}

// NewFormatter creates a Formatter.
func NewFormatter(opts Options) *Formatter {
	opts.LinkPrefix = strings.TrimRight(opts.LinkPrefix, "/")
	return &Formatter{
		opts:   opts,
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger: slog.With("component", "post"),
	}
}

// Render reads the post at path and returns its issue body, frontmatter and
// referenced local assets.
func (f *Formatter) Render(path string) (*Detail, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.NotFound("post", path)
		}
		return nil, fmt.Errorf("reading post: %w", err)
	}

	if err := checkFence(src); err != nil {
		return nil, apperrors.Validation("frontmatter", fmt.Sprintf("%s: %v", path, err))
	}
	var fm Frontmatter
	body, err := frontmatter.Parse(bytes.NewReader(src), &fm)
	if err != nil {
		return nil, apperrors.Validation("frontmatter", fmt.Sprintf("%s: %v", path, err))
	}

	d := &Detail{
		Path:        path,
		Name:        nameOf(path),
		Frontmatter: fm,
	}
	if strings.TrimSpace(d.Frontmatter.Title) == "" {
		d.Frontmatter.Title = d.Name
	}

	doc := f.md.Parser().Parse(text.NewReader(body))
	images, headings := collect(doc, body)

	var links []assetLink
	d.AssetPaths, links = f.resolveAssets(path, images)

	out := body
	if f.opts.Back2Top {
		out = insertBack2Top(out, headings, f.opts.TOC)
	}
	rendered := rewriteLinks(string(out), links)
	if f.opts.TOC && len(headings) > 0 {
		rendered = buildTOC(headings) + rendered
	}
	if len(f.opts.SourceStatement) > 0 {
		rendered = strings.TrimRight(rendered, "\n") + "\n\n" + strings.Join(f.opts.SourceStatement, "\n\n") + "\n"
	}
	d.Body = rendered

	f.logger.Debug("Post rendered", "path", path, "assets", len(d.AssetPaths), "headings", len(headings))
	return d, nil
}

type heading struct {
	level     int
	text      string
	lineStart int
}

// collect walks the markdown tree for image destinations and level 2-3
// headings.
func collect(doc ast.Node, src []byte) ([]string, []heading) {
	var images []string
	var headings []heading
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Image:
			images = append(images, string(node.Destination))
		case *ast.Heading:
			if node.Level < 2 || node.Level > 3 || node.Lines().Len() == 0 {
				return ast.WalkContinue, nil
			}
			headings = append(headings, heading{
				level:     node.Level,
				text:      strings.TrimSpace(string(node.Text(src))),
				lineStart: lineStart(src, node.Lines().At(0).Start),
			})
		}
		return ast.WalkContinue, nil
	})
	sort.SliceStable(headings, func(i, j int) bool { return headings[i].lineStart < headings[j].lineStart })
	return images, headings
}

func lineStart(src []byte, offset int) int {
	if i := bytes.LastIndexByte(src[:offset], '\n'); i >= 0 {
		return i + 1
	}
	return 0
}
