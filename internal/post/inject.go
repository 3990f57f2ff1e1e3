package post

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"isubo/internal/apperrors"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const fence = "---"

// Frontmatter openers adrg/frontmatter understands but injection cannot
// rewrite in place.
var unsupportedFences = []string{"+++", ";;;", "---yaml", "---toml", "---json"}

// InjectFrontmatter writes patch into the YAML block of the post at path,
// creating the block when the post has none. Other keys, their order and the
// body, line endings included, are preserved. A title is only written when
// the post has none. Only plain `---` blocks are supported.
func (f *Formatter) InjectFrontmatter(path string, patch Patch) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperrors.NotFound("post", path)
		}
		return fmt.Errorf("stat post: %w", err)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading post: %w", err)
	}

	meta, body, nl, err := splitFrontmatter(src)
	if err != nil {
		return apperrors.Validation("frontmatter", fmt.Sprintf("%s: %v", path, err))
	}

	var doc yaml.Node
	if len(bytes.TrimSpace(meta)) > 0 {
		if err := yaml.Unmarshal(meta, &doc); err != nil {
			return apperrors.Validation("frontmatter", fmt.Sprintf("%s: %v", path, err))
		}
	}
	root, err := mappingRoot(&doc)
	if err != nil {
		return apperrors.Validation("frontmatter", fmt.Sprintf("%s: %v", path, err))
	}

	if patch.IssueNumber > 0 {
		setScalar(root, "issue_number", strconv.Itoa(patch.IssueNumber), "!!int")
	}
	if patch.Title != "" {
		if v := lookup(root, "title"); v == nil || v.Value == "" {
			setScalar(root, "title", patch.Title, "!!str")
		}
	}

	var encoded bytes.Buffer
	enc := yaml.NewEncoder(&encoded)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encoding frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(fence + nl)
	buf.Write(bytes.ReplaceAll(encoded.Bytes(), []byte("\n"), []byte(nl)))
	buf.WriteString(fence + nl)
	buf.Write(body)

	if err := os.WriteFile(path, buf.Bytes(), info.Mode().Perm()); err != nil {
		return fmt.Errorf("writing post: %w", err)
	}
	f.logger.Debug("Frontmatter injected", "path", path, "issue_number", patch.IssueNumber)
	return nil
}

// checkFence rejects frontmatter formats other than a plain `---` YAML block.
func checkFence(src []byte) error {
	line, _, _ := bytes.Cut(src, []byte("\n"))
	opener := string(bytes.TrimRight(line, "\r \t"))
	for _, f := range unsupportedFences {
		if opener == f {
			return fmt.Errorf("unsupported frontmatter fence %q, only --- YAML blocks are supported", f)
		}
	}
	return nil
}

// lineEnding returns the newline sequence ending the first line of src.
func lineEnding(src []byte) string {
	if i := bytes.IndexByte(src, '\n'); i > 0 && src[i-1] == '\r' {
		return "\r\n"
	}
	return "\n"
}

// splitFrontmatter separates a leading `---` fenced block from the rest of
// the document and reports the newline used by its fences. A document
// without a block yields nil meta and the full body. The body is returned
// unmodified.
func splitFrontmatter(src []byte) (meta, body []byte, nl string, err error) {
	if err := checkFence(src); err != nil {
		return nil, nil, "", err
	}
	nl = lineEnding(src)
	open := []byte(fence + nl)
	if !bytes.HasPrefix(src, open) {
		return nil, src, nl, nil
	}
	rest := src[len(open):]
	if bytes.HasPrefix(rest, open) {
		return nil, rest[len(open):], nl, nil
	}
	closing := []byte(nl + fence + nl)
	if i := bytes.Index(rest, closing); i >= 0 {
		return rest[:i+len(nl)], rest[i+len(closing):], nl, nil
	}
	if bytes.HasSuffix(rest, []byte(nl+fence)) {
		return rest[:len(rest)-len(fence)], nil, nl, nil
	}
	return nil, nil, "", errors.New("unterminated frontmatter block")
}

func mappingRoot(doc *yaml.Node) (*yaml.Node, error) {
	if doc.Kind == 0 {
		doc.Kind = yaml.DocumentNode
	}
	if len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("frontmatter is not a mapping")
	}
	return root, nil
}

func lookup(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func setScalar(m *yaml.Node, key, value, tag string) {
	if v := lookup(m, key); v != nil {
		v.Kind = yaml.ScalarNode
		v.Tag = tag
		v.Value = value
		v.Style = 0
		v.Content = nil
		return
	}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value},
	)
}
