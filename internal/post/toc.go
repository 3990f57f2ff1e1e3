package post

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	tocTitle  = "Table of Contents"
	tocAnchor = "table-of-contents"
)

// anchor approximates the heading ids GitHub generates.
func anchor(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	return b.String()
}

func buildTOC(headings []heading) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", tocTitle)
	used := make(map[string]int)
	for _, h := range headings {
		a := anchor(h.text)
		if n, ok := used[a]; ok {
			used[a] = n + 1
			a = fmt.Sprintf("%s-%d", a, n+1)
		} else {
			used[a] = 0
		}
		indent := strings.Repeat("  ", h.level-2)
		fmt.Fprintf(&b, "%s- [%s](#%s)\n", indent, h.text, a)
	}
	b.WriteString("\n")
	return b.String()
}

func back2TopLink(withTOC bool) string {
	target := "#"
	if withTOC {
		target = "#" + tocAnchor
	}
	return fmt.Sprintf("[⬆ back to top](%s)", target)
}

// insertBack2Top puts a back-to-top link before every level 2 heading except
// the first one, and at the end of the body.
func insertBack2Top(body []byte, headings []heading, withTOC bool) []byte {
	link := back2TopLink(withTOC)
	var out []byte
	pos := 0
	seenH2 := false
	for _, h := range headings {
		if h.level != 2 {
			continue
		}
		if !seenH2 {
			seenH2 = true
			continue
		}
		out = append(out, body[pos:h.lineStart]...)
		out = append(out, link+"\n\n"...)
		pos = h.lineStart
	}
	if !seenH2 {
		return body
	}
	out = append(out, body[pos:]...)
	trimmed := strings.TrimRight(string(out), "\n")
	return []byte(trimmed + "\n\n" + link + "\n")
}
