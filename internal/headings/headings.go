// Package headings extracts article titles from markdown sources.
package headings

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/adrg/frontmatter"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const (
	ModeLine       = "line"
	ModeCommonMark = "commonmark"
)

// Extract returns the non-empty heading titles of source in document order.
// Front matter at the top of the file is ignored when it carries metadata.
func Extract(source []byte, mode string) ([]string, error) {
	body := StripFrontMatter(source)

	switch mode {
	case "", ModeLine:
		return fromLines(body), nil
	case ModeCommonMark:
		return fromAST(body), nil
	default:
		return nil, fmt.Errorf("unknown heading mode: %s", mode)
	}
}

// StripFrontMatter removes a leading YAML or TOML front matter block. Sources
// without one, with one that does not parse, or with one that holds no keys
// are returned unchanged. A block of only '#' lines is a list of headings
// between thematic breaks, not YAML comments.
func StripFrontMatter(source []byte) []byte {
	var meta map[string]any
	body, err := frontmatter.Parse(bytes.NewReader(source), &meta)
	if err != nil || len(meta) == 0 {
		return source
	}
	return body
}

// fromLines treats every line starting with '#' as a heading
func fromLines(body []byte) []string {
	var titles []string
	for _, line := range strings.Split(string(body), "\n") {
		if !strings.HasPrefix(line, "#") {
			continue
		}
		title := strings.TrimSpace(strings.TrimLeft(line, "#"))
		if title != "" {
			titles = append(titles, title)
		}
	}
	return titles
}

// fromAST collects ATX and setext headings, skipping code blocks and the like
func fromAST(body []byte) []string {
	doc := goldmark.New().Parser().Parse(text.NewReader(body))

	var titles []string
	ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		if title := strings.TrimSpace(inlineText(h, body)); title != "" {
			titles = append(titles, title)
		}
		return ast.WalkSkipChildren, nil
	})
	return titles
}

// inlineText flattens the inline children of n into plain text
func inlineText(n ast.Node, source []byte) string {
	var sb strings.Builder
	ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := c.(type) {
		case *ast.Text:
			sb.Write(v.Segment.Value(source))
			if v.SoftLineBreak() || v.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(v.Value)
		case *ast.AutoLink:
			sb.Write(v.Label(source))
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}
