// Package parser renders note bodies to HTML and extracts their link targets.
package parser

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

var linkSchemes = map[string]struct{}{
	"http":  {},
	"https": {},
	"ftp":   {},
}

// Result holds the output of parsing a note body.
type Result struct {
	HTML  string
	Links []string
}

// Func is the parse boundary used by the reconciler.
type Func func(body string) (*Result, error)

// Parse renders body to HTML and collects the absolute link targets in order
// of first appearance.
func Parse(body string) (*Result, error) {
	src := []byte(body)
	doc := md.Parser().Parse(text.NewReader(src))

	links := extractLinks(doc, src)

	var buf bytes.Buffer
	if err := md.Renderer().Render(&buf, src, doc); err != nil {
		return nil, fmt.Errorf("parser: render: %w", err)
	}
	return &Result{HTML: buf.String(), Links: links}, nil
}

// extractLinks walks the AST for inline links and autolinks (including
// linkified bare URLs), deduplicated.
func extractLinks(doc ast.Node, src []byte) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(raw string) {
		target := strings.TrimSpace(raw)
		if !isLinkTarget(target) {
			return
		}
		if _, ok := seen[target]; ok {
			return
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch link := n.(type) {
		case *ast.Link:
			add(string(link.Destination))
		case *ast.AutoLink:
			if link.AutoLinkType == ast.AutoLinkURL {
				add(string(link.URL(src)))
			}
		}
		return ast.WalkContinue, nil
	})
	return out
}

func isLinkTarget(s string) bool {
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return false
	}
	_, ok := linkSchemes[strings.ToLower(u.Scheme)]
	return ok
}
