// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package frontmatter

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// FirstHeading returns the text of the first level-1 heading in a Markdown
// body, or "" if there is none.
func FirstHeading(body string) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}

	src := []byte(body)
	doc := markdown.Parser().Parse(text.NewReader(src))

	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		if h.Level == 1 {
			if t := strings.TrimSpace(inlineText(h, src)); t != "" {
				title = t
				return ast.WalkStop, nil
			}
		}
		return ast.WalkSkipChildren, nil
	})
	return title
}

// inlineText concatenates the text segments under n.
func inlineText(n ast.Node, src []byte) string {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		default:
			sb.WriteString(inlineText(c, src))
		}
	}
	return sb.String()
}
