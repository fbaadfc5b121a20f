// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package frontmatter reads and writes Markdown files with a YAML front
// matter block. Parsing never drops content: malformed metadata is repaired
// and every repair is reported as a RepairNote.
package frontmatter

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/olegiv/postsync/internal/errkind"
)

const delimiter = "---"

// Metadata is the repaired, typed front matter of a post file.
type Metadata struct {
	Title       string
	Date        time.Time
	Updated     time.Time // zero when absent
	Categories  []string
	Tags        []string
	Description string
	Image       string
	Slug        string // optional explicit slug
	Published   bool
	Featured    bool
}

// RepairNote describes one automatic fix applied to the metadata.
type RepairNote struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (n RepairNote) String() string {
	return n.Field + ": " + n.Message
}

// Document is a parsed post file.
type Document struct {
	Meta  Metadata
	Body  string
	Notes []RepairNote
}

// Repaired reports whether any repair was applied while parsing.
func (d Document) Repaired() bool {
	return len(d.Notes) > 0
}

// Split separates the raw front matter block from the body. found is false
// when the text has no front matter at all.
func Split(text string) (raw, body string, found, terminated bool) {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	if !strings.HasPrefix(text, delimiter+"\n") {
		return "", text, false, false
	}
	rest := text[len(delimiter)+1:]

	switch {
	case rest == delimiter:
		return "", "", true, true
	case strings.HasPrefix(rest, delimiter+"\n"):
		return "", trimSeparator(rest[len(delimiter)+1:]), true, true
	}

	if idx := strings.Index(rest, "\n"+delimiter+"\n"); idx >= 0 {
		return rest[:idx+1], trimSeparator(rest[idx+len(delimiter)+2:]), true, true
	}
	if strings.HasSuffix(rest, "\n"+delimiter) {
		return rest[:len(rest)-len(delimiter)], "", true, true
	}

	// Unterminated: metadata runs until the first blank line.
	if idx := strings.Index(rest, "\n\n"); idx >= 0 {
		return rest[:idx+1], rest[idx+2:], true, false
	}
	return rest, "", true, false
}

// trimSeparator removes the single blank line written between the closing
// delimiter and the body.
func trimSeparator(body string) string {
	return strings.TrimPrefix(body, "\n")
}

// Parse splits text, decodes the YAML block and repairs it. The only error
// it returns is an Unrecoverable one wrapping ErrNoTitle.
func Parse(text string, now time.Time) (Document, error) {
	raw, body, found, terminated := Split(text)

	var notes []RepairNote
	fields := map[string]any{}
	switch {
	case !found:
		notes = append(notes, RepairNote{Field: "front matter", Message: "missing; defaults applied"})
	default:
		if !terminated {
			notes = append(notes, RepairNote{Field: "front matter", Message: "unterminated block; closed at first blank line"})
		}
		decoded, err := decode(raw)
		if err != nil {
			fields = salvage(raw)
			notes = append(notes, RepairNote{
				Field:   "front matter",
				Message: fmt.Sprintf("invalid YAML (%v); salvaged %d fields", err, len(fields)),
			})
		} else {
			fields = decoded
		}
	}

	meta, repairNotes, err := Repair(fields, body, now)
	notes = append(notes, repairNotes...)
	if err != nil {
		return Document{Body: body, Notes: notes}, errkind.New(errkind.Unrecoverable, "repair front matter", err)
	}
	return Document{Meta: meta, Body: body, Notes: notes}, nil
}

// decode unmarshals a YAML mapping. Any other top-level shape is an error.
func decode(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal([]byte(raw), &node); err != nil {
		return nil, err
	}
	if node.Kind == 0 {
		return map[string]any{}, nil
	}
	if node.Kind != yaml.DocumentNode || len(node.Content) == 0 || node.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("front matter is not a mapping")
	}

	fields := map[string]any{}
	if err := node.Content[0].Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// salvageLine matches a top-level "key: value" line.
var salvageLine = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_-]*):\s*(.*?)\s*$`)

// salvage recovers simple scalar fields from YAML that failed to parse.
func salvage(raw string) map[string]any {
	fields := map[string]any{}
	for _, line := range strings.Split(raw, "\n") {
		m := salvageLine.FindStringSubmatch(line)
		if m == nil || m[2] == "" {
			continue
		}
		fields[strings.ToLower(m[1])] = unquote(m[2])
	}
	return fields
}

func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// DateLayout is the layout dates are written with.
const DateLayout = time.RFC3339

// Render serializes metadata and body into the canonical file format.
func Render(meta Metadata, body string) (string, error) {
	mapping := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key string, value *yaml.Node) {
		mapping.Content = append(mapping.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, value)
	}

	add("title", quoted(meta.Title))
	add("date", quoted(meta.Date.UTC().Format(DateLayout)))
	if !meta.Updated.IsZero() {
		add("updated", quoted(meta.Updated.UTC().Format(DateLayout)))
	}
	add("categories", quotedList(meta.Categories))
	add("tags", quotedList(meta.Tags))
	if meta.Description != "" {
		add("description", quoted(meta.Description))
	}
	if meta.Image != "" {
		add("image", quoted(meta.Image))
	}
	if meta.Slug != "" {
		add("slug", quoted(meta.Slug))
	}
	if !meta.Published {
		add("published", boolean(false))
	}
	if meta.Featured {
		add("featured", boolean(true))
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(mapping); err != nil {
		return "", fmt.Errorf("encoding front matter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encoding front matter: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(delimiter + "\n")
	sb.Write(buf.Bytes())
	sb.WriteString(delimiter + "\n\n")
	sb.WriteString(body)
	return sb.String(), nil
}

func quoted(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s, Style: yaml.DoubleQuotedStyle}
}

func quotedList(items []string) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	if len(items) == 0 {
		seq.Style = yaml.FlowStyle
	}
	for _, item := range items {
		seq.Content = append(seq.Content, quoted(item))
	}
	return seq
}

func boolean(b bool) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: fmt.Sprint(b)}
}
