// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package remote

import (
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/olegiv/postsync/internal/model"
	"github.com/olegiv/postsync/internal/slug"
)

// DefaultPostsRoot is the directory posts live under inside a tree.
const DefaultPostsRoot = "posts"

// fileDateLayout is the date prefix of post file names.
const fileDateLayout = "2006-01-02"

var postFileName = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})-(.+)\.md$`)

// PostPath returns <root>/<primary category slug>/<YYYY-MM-DD>-<slug>.md.
func PostPath(root string, item model.ContentItem) string {
	cat := item.PrimaryCategory().Slug
	if cat == "" || !slug.IsValid(cat) {
		cat = slug.Slugify(item.PrimaryCategory().Label())
	}
	if cat == "" {
		cat = model.DefaultCategory
	}
	name := item.CreatedAt.UTC().Format(fileDateLayout) + "-" + item.Slug + ".md"
	return path.Join(root, cat, name)
}

// ParsePostPath extracts the creation date and slug from a post path.
// ok is false when the file name does not follow the convention.
func ParsePostPath(p string) (created time.Time, s string, ok bool) {
	m := postFileName.FindStringSubmatch(path.Base(p))
	if m == nil {
		return time.Time{}, "", false
	}
	created, err := time.Parse(fileDateLayout, m[1])
	if err != nil {
		return time.Time{}, "", false
	}
	return created, m[2], true
}

// IsPostFile reports whether p is a Markdown file below root.
func IsPostFile(root, p string) bool {
	if !strings.HasSuffix(strings.ToLower(p), ".md") {
		return false
	}
	if root == "" || root == "." {
		return true
	}
	return strings.HasPrefix(p, strings.TrimSuffix(root, "/")+"/")
}
