// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import "time"

// DefaultCategory is assigned to posts that reference no category.
const DefaultCategory = "uncategorized"

// ContentItem represents a blog post as seen by the synchronizer.
type ContentItem struct {
	ID          int64     `json:"id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Description string    `json:"description,omitempty"`
	CoverImage  string    `json:"cover_image,omitempty"`
	Published   bool      `json:"published"`
	Featured    bool      `json:"featured"`
	Categories  []Term    `json:"categories"`
	Tags        []Term    `json:"tags"`
	Aliases     []string  `json:"aliases,omitempty"` // non-primary historical slugs
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PrimaryCategory returns the first category, or the default category
// when the post has none.
func (c *ContentItem) PrimaryCategory() Term {
	if len(c.Categories) == 0 {
		return Term{Name: DefaultCategory, Slug: DefaultCategory}
	}
	return c.Categories[0]
}

// CategoryNames returns the display names of the post's categories.
func (c *ContentItem) CategoryNames() []string {
	return termNames(c.Categories)
}

// TagNames returns the display names of the post's tags.
func (c *ContentItem) TagNames() []string {
	return termNames(c.Tags)
}

// KnownSlugs returns the canonical slug followed by every alias.
func (c *ContentItem) KnownSlugs() []string {
	slugs := make([]string, 0, len(c.Aliases)+1)
	if c.Slug != "" {
		slugs = append(slugs, c.Slug)
	}
	return append(slugs, c.Aliases...)
}

// Term is a category or tag reference: a human label plus its stable slug.
// Either field may be empty on input; the repository fills in the other.
type Term struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Label returns the name if set, otherwise the slug.
func (t Term) Label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Slug
}

// Category represents a post category.
type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	PostCount int64     `json:"post_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tag represents a post tag.
type Tag struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	PostCount int64     `json:"post_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SlugMapping links a slug string to a post. Each post has exactly one
// primary mapping; the rest are aliases kept for redirects.
type SlugMapping struct {
	Slug      string    `json:"slug"`
	PostID    int64     `json:"post_id"`
	IsPrimary bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func termNames(terms []Term) []string {
	names := make([]string, 0, len(terms))
	for _, t := range terms {
		names = append(names, t.Label())
	}
	return names
}
