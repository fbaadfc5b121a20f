// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/olegiv/postsync/internal/errkind"
	"github.com/olegiv/postsync/internal/frontmatter"
	"github.com/olegiv/postsync/internal/model"
	"github.com/olegiv/postsync/internal/slug"
)

// toMetadata converts a stored post into file front matter.
func toMetadata(item model.ContentItem) frontmatter.Metadata {
	cats := item.CategoryNames()
	if len(cats) == 0 {
		cats = []string{model.DefaultCategory}
	}
	meta := frontmatter.Metadata{
		Title:       item.Title,
		Date:        item.CreatedAt.UTC(),
		Categories:  cats,
		Tags:        item.TagNames(),
		Description: item.Description,
		Image:       item.CoverImage,
		Slug:        item.Slug,
		Published:   item.Published,
		Featured:    item.Featured,
	}
	if !item.UpdatedAt.IsZero() && !sameSecond(item.UpdatedAt, item.CreatedAt) {
		meta.Updated = item.UpdatedAt.UTC()
	}
	return meta
}

// fromDocument converts a parsed file into a post stored under s.
func fromDocument(doc frontmatter.Document, s string) model.ContentItem {
	meta := doc.Meta
	updated := meta.Updated
	if updated.IsZero() {
		updated = meta.Date
	}
	return model.ContentItem{
		Slug:        s,
		Title:       meta.Title,
		Body:        doc.Body,
		Description: meta.Description,
		CoverImage:  meta.Image,
		Published:   meta.Published,
		Featured:    meta.Featured,
		Categories:  toTerms(meta.Categories),
		Tags:        toTerms(meta.Tags),
		CreatedAt:   meta.Date.UTC(),
		UpdatedAt:   updated.UTC(),
	}
}

func toTerms(names []string) []model.Term {
	terms := make([]model.Term, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			terms = append(terms, model.Term{Name: n})
		}
	}
	return terms
}

// render produces the canonical file text of item.
func render(item model.ContentItem) (string, error) {
	return frontmatter.Render(toMetadata(item), item.Body)
}

// contentHash identifies the rendered form of item. Two items with the
// same hash produce byte-identical files.
func contentHash(item model.ContentItem) (string, error) {
	text, err := render(item)
	if err != nil {
		return "", err
	}
	return hashText(text), nil
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// lastModified returns the most recent timestamp of item.
func lastModified(item model.ContentItem) time.Time {
	if item.UpdatedAt.After(item.CreatedAt) {
		return item.UpdatedAt
	}
	return item.CreatedAt
}

// newerThan reports whether a is later than b at second precision, the
// precision timestamps survive a round trip through a file with.
func newerThan(a, b time.Time) bool {
	return a.Truncate(time.Second).After(b.Truncate(time.Second))
}

func sameSecond(a, b time.Time) bool {
	return a.Truncate(time.Second).Equal(b.Truncate(time.Second))
}

var (
	errEmptyTitle = errors.New("title is empty")
	errEmptyBody  = errors.New("body is empty")
)

// validate checks the fields every written item must carry.
func validate(item model.ContentItem) error {
	switch {
	case strings.TrimSpace(item.Title) == "":
		return errkind.NewItem(errkind.Unrecoverable, "validate", item.Slug, errEmptyTitle)
	case strings.TrimSpace(item.Body) == "":
		return errkind.NewItem(errkind.Unrecoverable, "validate", item.Slug, errEmptyBody)
	case !slug.IsValid(item.Slug):
		return errkind.Errorf(errkind.Unrecoverable, "validate %s: invalid slug", item.Slug)
	}
	return nil
}
