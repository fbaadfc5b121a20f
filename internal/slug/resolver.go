// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package slug

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"time"
)

// Resolution constants
const (
	// MinLength is the shortest normalized slug accepted before falling back
	// to a hash-derived one.
	MinLength = 3
	// MaxHashAttempts bounds the short-hash suffix search.
	MaxHashAttempts = 100
	// HashPrefix is prepended to hash-derived slugs.
	HashPrefix = "post-"
	// dateLayout is the date form fed into hashes.
	dateLayout = "2006-01-02"
	// compactDateLayout is the date form used as a suffix.
	compactDateLayout = "20060102"
)

// Set is a set of taken slugs.
type Set map[string]struct{}

// NewSet builds a set from a slice of slugs.
func NewSet(slugs ...string) Set {
	s := make(Set, len(slugs))
	for _, v := range slugs {
		s[v] = struct{}{}
	}
	return s
}

// Has reports whether slug is taken.
func (s Set) Has(slug string) bool {
	_, ok := s[slug]
	return ok
}

// Add marks slug as taken.
func (s Set) Add(slug string) {
	s[slug] = struct{}{}
}

// Remove frees slug.
func (s Set) Remove(slug string) {
	delete(s, slug)
}

// Resolver derives slugs. The zero value is ready to use; Now is only
// consulted by the final timestamp fallback.
type Resolver struct {
	Now func() time.Time
}

// ResolveSlug returns a slug for title that does not collide with any of
// existing. The result is deterministic for identical inputs unless every
// candidate collides, in which case a millisecond timestamp is appended.
func ResolveSlug(title string, created time.Time, existing []string) string {
	return Resolver{}.Resolve(title, created, NewSet(existing...))
}

// Resolve is ResolveSlug against a prepared set. The set is not modified.
func (r Resolver) Resolve(title string, created time.Time, existing Set) string {
	date := created.Format(dateLayout)

	base := Slugify(title)
	if len(base) < MinLength {
		base = HashPrefix + shortHash(title+date, 8)
	}
	if !existing.Has(base) {
		return base
	}

	withDate := base + "-" + created.Format(compactDateLayout)
	if !existing.Has(withDate) {
		return withDate
	}

	for attempt := 1; attempt <= MaxHashAttempts; attempt++ {
		candidate := base + "-" + shortHash(title+date+strconv.Itoa(attempt), 4)
		if !existing.Has(candidate) {
			return candidate
		}
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return base + "-" + strconv.FormatInt(now().UnixMilli(), 10)
}

// shortHash returns the first n hex characters of the MD5 of s.
func shortHash(s string, n int) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:n]
}
