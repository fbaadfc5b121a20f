// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package slug derives stable, collision-free URL identifiers for posts,
// categories and tags.
package slug

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxLength bounds the length of a normalized slug.
const MaxLength = 80

var (
	// nonSlugChars matches anything that is not a lowercase letter, digit or hyphen
	nonSlugChars = regexp.MustCompile(`[^a-z0-9-]+`)
	// multipleHyphens matches multiple consecutive hyphens
	multipleHyphens = regexp.MustCompile(`-{2,}`)
)

// Slugify converts a string to a URL-friendly slug. Accents are removed,
// non-Latin scripts are transliterated, whitespace becomes hyphens and all
// other punctuation is dropped.
func Slugify(s string) string {
	// Decompose and drop combining marks so "é" becomes "e" before transliteration
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)

	result = unidecode.Unidecode(result)
	result = strings.ToLower(result)
	result = strings.Join(strings.Fields(result), "-")
	result = nonSlugChars.ReplaceAllString(result, "")
	result = multipleHyphens.ReplaceAllString(result, "-")
	result = strings.Trim(result, "-")

	if len(result) > MaxLength {
		result = result[:MaxLength]
		if i := strings.LastIndexByte(result, '-'); i > MaxLength/2 {
			result = result[:i]
		}
		result = strings.Trim(result, "-")
	}

	return result
}

// IsValid checks if a string is a valid slug: lowercase letters, digits and
// single hyphens, not starting or ending with a hyphen.
func IsValid(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-') {
			return false
		}
	}

	if s[0] == '-' || s[len(s)-1] == '-' {
		return false
	}

	return !strings.Contains(s, "--")
}
