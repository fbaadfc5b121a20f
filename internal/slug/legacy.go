// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package slug

import "strings"

// legacySuffixLen is the length of the random suffix older tooling appended.
const legacySuffixLen = 6

// IsLegacy reports whether slug is the slug of title followed by a random
// suffix such as "-a1b2c3". Such slugs were generated non-deterministically
// and must be regenerated. Words that merely look random ("base64",
// "sha256") are part of the title slug and never match.
func IsLegacy(slug, title string) bool {
	base := Slugify(title)
	if base == "" || slug == base {
		return false
	}
	i := strings.LastIndexByte(slug, '-')
	if i <= 0 || slug[:i] != base {
		return false
	}
	return randomSuffix(slug[i+1:])
}

// randomSuffix reports whether s has the shape of a legacy suffix: six
// lowercase alphanumerics mixing letters and digits.
func randomSuffix(s string) bool {
	if len(s) != legacySuffixLen {
		return false
	}
	var letters, digits int
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			letters++
		case r >= '0' && r <= '9':
			digits++
		default:
			return false
		}
	}
	return letters > 0 && digits > 0
}
