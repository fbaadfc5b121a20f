// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package version provides build-time version information.
package version

import "fmt"

// Set via -ldflags "-X github.com/olegiv/postsync/internal/version.Version=...".
var (
	Version   = "dev"
	GitCommit = ""
	BuildTime = ""
)

// Info contains build-time version information injected via ldflags.
type Info struct {
	Version   string `json:"version"`              // Semantic version from git tags (e.g., "v1.2.3")
	GitCommit string `json:"git_commit,omitempty"` // Short git commit hash (e.g., "abc1234")
	BuildTime string `json:"build_time,omitempty"` // Build timestamp in RFC3339 format
}

// Get returns the version of the running binary.
func Get() Info {
	return Info{Version: Version, GitCommit: GitCommit, BuildTime: BuildTime}
}

// String formats the info for `postsync version`.
func (i Info) String() string {
	s := "postsync " + i.Version
	if i.GitCommit != "" {
		s += fmt.Sprintf(" (%s)", i.GitCommit)
	}
	if i.BuildTime != "" {
		s += " built " + i.BuildTime
	}
	return s
}
