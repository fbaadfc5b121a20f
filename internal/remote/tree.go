// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package remote provides the file trees posts are mirrored to: a GitHub
// repository reached through the git data API and a local directory.
package remote

import (
	"context"
	"errors"

	"github.com/olegiv/postsync/internal/frontmatter"
)

// ErrNotFound is returned by FetchContent for paths that do not exist.
var ErrNotFound = errors.New("file not found")

// Tree is a file tree of Markdown posts. Writes may be staged until
// CommitAndPush is called.
type Tree interface {
	// ListFiles returns the paths of all post files, sorted.
	ListFiles(ctx context.Context) ([]string, error)
	// FetchContent returns the raw file text or an error wrapping ErrNotFound.
	FetchContent(ctx context.Context, path string) (string, error)
	// WriteFile renders meta and body and stages the result at path.
	WriteFile(ctx context.Context, path string, meta frontmatter.Metadata, body string) error
	// DeleteFile stages the removal of path. Missing paths are ignored.
	DeleteFile(ctx context.Context, path string) error
	// CommitAndPush publishes all staged changes.
	CommitAndPush(ctx context.Context, message string) error
}
