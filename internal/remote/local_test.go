// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package remote

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/postsync/internal/errkind"
	"github.com/olegiv/postsync/internal/frontmatter"
	"github.com/olegiv/postsync/internal/model"
)

func TestLocalTree_WriteListFetch(t *testing.T) {
	dir := t.TempDir()
	tree := NewLocalTree(dir, "posts")
	ctx := context.Background()

	files, err := tree.ListFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files, "missing root lists as empty")

	meta := frontmatter.Metadata{
		Title:      "Local",
		Date:       time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Categories: []string{"notes"},
		Tags:       []string{"a"},
		Published:  true,
	}
	require.NoError(t, tree.WriteFile(ctx, "posts/notes/2024-01-02-local.md", meta, "text\n"))
	require.NoError(t, tree.WriteFile(ctx, "posts/2024-01-03-top.md", meta, "top\n"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "posts", "notes", "image.png"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o644))

	files, err = tree.ListFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"posts/2024-01-03-top.md", "posts/notes/2024-01-02-local.md"}, files)

	content, err := tree.FetchContent(ctx, "posts/notes/2024-01-02-local.md")
	require.NoError(t, err)
	doc, err := frontmatter.Parse(content, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "Local", doc.Meta.Title)
	assert.Equal(t, "text\n", doc.Body)

	leftovers, err := filepath.Glob(filepath.Join(dir, "posts", "notes", ".postsync-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temp files are renamed away")

	require.NoError(t, tree.CommitAndPush(ctx, "noop"))
}

func TestLocalTree_FetchMissing(t *testing.T) {
	tree := NewLocalTree(t.TempDir(), "posts")

	_, err := tree.FetchContent(context.Background(), "posts/none.md")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errkind.IsPermanent(err))
}

func TestLocalTree_Delete(t *testing.T) {
	dir := t.TempDir()
	tree := NewLocalTree(dir, "posts")
	ctx := context.Background()

	meta := frontmatter.Metadata{Title: "x", Date: time.Now(), Categories: []string{"a"}, Published: true}
	require.NoError(t, tree.WriteFile(ctx, "posts/a/2024-01-01-x.md", meta, "x"))
	require.NoError(t, tree.DeleteFile(ctx, "posts/a/2024-01-01-x.md"))
	require.NoError(t, tree.DeleteFile(ctx, "posts/a/2024-01-01-x.md"), "deleting twice is fine")

	files, err := tree.ListFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestLocalTree_PathsStayInside(t *testing.T) {
	dir := t.TempDir()
	tree := NewLocalTree(filepath.Join(dir, "backup"), "posts")
	ctx := context.Background()

	meta := frontmatter.Metadata{Title: "x", Date: time.Now(), Categories: []string{"a"}, Published: true}
	require.NoError(t, tree.WriteFile(ctx, "../../escape.md", meta, "x"))

	_, err := os.Stat(filepath.Join(dir, "escape.md"))
	assert.True(t, os.IsNotExist(err), "traversal is clamped to the tree directory")
	_, err = os.Stat(filepath.Join(dir, "backup", "escape.md"))
	assert.NoError(t, err)
}

func TestPostPath(t *testing.T) {
	created := time.Date(2024, 1, 15, 23, 30, 0, 0, time.FixedZone("X", -5*3600))
	tests := []struct {
		name string
		item model.ContentItem
		want string
	}{
		{
			name: "primary category slug",
			item: model.ContentItem{Slug: "hello", CreatedAt: created, Categories: []model.Term{{Name: "Tech News", Slug: "tech-news"}, {Slug: "other"}}},
			want: "posts/tech-news/2024-01-16-hello.md",
		},
		{
			name: "category without slug",
			item: model.ContentItem{Slug: "hello", CreatedAt: created, Categories: []model.Term{{Name: "Tech News"}}},
			want: "posts/tech-news/2024-01-16-hello.md",
		},
		{
			name: "no category",
			item: model.ContentItem{Slug: "hello", CreatedAt: created},
			want: "posts/uncategorized/2024-01-16-hello.md",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PostPath("posts", tt.item))
		})
	}
}

func TestParsePostPath(t *testing.T) {
	created, s, ok := ParsePostPath("posts/tech/2024-01-15-hello-world.md")
	require.True(t, ok)
	assert.Equal(t, "hello-world", s)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), created)

	_, _, ok = ParsePostPath("posts/tech/hello.md")
	assert.False(t, ok)
	_, _, ok = ParsePostPath("posts/tech/2024-13-45-bad-date.md")
	assert.False(t, ok)
}

func TestIsPostFile(t *testing.T) {
	assert.True(t, IsPostFile("posts", "posts/a/b.md"))
	assert.True(t, IsPostFile("posts/", "posts/b.MD"))
	assert.False(t, IsPostFile("posts", "postscript/b.md"))
	assert.False(t, IsPostFile("posts", "posts/a/b.png"))
	assert.True(t, IsPostFile("", "b.md"))
}
