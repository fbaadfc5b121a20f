// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/postsync/internal/errkind"
	"github.com/olegiv/postsync/internal/frontmatter"
	"github.com/olegiv/postsync/internal/testutil"
)

const helloPost = "---\ntitle: \"Hello\"\ndate: \"2024-01-15T00:00:00Z\"\ncategories:\n  - \"tech\"\ntags: []\n---\n\nHi\n"

func newTestTree(t *testing.T, srvURL string) *GitHubTree {
	t.Helper()
	tree, err := NewGitHubTree(GitHubConfig{
		Token:     "test-token",
		Owner:     "owner",
		Repo:      "repo",
		APIURL:    srvURL,
		PostsRoot: "posts",
		Timeout:   2 * time.Second,
		RateLimit: 1000,
	}, nil, testutil.TestLoggerSilent())
	require.NoError(t, err)
	return tree
}

func seedFiles() map[string]string {
	return map[string]string{
		"README.md":                        "# repo",
		"drafts/2024-01-01-draft.md":       "draft",
		"posts/tech/2024-01-15-hello.md":   helloPost,
		"posts/life/2023-12-31-old.md":     "---\ntitle: Old\n---\n\nold",
		"posts/tech/images/diagram.png":    "png",
		"posts/tech/2024-02-01-another.md": "---\ntitle: Another\n---\n\nx",
	}
}

func TestNewGitHubTree_RequiresConfig(t *testing.T) {
	_, err := NewGitHubTree(GitHubConfig{Owner: "o", Repo: "r"}, nil, nil)
	assert.Error(t, err)
	_, err = NewGitHubTree(GitHubConfig{Token: "x"}, nil, nil)
	assert.Error(t, err)
}

func TestGitHubTree_ListFiles(t *testing.T) {
	_, srv := newFakeGit(t, seedFiles())
	tree := newTestTree(t, srv.URL)

	files, err := tree.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"posts/life/2023-12-31-old.md",
		"posts/tech/2024-01-15-hello.md",
		"posts/tech/2024-02-01-another.md",
	}, files)
}

func TestGitHubTree_FetchContentCachesBlobs(t *testing.T) {
	fake, srv := newFakeGit(t, seedFiles())
	tree := newTestTree(t, srv.URL)
	ctx := context.Background()

	got, err := tree.FetchContent(ctx, "posts/tech/2024-01-15-hello.md")
	require.NoError(t, err)
	assert.Equal(t, helloPost, got)

	_, err = tree.FetchContent(ctx, "posts/tech/2024-01-15-hello.md")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.count("blob-get"))
}

func TestGitHubTree_FetchContentNotFound(t *testing.T) {
	_, srv := newFakeGit(t, seedFiles())
	tree := newTestTree(t, srv.URL)

	_, err := tree.FetchContent(context.Background(), "posts/tech/missing.md")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errkind.IsPermanent(err))
}

func TestGitHubTree_WriteAndPush(t *testing.T) {
	fake, srv := newFakeGit(t, seedFiles())
	tree := newTestTree(t, srv.URL)
	ctx := context.Background()

	_, err := tree.ListFiles(ctx)
	require.NoError(t, err)

	meta := frontmatter.Metadata{
		Title:      "New Post",
		Date:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Categories: []string{"Tech"},
		Tags:       []string{},
		Published:  true,
	}
	require.NoError(t, tree.WriteFile(ctx, "posts/tech/2024-03-01-new-post.md", meta, "Body\n"))
	require.NoError(t, tree.DeleteFile(ctx, "posts/life/2023-12-31-old.md"))
	assert.Equal(t, 2, tree.Pending())

	staged, err := tree.FetchContent(ctx, "posts/tech/2024-03-01-new-post.md")
	require.NoError(t, err)
	assert.Contains(t, staged, "title: \"New Post\"")

	listed, err := tree.ListFiles(ctx)
	require.NoError(t, err)
	assert.Contains(t, listed, "posts/tech/2024-03-01-new-post.md")
	assert.NotContains(t, listed, "posts/life/2023-12-31-old.md")

	require.NoError(t, tree.CommitAndPush(ctx, "sync: 1 post"))
	assert.Equal(t, 0, tree.Pending())

	remoteFiles := fake.files()
	assert.Contains(t, remoteFiles["posts/tech/2024-03-01-new-post.md"], "Body\n")
	assert.NotContains(t, remoteFiles, "posts/life/2023-12-31-old.md")
	assert.Contains(t, remoteFiles, "README.md", "files outside the posts root are untouched")

	require.NoError(t, tree.CommitAndPush(ctx, "nothing"), "empty push is a no-op")
	assert.Equal(t, 1, fake.count("ref-update"))
}

func TestGitHubTree_WriteUnchangedSkipsUpload(t *testing.T) {
	fake, srv := newFakeGit(t, seedFiles())
	tree := newTestTree(t, srv.URL)
	ctx := context.Background()

	_, err := tree.ListFiles(ctx)
	require.NoError(t, err)

	doc, err := frontmatter.Parse(helloPost, time.Now())
	require.NoError(t, err)
	require.NoError(t, tree.WriteFile(ctx, "posts/tech/2024-01-15-hello.md", doc.Meta, doc.Body))

	assert.Equal(t, 0, fake.count("blob-post"))
	assert.Equal(t, 0, tree.Pending())
}

func TestGitHubTree_RejectedFastForwardIsTransient(t *testing.T) {
	fake, srv := newFakeGit(t, seedFiles())
	tree := newTestTree(t, srv.URL)
	ctx := context.Background()
	fake.rejectRefUpdates = 1

	meta := frontmatter.Metadata{Title: "T", Date: time.Now(), Categories: []string{"tech"}, Published: true}
	require.NoError(t, tree.WriteFile(ctx, "posts/tech/2024-03-01-t.md", meta, "x"))

	err := tree.CommitAndPush(ctx, "first try")
	require.Error(t, err)
	assert.True(t, errkind.IsTransient(err))
	assert.Equal(t, 1, tree.Pending(), "staged changes survive a failed push")

	require.NoError(t, tree.CommitAndPush(ctx, "second try"))
	assert.Contains(t, fake.files(), "posts/tech/2024-03-01-t.md")
}

func TestGitHubTree_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		headers   map[string]string
		transient bool
	}{
		{"server error", http.StatusBadGateway, nil, true},
		{"rate limited", http.StatusTooManyRequests, nil, true},
		{"primary rate limit", http.StatusForbidden, map[string]string{"X-RateLimit-Remaining": "0"}, true},
		{"forbidden", http.StatusForbidden, nil, false},
		{"validation", http.StatusUnprocessableEntity, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, srv := newFakeGit(t, seedFiles())
			fake.failStatus = tt.status
			fake.failHeaders = tt.headers
			tree := newTestTree(t, srv.URL)

			_, err := tree.ListFiles(context.Background())
			require.Error(t, err)
			assert.Equal(t, tt.transient, errkind.IsTransient(err), "err: %v", err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
		})
	}
}

func TestGitHubTree_BadCredentials(t *testing.T) {
	fake, srv := newFakeGit(t, seedFiles())
	fake.token = "other"
	tree := newTestTree(t, srv.URL)

	_, err := tree.ListFiles(context.Background())
	require.Error(t, err)
	assert.True(t, errkind.IsPermanent(err))
	assert.Contains(t, err.Error(), "Bad credentials")
}

func TestGitHubTree_TimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	tree, err := NewGitHubTree(GitHubConfig{
		Token: "x", Owner: "owner", Repo: "repo", APIURL: srv.URL, Timeout: 20 * time.Millisecond,
	}, nil, testutil.TestLoggerSilent())
	require.NoError(t, err)

	_, err = tree.ListFiles(context.Background())
	require.Error(t, err)
	assert.True(t, errkind.IsTransient(err))
}

func TestGitBlobSHA(t *testing.T) {
	// Matches `printf 'hello\n' | git hash-object --stdin`.
	assert.Equal(t, "ce013625030ba8dba906f756967f9e9ca394464a", gitBlobSHA("hello\n"))
}
