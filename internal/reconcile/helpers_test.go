// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package reconcile

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/olegiv/postsync/internal/frontmatter"
	"github.com/olegiv/postsync/internal/model"
	"github.com/olegiv/postsync/internal/remote"
	"github.com/olegiv/postsync/internal/retry"
	"github.com/olegiv/postsync/internal/status"
	"github.com/olegiv/postsync/internal/store"
	"github.com/olegiv/postsync/internal/testutil"
)

var testPolicy = retry.Policy{
	MaxRetries:    2,
	InitialDelay:  time.Millisecond,
	BackoffFactor: 2,
	MaxDelay:      5 * time.Millisecond,
}

type testEnv struct {
	db        *sql.DB
	repo      *store.ContentRepository
	tracker   *status.Tracker
	remoteDir string
	localDir  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, cleanup := testutil.TestDB(t)
	t.Cleanup(cleanup)
	repo := store.NewContentRepository(db)
	return &testEnv{
		db:        db,
		repo:      repo,
		tracker:   status.NewTracker(db, repo, testutil.TestLoggerSilent()),
		remoteDir: t.TempDir(),
		localDir:  t.TempDir(),
	}
}

func (e *testEnv) remoteTree() *remote.LocalTree {
	return remote.NewLocalTree(e.remoteDir, remote.DefaultPostsRoot)
}

func (e *testEnv) localTree() *remote.LocalTree {
	return remote.NewLocalTree(e.localDir, remote.DefaultPostsRoot)
}

// engine builds an engine over the env. Nil trees default to the env's
// directories; pass noTree to leave one unconfigured.
func (e *testEnv) engine(remoteT, localT remote.Tree) *Engine {
	if remoteT == nil {
		remoteT = e.remoteTree()
	}
	if localT == nil {
		localT = e.localTree()
	}
	if remoteT == noTree {
		remoteT = nil
	}
	if localT == noTree {
		localT = nil
	}
	return NewEngine(e.repo, e.tracker, Options{
		Remote:           remoteT,
		Local:            localT,
		Retry:            testPolicy,
		FetchConcurrency: 2,
		Logger:           testutil.TestLoggerSilent(),
	})
}

// noTree marks a tree as not configured in testEnv.engine.
var noTree remote.Tree = &flakyTree{}

func (e *testEnv) addPost(t *testing.T, s, title, category string, created time.Time) model.ContentItem {
	t.Helper()
	saved, err := e.repo.Upsert(context.Background(), model.ContentItem{
		Slug:       s,
		Title:      title,
		Body:       "Body of " + title + "\n",
		Published:  true,
		Categories: []model.Term{{Name: category}},
		Tags:       []model.Term{{Name: "notes"}},
		CreatedAt:  created,
		UpdatedAt:  created,
	})
	require.NoError(t, err)
	return saved
}

func writeTreeFile(t *testing.T, dir, rel, text string) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(text), 0o644))
}

func readTreeFile(t *testing.T, dir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func listTree(t *testing.T, tree remote.Tree) []string {
	t.Helper()
	files, err := tree.ListFiles(context.Background())
	require.NoError(t, err)
	return files
}

// failure makes calls touching paths that contain match fail with err.
// times < 0 fails forever.
type failure struct {
	match string
	err   error
	times int
}

// flakyTree wraps a Tree and injects failures.
type flakyTree struct {
	remote.Tree

	mu       sync.Mutex
	writes   []failure
	fetches  []failure
	listErr  error
	attempts map[string]int
	onWrite  func(p string)
}

func newFlakyTree(inner remote.Tree) *flakyTree {
	return &flakyTree{Tree: inner, attempts: map[string]int{}}
}

func (f *flakyTree) inject(rules []failure, p string) error {
	for i := range rules {
		r := &rules[i]
		if !strings.Contains(p, r.match) || r.times == 0 {
			continue
		}
		if r.times > 0 {
			r.times--
		}
		return r.err
	}
	return nil
}

func (f *flakyTree) ListFiles(ctx context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Tree.ListFiles(ctx)
}

func (f *flakyTree) FetchContent(ctx context.Context, p string) (string, error) {
	f.mu.Lock()
	err := f.inject(f.fetches, p)
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return f.Tree.FetchContent(ctx, p)
}

func (f *flakyTree) WriteFile(ctx context.Context, p string, meta frontmatter.Metadata, body string) error {
	f.mu.Lock()
	f.attempts[p]++
	err := f.inject(f.writes, p)
	hook := f.onWrite
	f.mu.Unlock()
	if hook != nil {
		hook(p)
	}
	if err != nil {
		return err
	}
	return f.Tree.WriteFile(ctx, p, meta, body)
}

func (f *flakyTree) attemptsFor(match string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for p, c := range f.attempts {
		if strings.Contains(p, match) {
			n += c
		}
	}
	return n
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.UTC)
}
