// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package remote

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/olegiv/postsync/internal/errkind"
	"github.com/olegiv/postsync/internal/frontmatter"
)

// LocalTree is a Tree over a directory on disk. Writes are applied
// immediately and atomically; CommitAndPush has nothing to publish.
type LocalTree struct {
	dir  string
	root string
	mu   sync.Mutex
}

// NewLocalTree returns a tree rooted at dir. Posts are listed below root,
// a slash-separated path relative to dir.
func NewLocalTree(dir, root string) *LocalTree {
	return &LocalTree{dir: dir, root: root}
}

// Dir returns the directory the tree is stored in.
func (t *LocalTree) Dir() string {
	return t.dir
}

// ListFiles walks the posts root with an explicit worklist and returns
// slash-separated paths relative to the tree directory.
func (t *LocalTree) ListFiles(ctx context.Context) ([]string, error) {
	start, err := t.resolve(t.root)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(start); errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}

	var files []string
	pending := []string{start}
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, errkind.New(errkind.Transient, "list local files", err)
		}
		for _, e := range entries {
			full := filepath.Join(dir, e.Name())
			if strings.HasPrefix(e.Name(), ".") {
				continue
			}
			if e.IsDir() {
				pending = append(pending, full)
				continue
			}
			rel, err := filepath.Rel(t.dir, full)
			if err != nil {
				return nil, err
			}
			rel = filepath.ToSlash(rel)
			if IsPostFile(t.root, rel) {
				files = append(files, rel)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// FetchContent reads a file relative to the tree directory.
func (t *LocalTree) FetchContent(_ context.Context, p string) (string, error) {
	full, err := t.resolve(p)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return "", errkind.NewItem(errkind.Permanent, "fetch local file", p, ErrNotFound)
	}
	if err != nil {
		return "", errkind.NewItem(errkind.Transient, "fetch local file", p, err)
	}
	return string(data), nil
}

// WriteFile renders the post and replaces the file atomically.
func (t *LocalTree) WriteFile(_ context.Context, p string, meta frontmatter.Metadata, body string) error {
	content, err := frontmatter.Render(meta, body)
	if err != nil {
		return errkind.NewItem(errkind.Permanent, "render post", p, err)
	}
	full, err := t.resolve(p)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := writeAtomic(full, []byte(content)); err != nil {
		return errkind.NewItem(errkind.Transient, "write local file", p, err)
	}
	return nil
}

// DeleteFile removes a file. Missing files are ignored.
func (t *LocalTree) DeleteFile(_ context.Context, p string) error {
	full, err := t.resolve(p)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errkind.NewItem(errkind.Transient, "delete local file", p, err)
	}
	return nil
}

// CommitAndPush is a no-op: local writes are durable when they return.
func (t *LocalTree) CommitAndPush(context.Context, string) error {
	return nil
}

// resolve maps a slash-separated tree path to a file path inside the
// tree directory, rejecting traversal outside it.
func (t *LocalTree) resolve(p string) (string, error) {
	clean := path.Clean("/" + p)
	full := filepath.Join(t.dir, filepath.FromSlash(clean))

	absBase, err := filepath.Abs(t.dir)
	if err != nil {
		return "", errkind.NewItem(errkind.Permanent, "resolve path", p, err)
	}
	absFull, err := filepath.Abs(full)
	if err != nil {
		return "", errkind.NewItem(errkind.Permanent, "resolve path", p, err)
	}
	if absFull != absBase && !strings.HasPrefix(absFull, absBase+string(filepath.Separator)) {
		return "", errkind.NewItem(errkind.Permanent, "resolve path", p, fmt.Errorf("path escapes tree directory"))
	}
	return full, nil
}

// writeAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeAtomic(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".postsync-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, target)
}

var _ Tree = (*LocalTree)(nil)
