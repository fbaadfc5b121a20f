// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package watch runs from-local synchronizations when the local backup
// tree changes on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/olegiv/postsync/internal/model"
	"github.com/olegiv/postsync/internal/reconcile"
)

// Syncer runs one synchronization.
type Syncer interface {
	Run(ctx context.Context, req reconcile.Request) (reconcile.Result, error)
}

// Watcher watches a directory tree and triggers debounced runs.
type Watcher struct {
	dir      string
	syncer   Syncer
	mode     model.Mode
	debounce DebounceConfig
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
}

// New creates a watcher over dir. Runs use the from-local direction and mode.
func New(dir string, syncer Syncer, mode model.Mode, debounce DebounceConfig, logger *slog.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, reconcile.ErrTargetNotConfigured
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		dir:      dir,
		syncer:   syncer,
		mode:     mode,
		debounce: debounce,
		logger:   logger,
		fsw:      fsw,
	}, nil
}

// Run watches until ctx is cancelled. Changes arriving during a run are
// picked up by the next one.
func (w *Watcher) Run(ctx context.Context) error {
	defer func() { _ = w.fsw.Close() }()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating watch directory: %w", err)
	}
	if err := w.addTree(w.dir); err != nil {
		return err
	}

	d := w.newDebouncer(ctx)
	defer d.Stop()

	w.logger.Info("watching local tree", "dir", w.dir, "mode", w.mode)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("local tree watcher stopped")
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.handle(event) {
				d.Trigger()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

// handle registers new directories and reports whether event is relevant.
func (w *Watcher) handle(event fsnotify.Event) bool {
	if ignored(event.Name) {
		return false
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "dir", event.Name, "error", err)
			}
			return true
		}
	}
	if !strings.EqualFold(filepath.Ext(event.Name), ".md") {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
		event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove)
}

// addTree watches root and every directory below it.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && ignored(p) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watching %s: %w", p, err)
		}
		return nil
	})
}

// newDebouncer returns a debouncer that runs a sync per burst. A burst
// that lands while another run holds the lock is re-armed, so the change
// is picked up once that run finishes.
func (w *Watcher) newDebouncer(ctx context.Context) *Debouncer {
	var d *Debouncer
	d = NewDebouncer(w.debounce, func() {
		if w.sync(ctx) {
			d.Trigger()
		}
	})
	return d
}

// sync runs one from-local synchronization. again is true when the run
// was refused because another one was in progress.
func (w *Watcher) sync(ctx context.Context) (again bool) {
	if ctx.Err() != nil {
		return false
	}
	res, err := w.syncer.Run(ctx, reconcile.Request{Direction: model.DirectionFromLocal, Mode: w.mode})
	switch {
	case errors.Is(err, reconcile.ErrAlreadyRunning):
		w.logger.Info("sync already in progress, retrying watch-triggered run after the debounce interval")
		return true
	case err != nil:
		w.logger.Error("watch-triggered sync failed", "run_id", res.RunID, "error", err)
	default:
		w.logger.Info("watch-triggered sync completed",
			"run_id", res.RunID, "processed", res.Processed, "skipped", res.Skipped, "errors", res.Errors)
	}
	return false
}

// ignored reports hidden entries and temp files left by atomic writes.
func ignored(p string) bool {
	base := filepath.Base(p)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp")
}
