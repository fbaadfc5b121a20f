// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package status owns the run lock and the history of synchronization runs.
package status

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/olegiv/postsync/internal/errkind"
	"github.com/olegiv/postsync/internal/model"
	"github.com/olegiv/postsync/internal/store"
)

// ErrAlreadyRunning is returned by Begin while another run holds the lock.
var ErrAlreadyRunning = errors.New("sync already in progress")

// finishTimeout bounds the bookkeeping done when a run ends.
const finishTimeout = 10 * time.Second

// Report values of Status.
const (
	StatusIdle    = "idle"
	StatusSyncing = "syncing"
	StatusError   = "error"
	StatusSuccess = "success"
)

// PendingCounter counts content changed after a point in time.
type PendingCounter interface {
	CountUpdatedSince(ctx context.Context, since time.Time) (int64, error)
}

// Report summarizes the synchronization state for callers.
type Report struct {
	Status            string     `json:"status"`
	LastSync          *time.Time `json:"lastSync"`
	PendingOperations int64      `json:"pendingOperations"`
	CurrentRunID      string     `json:"currentRunId,omitempty"`
	LockedAt          *time.Time `json:"lockedAt,omitempty"`
}

// Tracker guards the single-run lock stored in sync_status and records
// every run with its item errors.
type Tracker struct {
	db      *sql.DB
	queries *store.Queries
	pending PendingCounter
	logger  *slog.Logger
	now     func() time.Time
}

// NewTracker creates a Tracker. pending may be nil, in which case Status
// reports zero pending operations.
func NewTracker(db *sql.DB, pending PendingCounter, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		db:      db,
		queries: store.New(db),
		pending: pending,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Begin takes the run lock with a compare-and-swap and records a new run.
// When the lock is held it returns ErrAlreadyRunning without side effects.
func (t *Tracker) Begin(ctx context.Context, dir model.Direction, mode model.Mode) (*model.SyncRun, error) {
	run := &model.SyncRun{
		ID:        uuid.NewString(),
		Direction: dir,
		Mode:      mode,
		State:     model.RunStateRunning,
		StartedAt: t.now(),
	}

	n, err := t.queries.AcquireSyncLock(ctx, run.StartedAt, run.ID)
	if err != nil {
		return nil, errkind.New(errkind.Transient, "acquire sync lock", err)
	}
	if n == 0 {
		return nil, ErrAlreadyRunning
	}

	if err := t.queries.CreateSyncRun(ctx, store.CreateSyncRunParams{
		ID:        run.ID,
		Direction: string(run.Direction),
		Mode:      string(run.Mode),
		State:     string(run.State),
		StartedAt: run.StartedAt,
	}); err != nil {
		if _, relErr := t.queries.ForceReleaseSyncLock(context.WithoutCancel(ctx)); relErr != nil {
			t.logger.Error("failed to release sync lock", "error", relErr, "run_id", run.ID)
		}
		return nil, errkind.New(errkind.Transient, "record sync run", err)
	}

	t.logger.Info("sync started", "run_id", run.ID, "direction", dir, "mode", mode)
	return run, nil
}

// Finish persists the outcome of run, releases the lock and stamps the
// last sync time. It uses its own context so a cancelled caller never
// leaves the lock held.
func (t *Tracker) Finish(run *model.SyncRun) error {
	ctx, cancel := context.WithTimeout(context.Background(), finishTimeout)
	defer cancel()

	now := t.now()
	run.CompletedAt = &now
	if run.State == model.RunStateRunning || run.State == "" {
		run.State = model.RunStateCompleted
	}

	err := t.persist(ctx, run, now)
	if err != nil {
		t.logger.Error("failed to record sync run", "error", err, "run_id", run.ID)
		if _, relErr := t.queries.ReleaseSyncLock(ctx, now, run.ID); relErr != nil {
			return fmt.Errorf("releasing sync lock: %w", errors.Join(err, relErr))
		}
	}

	level := slog.LevelInfo
	if run.State == model.RunStateFailed {
		level = slog.LevelError
	} else if run.ErrorCount() > 0 {
		level = slog.LevelWarn
	}
	t.logger.Log(ctx, level, "sync finished",
		"category", model.EventCategorySync,
		"run_id", run.ID,
		"direction", run.Direction,
		"state", run.State,
		"processed", run.Processed,
		"skipped", run.Skipped,
		"errors", run.ErrorCount(),
		"duration", now.Sub(run.StartedAt).Round(time.Millisecond).String(),
	)
	return err
}

func (t *Tracker) persist(ctx context.Context, run *model.SyncRun, now time.Time) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	q := t.queries.WithTx(tx)
	if err := q.FinishSyncRun(ctx, store.FinishSyncRunParams{
		State:       string(run.State),
		CompletedAt: sql.NullTime{Time: now, Valid: true},
		Processed:   int64(run.Processed),
		Skipped:     int64(run.Skipped),
		ErrorCount:  int64(run.ErrorCount()),
		Failure:     run.Failure,
		ID:          run.ID,
	}); err != nil {
		return err
	}
	for _, e := range run.Errors {
		if err := q.CreateSyncRunError(ctx, store.CreateSyncRunErrorParams{
			RunID:       run.ID,
			Item:        e.Item,
			Message:     e.Message,
			Kind:        e.Kind,
			Recoverable: e.Recoverable,
		}); err != nil {
			return err
		}
	}
	if _, err := q.ReleaseSyncLock(ctx, now, run.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// Status reports whether a run is active and how the last one ended.
func (t *Tracker) Status(ctx context.Context) (Report, error) {
	st, err := t.queries.GetSyncStatus(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("reading sync status: %w", err)
	}

	report := Report{Status: StatusIdle}
	var since time.Time
	if st.LastSyncTime.Valid {
		last := st.LastSyncTime.Time.UTC()
		report.LastSync = &last
		since = last
	}

	switch {
	case st.SyncInProgress:
		report.Status = StatusSyncing
		report.CurrentRunID = st.RunID
		if st.LockedAt.Valid {
			locked := st.LockedAt.Time.UTC()
			report.LockedAt = &locked
		}
	default:
		last, err := t.queries.GetLastFinishedSyncRun(ctx)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return Report{}, fmt.Errorf("reading last run: %w", err)
		case last.State == string(model.RunStateFailed) || last.ErrorCount > 0:
			report.Status = StatusError
		default:
			report.Status = StatusSuccess
		}
	}

	if t.pending != nil {
		n, err := t.pending.CountUpdatedSince(ctx, since)
		if err != nil {
			return Report{}, fmt.Errorf("counting pending changes: %w", err)
		}
		report.PendingOperations = n
	}
	return report, nil
}

// Recent returns up to limit runs, newest first, with their item errors.
func (t *Tracker) Recent(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := t.queries.ListSyncRuns(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	runs := make([]model.SyncRun, 0, len(rows))
	for _, row := range rows {
		run, err := t.toRun(ctx, row)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// Get returns one run by id.
func (t *Tracker) Get(ctx context.Context, id string) (model.SyncRun, error) {
	row, err := t.queries.GetSyncRun(ctx, id)
	if err != nil {
		return model.SyncRun{}, fmt.Errorf("reading run %s: %w", id, err)
	}
	return t.toRun(ctx, row)
}

// ForceUnlock clears a lock that has been held longer than olderThan and
// marks the abandoned run failed. A zero olderThan clears any lock. It
// reports whether a lock was cleared.
func (t *Tracker) ForceUnlock(ctx context.Context, olderThan time.Duration) (bool, error) {
	st, err := t.queries.GetSyncStatus(ctx)
	if err != nil {
		return false, fmt.Errorf("reading sync status: %w", err)
	}
	if !st.SyncInProgress {
		return false, nil
	}
	if olderThan > 0 && st.LockedAt.Valid && t.now().Sub(st.LockedAt.Time) < olderThan {
		return false, nil
	}

	if st.RunID != "" {
		now := t.now()
		if err := t.queries.FinishSyncRun(ctx, store.FinishSyncRunParams{
			State:       string(model.RunStateFailed),
			CompletedAt: sql.NullTime{Time: now, Valid: true},
			Failure:     "abandoned: lock cleared by operator",
			ID:          st.RunID,
		}); err != nil {
			return false, fmt.Errorf("closing abandoned run: %w", err)
		}
	}
	n, err := t.queries.ForceReleaseSyncLock(ctx)
	if err != nil {
		return false, fmt.Errorf("releasing sync lock: %w", err)
	}
	if n > 0 {
		t.logger.Warn("cleared stale sync lock", "category", model.EventCategorySync, "run_id", st.RunID)
	}
	return n > 0, nil
}

// PruneHistory deletes finished runs started before cutoff.
func (t *Tracker) PruneHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := t.queries.DeleteSyncRunsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning run history: %w", err)
	}
	return n, nil
}

func (t *Tracker) toRun(ctx context.Context, row store.SyncRun) (model.SyncRun, error) {
	run := model.SyncRun{
		ID:        row.ID,
		Direction: model.Direction(row.Direction),
		Mode:      model.Mode(row.Mode),
		State:     model.RunState(row.State),
		StartedAt: row.StartedAt.UTC(),
		Processed: int(row.Processed),
		Skipped:   int(row.Skipped),
		Failure:   row.Failure,
	}
	if row.CompletedAt.Valid {
		c := row.CompletedAt.Time.UTC()
		run.CompletedAt = &c
	}
	if row.ErrorCount == 0 {
		return run, nil
	}
	errs, err := t.queries.ListSyncRunErrors(ctx, row.ID)
	if err != nil {
		return model.SyncRun{}, fmt.Errorf("listing errors of run %s: %w", row.ID, err)
	}
	for _, e := range errs {
		run.Errors = append(run.Errors, model.ItemError{
			Item:        e.Item,
			Message:     e.Message,
			Kind:        e.Kind,
			Recoverable: e.Recoverable,
		})
	}
	return run, nil
}
