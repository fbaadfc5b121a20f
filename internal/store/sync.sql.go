// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"time"
)

const getSyncStatus = `-- name: GetSyncStatus :one
SELECT id, last_sync_time, sync_in_progress, locked_at, run_id FROM sync_status WHERE id = 1`

func (q *Queries) GetSyncStatus(ctx context.Context) (SyncStatus, error) {
	var i SyncStatus
	err := q.db.QueryRowContext(ctx, getSyncStatus).Scan(
		&i.ID,
		&i.LastSyncTime,
		&i.SyncInProgress,
		&i.LockedAt,
		&i.RunID,
	)
	return i, err
}

const ensureSyncStatus = `-- name: EnsureSyncStatus :exec
INSERT OR IGNORE INTO sync_status (id, sync_in_progress) VALUES (1, 0)`

func (q *Queries) EnsureSyncStatus(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, ensureSyncStatus)
	return err
}

const acquireSyncLock = `-- name: AcquireSyncLock :execrows
UPDATE sync_status SET sync_in_progress = 1, locked_at = ?, run_id = ?
WHERE id = 1 AND sync_in_progress = 0`

// AcquireSyncLock flips the lock only if it is free. It returns the number
// of rows changed: 1 when the lock was taken, 0 when already held.
func (q *Queries) AcquireSyncLock(ctx context.Context, lockedAt time.Time, runID string) (int64, error) {
	result, err := q.db.ExecContext(ctx, acquireSyncLock, lockedAt, runID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const releaseSyncLock = `-- name: ReleaseSyncLock :execrows
UPDATE sync_status SET sync_in_progress = 0, locked_at = NULL, run_id = '', last_sync_time = ?
WHERE id = 1 AND run_id = ?`

func (q *Queries) ReleaseSyncLock(ctx context.Context, lastSync time.Time, runID string) (int64, error) {
	result, err := q.db.ExecContext(ctx, releaseSyncLock, lastSync, runID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const forceReleaseSyncLock = `-- name: ForceReleaseSyncLock :execrows
UPDATE sync_status SET sync_in_progress = 0, locked_at = NULL, run_id = ''
WHERE id = 1 AND sync_in_progress = 1`

func (q *Queries) ForceReleaseSyncLock(ctx context.Context) (int64, error) {
	result, err := q.db.ExecContext(ctx, forceReleaseSyncLock)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const syncRunColumns = `id, direction, mode, state, started_at, completed_at, processed, skipped, error_count, failure`

func scanSyncRun(row interface{ Scan(...any) error }) (SyncRun, error) {
	var i SyncRun
	err := row.Scan(
		&i.ID,
		&i.Direction,
		&i.Mode,
		&i.State,
		&i.StartedAt,
		&i.CompletedAt,
		&i.Processed,
		&i.Skipped,
		&i.ErrorCount,
		&i.Failure,
	)
	return i, err
}

const createSyncRun = `-- name: CreateSyncRun :exec
INSERT INTO sync_runs (id, direction, mode, state, started_at) VALUES (?, ?, ?, ?, ?)`

type CreateSyncRunParams struct {
	ID        string    `json:"id"`
	Direction string    `json:"direction"`
	Mode      string    `json:"mode"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

func (q *Queries) CreateSyncRun(ctx context.Context, arg CreateSyncRunParams) error {
	_, err := q.db.ExecContext(ctx, createSyncRun, arg.ID, arg.Direction, arg.Mode, arg.State, arg.StartedAt)
	return err
}

const finishSyncRun = `-- name: FinishSyncRun :exec
UPDATE sync_runs
SET state = ?, completed_at = ?, processed = ?, skipped = ?, error_count = ?, failure = ?
WHERE id = ?`

type FinishSyncRunParams struct {
	State       string       `json:"state"`
	CompletedAt sql.NullTime `json:"completed_at"`
	Processed   int64        `json:"processed"`
	Skipped     int64        `json:"skipped"`
	ErrorCount  int64        `json:"error_count"`
	Failure     string       `json:"failure"`
	ID          string       `json:"id"`
}

func (q *Queries) FinishSyncRun(ctx context.Context, arg FinishSyncRunParams) error {
	_, err := q.db.ExecContext(ctx, finishSyncRun,
		arg.State,
		arg.CompletedAt,
		arg.Processed,
		arg.Skipped,
		arg.ErrorCount,
		arg.Failure,
		arg.ID,
	)
	return err
}

const getSyncRun = `-- name: GetSyncRun :one
SELECT ` + syncRunColumns + ` FROM sync_runs WHERE id = ?`

func (q *Queries) GetSyncRun(ctx context.Context, id string) (SyncRun, error) {
	return scanSyncRun(q.db.QueryRowContext(ctx, getSyncRun, id))
}

const getLastFinishedSyncRun = `-- name: GetLastFinishedSyncRun :one
SELECT ` + syncRunColumns + ` FROM sync_runs
WHERE completed_at IS NOT NULL
ORDER BY completed_at DESC LIMIT 1`

func (q *Queries) GetLastFinishedSyncRun(ctx context.Context) (SyncRun, error) {
	return scanSyncRun(q.db.QueryRowContext(ctx, getLastFinishedSyncRun))
}

const listSyncRuns = `-- name: ListSyncRuns :many
SELECT ` + syncRunColumns + ` FROM sync_runs ORDER BY started_at DESC LIMIT ?`

func (q *Queries) ListSyncRuns(ctx context.Context, limit int64) ([]SyncRun, error) {
	rows, err := q.db.QueryContext(ctx, listSyncRuns, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []SyncRun
	for rows.Next() {
		i, err := scanSyncRun(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const createSyncRunError = `-- name: CreateSyncRunError :exec
INSERT INTO sync_run_errors (run_id, item, message, kind, recoverable) VALUES (?, ?, ?, ?, ?)`

type CreateSyncRunErrorParams struct {
	RunID       string `json:"run_id"`
	Item        string `json:"item"`
	Message     string `json:"message"`
	Kind        string `json:"kind"`
	Recoverable bool   `json:"recoverable"`
}

func (q *Queries) CreateSyncRunError(ctx context.Context, arg CreateSyncRunErrorParams) error {
	_, err := q.db.ExecContext(ctx, createSyncRunError, arg.RunID, arg.Item, arg.Message, arg.Kind, arg.Recoverable)
	return err
}

const listSyncRunErrors = `-- name: ListSyncRunErrors :many
SELECT id, run_id, item, message, kind, recoverable FROM sync_run_errors WHERE run_id = ? ORDER BY id`

func (q *Queries) ListSyncRunErrors(ctx context.Context, runID string) ([]SyncRunError, error) {
	rows, err := q.db.QueryContext(ctx, listSyncRunErrors, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []SyncRunError
	for rows.Next() {
		var i SyncRunError
		if err := rows.Scan(&i.ID, &i.RunID, &i.Item, &i.Message, &i.Kind, &i.Recoverable); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const deleteSyncRunsBefore = `-- name: DeleteSyncRunsBefore :execrows
DELETE FROM sync_runs WHERE started_at < ? AND completed_at IS NOT NULL`

func (q *Queries) DeleteSyncRunsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteSyncRunsBefore, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
