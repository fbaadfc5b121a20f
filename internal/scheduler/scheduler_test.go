// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/postsync/internal/model"
	"github.com/olegiv/postsync/internal/reconcile"
)

// testLogger creates a test logger that discards output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeEngine struct {
	mu       sync.Mutex
	requests []reconcile.Request
	err      error
}

func (f *fakeEngine) Run(_ context.Context, req reconcile.Request) (reconcile.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return reconcile.Result{RunID: "run", Success: f.err == nil}, f.err
}

type fakeKeeper struct {
	unlockAfter time.Duration
	pruneCutoff time.Time
	unlockErr   error
}

func (f *fakeKeeper) ForceUnlock(_ context.Context, olderThan time.Duration) (bool, error) {
	f.unlockAfter = olderThan
	return f.unlockErr == nil, f.unlockErr
}

func (f *fakeKeeper) PruneHistory(_ context.Context, cutoff time.Time) (int64, error) {
	f.pruneCutoff = cutoff
	return 3, nil
}

type fakeEvents struct {
	before time.Time
}

func (f *fakeEvents) DeleteEventsBefore(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return 1, nil
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(&fakeEngine{}, &fakeKeeper{}, &fakeEvents{}, Config{SyncSchedule: "*/15 * * * *"}, testLogger())
	require.NoError(t, s.Start())

	jobs := s.Registry().List()
	require.Len(t, jobs, 2)
	assert.Equal(t, JobMaintenance, jobs[0].Name)
	assert.Equal(t, DefaultMaintenanceSchedule, jobs[0].Schedule)
	assert.Equal(t, JobSync, jobs[1].Name)
	assert.Equal(t, "*/15 * * * *", jobs[1].Schedule)
	assert.False(t, jobs[1].NextRun.IsZero())

	s.Stop()
	s.Stop() // idempotent
}

func TestScheduler_NoSyncScheduleRegistersMaintenanceOnly(t *testing.T) {
	s := New(&fakeEngine{}, &fakeKeeper{}, nil, Config{}, testLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	jobs := s.Registry().List()
	require.Len(t, jobs, 1)
	assert.Equal(t, JobMaintenance, jobs[0].Name)
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := New(&fakeEngine{}, nil, nil, Config{SyncSchedule: "every day"}, testLogger())
	err := s.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduling sync job")
}

func TestScheduler_TriggerSync(t *testing.T) {
	engine := &fakeEngine{}
	s := New(engine, nil, nil, Config{
		SyncSchedule: "@daily",
		Direction:    model.DirectionToLocal,
		Mode:         model.ModeEnhanced,
	}, testLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	require.NoError(t, s.Registry().TriggerNow(JobSync))
	require.Len(t, engine.requests, 1)
	assert.Equal(t, reconcile.Request{Direction: model.DirectionToLocal, Mode: model.ModeEnhanced}, engine.requests[0])
}

func TestScheduler_SyncAlreadyRunningIsNotAnError(t *testing.T) {
	engine := &fakeEngine{err: reconcile.ErrAlreadyRunning}
	s := New(engine, nil, nil, Config{SyncSchedule: "@daily"}, testLogger())
	require.NoError(t, s.runSync(context.Background()))

	engine.err = errors.New("boom")
	assert.Error(t, s.runSync(context.Background()))
}

func TestScheduler_Maintenance(t *testing.T) {
	keeper := &fakeKeeper{}
	events := &fakeEvents{}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	s := New(nil, keeper, events, Config{
		StaleLockAfter:   30 * time.Minute,
		HistoryRetention: 24 * time.Hour,
	}, testLogger())
	s.now = func() time.Time { return now }

	require.NoError(t, s.runMaintenance(context.Background()))
	assert.Equal(t, 30*time.Minute, keeper.unlockAfter)
	assert.Equal(t, now.Add(-24*time.Hour), keeper.pruneCutoff)
	assert.Equal(t, now.Add(-24*time.Hour), events.before)
}

func TestScheduler_MaintenanceContinuesAfterError(t *testing.T) {
	keeper := &fakeKeeper{unlockErr: errors.New("db locked")}
	events := &fakeEvents{}

	s := New(nil, keeper, events, Config{
		StaleLockAfter:   time.Minute,
		HistoryRetention: time.Hour,
	}, testLogger())

	err := s.runMaintenance(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clearing stale lock")
	assert.False(t, keeper.pruneCutoff.IsZero())
	assert.False(t, events.before.IsZero())
}

func TestScheduler_MaintenanceDisabled(t *testing.T) {
	keeper := &fakeKeeper{}
	s := New(nil, keeper, nil, Config{}, testLogger())

	require.NoError(t, s.runMaintenance(context.Background()))
	assert.Zero(t, keeper.unlockAfter)
	assert.True(t, keeper.pruneCutoff.IsZero())
}
