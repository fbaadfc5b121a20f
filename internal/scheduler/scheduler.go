// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package scheduler runs periodic synchronization and housekeeping jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/olegiv/postsync/internal/model"
	"github.com/olegiv/postsync/internal/reconcile"
)

// Job names.
const (
	JobSync        = "sync"
	JobMaintenance = "maintenance"
)

// DefaultMaintenanceSchedule runs housekeeping at the top of every hour.
const DefaultMaintenanceSchedule = "@hourly"

// SyncRunner runs one synchronization.
type SyncRunner interface {
	Run(ctx context.Context, req reconcile.Request) (reconcile.Result, error)
}

// RunKeeper clears stale locks and prunes run history.
type RunKeeper interface {
	ForceUnlock(ctx context.Context, olderThan time.Duration) (bool, error)
	PruneHistory(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventPruner deletes old event log entries.
type EventPruner interface {
	DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error)
}

// Config configures the jobs a Scheduler runs.
type Config struct {
	// SyncSchedule is a cron spec for the sync job. Empty disables it.
	SyncSchedule string
	Direction    model.Direction
	Mode         model.Mode

	// MaintenanceSchedule defaults to DefaultMaintenanceSchedule.
	MaintenanceSchedule string
	// StaleLockAfter is how long a lock may be held before it is cleared.
	// Zero disables stale lock recovery.
	StaleLockAfter time.Duration
	// HistoryRetention is how long runs and events are kept. Zero keeps them forever.
	HistoryRetention time.Duration
}

// Scheduler handles scheduled sync and maintenance jobs.
type Scheduler struct {
	cron     *cron.Cron
	registry *Registry
	engine   SyncRunner
	keeper   RunKeeper
	events   EventPruner
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// New creates a new scheduler instance. Overlapping runs of the same job
// are skipped.
func New(engine SyncRunner, keeper RunKeeper, events EventPruner, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.MaintenanceSchedule == "" {
		cfg.MaintenanceSchedule = DefaultMaintenanceSchedule
	}
	if cfg.Direction == "" {
		cfg.Direction = model.DirectionBidirectional
	}
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		registry: NewRegistry(logger),
		engine:   engine,
		keeper:   keeper,
		events:   events,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry returns the job registry.
func (s *Scheduler) Registry() *Registry {
	return s.registry
}

// Start registers the configured jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if s.cfg.SyncSchedule != "" && s.engine != nil {
		if err := s.add(JobSync, "Synchronize posts ("+string(s.cfg.Direction)+")",
			s.cfg.SyncSchedule, s.runSync); err != nil {
			return err
		}
	}
	if s.keeper != nil || s.events != nil {
		if err := s.add(JobMaintenance, "Clear stale locks and prune history",
			s.cfg.MaintenanceSchedule, s.runMaintenance); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
	return nil
}

// add schedules fn and registers it for listing and manual triggers.
func (s *Scheduler) add(name, description, spec string, fn func(context.Context) error) error {
	job := cron.FuncJob(func() {
		if err := fn(s.ctx); err != nil {
			s.logger.Error("scheduled job failed", "category", model.EventCategorySync, "job", name, "error", err)
		}
	})
	id, err := s.cron.AddJob(spec, job)
	if err != nil {
		return fmt.Errorf("scheduling %s job with %q: %w", name, spec, err)
	}
	s.registry.Register(name, description, spec, s.cron, id, job, func() error { return fn(s.ctx) })
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		s.cancel()
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.logger.Info("scheduler stopped")
	})
}

// runSync runs the configured sync. A held lock is not an error.
func (s *Scheduler) runSync(ctx context.Context) error {
	res, err := s.engine.Run(ctx, reconcile.Request{Direction: s.cfg.Direction, Mode: s.cfg.Mode})
	if errors.Is(err, reconcile.ErrAlreadyRunning) {
		s.logger.Info("scheduled sync skipped: already running", "category", model.EventCategorySync)
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("scheduled sync finished", "category", model.EventCategorySync,
		"run_id", res.RunID, "processed", res.Processed, "skipped", res.Skipped, "errors", res.Errors)
	return nil
}

// runMaintenance clears a stale lock and prunes history older than the
// retention window. Every step runs even if an earlier one fails.
func (s *Scheduler) runMaintenance(ctx context.Context) error {
	var errs []error

	if s.keeper != nil && s.cfg.StaleLockAfter > 0 {
		if _, err := s.keeper.ForceUnlock(ctx, s.cfg.StaleLockAfter); err != nil {
			errs = append(errs, fmt.Errorf("clearing stale lock: %w", err))
		}
	}

	if s.cfg.HistoryRetention > 0 {
		cutoff := s.now().Add(-s.cfg.HistoryRetention)
		if s.keeper != nil {
			n, err := s.keeper.PruneHistory(ctx, cutoff)
			if err != nil {
				errs = append(errs, err)
			} else if n > 0 {
				s.logger.Info("pruned sync history", "category", model.EventCategorySync, "runs", n)
			}
		}
		if s.events != nil {
			n, err := s.events.DeleteEventsBefore(ctx, cutoff)
			if err != nil {
				errs = append(errs, fmt.Errorf("pruning events: %w", err))
			} else if n > 0 {
				s.logger.Info("pruned event log", "category", model.EventCategorySystem, "events", n)
			}
		}
	}

	return errors.Join(errs...)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
