// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package reconcile moves posts between the content database, the remote
// repository tree and the local backup directory.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/olegiv/postsync/internal/errkind"
	"github.com/olegiv/postsync/internal/model"
	"github.com/olegiv/postsync/internal/remote"
	"github.com/olegiv/postsync/internal/retry"
	"github.com/olegiv/postsync/internal/slug"
	"github.com/olegiv/postsync/internal/status"
)

// ErrAlreadyRunning is returned when another run holds the lock.
var ErrAlreadyRunning = status.ErrAlreadyRunning

// ErrTargetNotConfigured is returned when a direction needs a tree that
// was not configured.
var ErrTargetNotConfigured = errors.New("sync target not configured")

// DefaultFetchConcurrency bounds parallel file reads during pull phases.
const DefaultFetchConcurrency = 4

// Repository is the content store the engine reads and writes.
type Repository interface {
	ListAll(ctx context.Context) ([]model.ContentItem, error)
	GetBySlug(ctx context.Context, s string) (model.ContentItem, error)
	Upsert(ctx context.Context, item model.ContentItem) (model.ContentItem, error)
	AttachSlugAlias(ctx context.Context, canonical, s string, isPrimary bool) error
	ResolveAlias(ctx context.Context, s string) (canonical string, ok bool, err error)
	ListExistingSlugs(ctx context.Context) ([]string, error)
	PruneUnusedTaxonomy(ctx context.Context) (int64, error)
}

// Tracker guards the run lock and records run outcomes.
type Tracker interface {
	Begin(ctx context.Context, dir model.Direction, mode model.Mode) (*model.SyncRun, error)
	Finish(run *model.SyncRun) error
}

// Options configures an Engine.
type Options struct {
	// Remote is the repository tree. Nil when no repository is configured.
	Remote remote.Tree
	// Local is the backup directory tree. Nil when no directory is configured.
	Local remote.Tree
	// PostsRoot is the directory posts live under in both trees.
	PostsRoot string
	// Retry is applied to every read and write of a single item.
	Retry retry.Policy
	// FetchConcurrency bounds parallel reads in pull phases.
	FetchConcurrency int
	Logger           *slog.Logger
}

// Request selects what a run does.
type Request struct {
	Direction model.Direction `json:"direction"`
	Mode      model.Mode      `json:"mode"`
}

// ErrorDetail describes one failed item in a Result.
type ErrorDetail struct {
	Message     string `json:"message"`
	Item        string `json:"item,omitempty"`
	Recoverable bool   `json:"recoverable"`
}

// Result is the outcome of a run as reported to callers.
type Result struct {
	RunID        string        `json:"runId"`
	Success      bool          `json:"success"`
	Processed    int           `json:"processed"`
	Skipped      int           `json:"skipped"`
	Errors       int           `json:"errors"`
	ErrorDetails []ErrorDetail `json:"errorDetails"`
	Error        string        `json:"error,omitempty"`
}

// Engine runs synchronization phases under the tracker's lock.
type Engine struct {
	repo        Repository
	tracker     Tracker
	remote      remote.Tree
	local       remote.Tree
	root        string
	policy      retry.Policy
	concurrency int
	resolver    slug.Resolver
	logger      *slog.Logger
	now         func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(repo Repository, tracker Tracker, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PostsRoot == "" {
		opts.PostsRoot = remote.DefaultPostsRoot
	}
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = DefaultFetchConcurrency
	}
	if opts.Retry.MaxRetries <= 0 && opts.Retry.InitialDelay <= 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	return &Engine{
		repo:        repo,
		tracker:     tracker,
		remote:      opts.Remote,
		local:       opts.Local,
		root:        opts.PostsRoot,
		policy:      opts.Retry,
		concurrency: opts.FetchConcurrency,
		logger:      opts.Logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// phase is one pass over a single tree in a single direction.
type phase struct {
	name string
	run  func(ctx context.Context, r *runner) error
}

// plan returns the phases of dir. Bidirectional runs pull from the
// repository first, then push back to it, then refresh the local backup.
func (e *Engine) plan(dir model.Direction) ([]phase, error) {
	pushRemote := phase{"push remote", func(ctx context.Context, r *runner) error { return r.push(ctx, e.remote, "remote") }}
	pullRemote := phase{"pull remote", func(ctx context.Context, r *runner) error { return r.pull(ctx, e.remote, "remote") }}
	pushLocal := phase{"push local", func(ctx context.Context, r *runner) error { return r.push(ctx, e.local, "local") }}
	pullLocal := phase{"pull local", func(ctx context.Context, r *runner) error { return r.pull(ctx, e.local, "local") }}

	needRemote := func() error {
		if e.remote == nil {
			return fmt.Errorf("%w: remote repository", ErrTargetNotConfigured)
		}
		return nil
	}
	needLocal := func() error {
		if e.local == nil {
			return fmt.Errorf("%w: local directory", ErrTargetNotConfigured)
		}
		return nil
	}

	switch dir {
	case model.DirectionToRemote:
		return []phase{pushRemote}, needRemote()
	case model.DirectionFromRemote:
		return []phase{pullRemote}, needRemote()
	case model.DirectionToLocal:
		return []phase{pushLocal}, needLocal()
	case model.DirectionFromLocal:
		return []phase{pullLocal}, needLocal()
	case model.DirectionBidirectional:
		if err := needRemote(); err != nil {
			return nil, err
		}
		phases := []phase{pullRemote, pushRemote}
		if e.local != nil {
			phases = append(phases, pushLocal)
		}
		return phases, nil
	}
	return nil, fmt.Errorf("unknown sync direction %q", dir)
}

// Run executes one synchronization run. It returns ErrAlreadyRunning
// without side effects when the lock is held. Item failures are reported
// in the Result and never abort the run; the returned error is non-nil
// only when no phase could take its snapshot.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	mode, err := model.ParseMode(string(req.Mode))
	if err != nil {
		return Result{}, errkind.New(errkind.Permanent, "start sync", err)
	}
	phases, err := e.plan(req.Direction)
	if err != nil {
		return Result{}, errkind.New(errkind.Permanent, "start sync", err)
	}

	run, err := e.tracker.Begin(ctx, req.Direction, mode)
	if err != nil {
		return Result{}, err
	}

	r := &runner{Engine: e, run: run, mode: mode}
	failed := 0
	var failures []error
	defer func() {
		if err := e.tracker.Finish(run); err != nil {
			e.logger.Error("failed to finish sync run", "error", err, "run_id", run.ID)
		}
	}()

	for _, ph := range phases {
		if err := ctx.Err(); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", ph.name, err))
			failed++
			continue
		}
		if err := ph.run(ctx, r); err != nil {
			failed++
			failures = append(failures, fmt.Errorf("%s: %w", ph.name, err))
			e.logger.Error("sync phase failed", "category", model.EventCategorySync,
				"run_id", run.ID, "phase", ph.name, "error", err)
			if len(phases) > 1 {
				run.AddError(model.ItemError{
					Item:        ph.name,
					Message:     err.Error(),
					Kind:        errkind.Of(err).String(),
					Recoverable: !errors.Is(err, context.Canceled),
				})
			}
		}
	}

	var runErr error
	if failed == len(phases) {
		run.State = model.RunStateFailed
		run.Failure = errors.Join(failures...).Error()
		runErr = errkind.New(errkind.Catastrophic, "sync "+string(req.Direction), errors.Join(failures...))
	} else {
		run.State = model.RunStateCompleted
	}
	return resultOf(run), runErr
}

func resultOf(run *model.SyncRun) Result {
	res := Result{
		RunID:        run.ID,
		Success:      run.State == model.RunStateCompleted && len(run.Errors) == 0,
		Processed:    run.Processed,
		Skipped:      run.Skipped,
		Errors:       len(run.Errors),
		ErrorDetails: make([]ErrorDetail, 0, len(run.Errors)),
		Error:        run.Failure,
	}
	for _, e := range run.Errors {
		res.ErrorDetails = append(res.ErrorDetails, ErrorDetail{
			Message:     e.Message,
			Item:        e.Item,
			Recoverable: e.Recoverable,
		})
	}
	return res
}

// runner carries the state of one run across its phases.
type runner struct {
	*Engine
	run  *model.SyncRun
	mode model.Mode
}

// fail records an item error and logs it.
func (r *runner) fail(item string, err error) {
	kind := errkind.Of(err)
	r.run.AddError(model.ItemError{
		Item:        item,
		Message:     err.Error(),
		Kind:        kind.String(),
		Recoverable: errkind.Recoverable(err) || errors.Is(err, ErrConflict),
	})
	r.logger.Warn("sync item failed", "category", model.EventCategorySync,
		"run_id", r.run.ID, "item", item, "kind", kind.String(), "error", err)
}

// retryPolicy returns the engine policy with retry logging attached.
func (r *runner) retryPolicy(item string) retry.Policy {
	p := r.policy
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		r.logger.Debug("retrying", "run_id", r.run.ID, "item", item,
			"attempt", attempt, "delay", delay, "error", err)
	}
	return p
}
