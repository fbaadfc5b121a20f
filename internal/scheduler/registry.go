// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrJobNotFound is returned for an unknown job name.
var ErrJobNotFound = errors.New("job not found")

// registeredJob holds metadata about a registered cron job.
type registeredJob struct {
	name            string
	description     string
	defaultSchedule string
	schedule        string // effective schedule
	cronInstance    *cron.Cron
	entryID         cron.EntryID
	jobFunc         cron.Job
	triggerFunc     func() error // nil if manual trigger not allowed
}

// JobInfo is the public view of a registered job.
type JobInfo struct {
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	DefaultSchedule string    `json:"defaultSchedule"`
	Schedule        string    `json:"schedule"`
	IsOverridden    bool      `json:"isOverridden"`
	LastRun         time.Time `json:"lastRun"`
	NextRun         time.Time `json:"nextRun"`
	CanTrigger      bool      `json:"canTrigger"`
}

// Registry tracks the scheduled jobs of one process.
type Registry struct {
	logger *slog.Logger
	mu     sync.RWMutex
	jobs   map[string]*registeredJob
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger,
		jobs:   make(map[string]*registeredJob),
	}
}

// Register records a job in the registry after it has been added to a cron instance.
func (r *Registry) Register(name, description, schedule string, cronInst *cron.Cron, entryID cron.EntryID, job cron.Job, triggerFunc func() error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[name] = &registeredJob{
		name:            name,
		description:     description,
		defaultSchedule: schedule,
		schedule:        schedule,
		cronInstance:    cronInst,
		entryID:         entryID,
		jobFunc:         job,
		triggerFunc:     triggerFunc,
	}

	r.logger.Debug("registered scheduled job", "name", name, "schedule", schedule)
}

// List returns all registered jobs sorted by name.
func (r *Registry) List() []JobInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]JobInfo, 0, len(r.jobs))
	for _, job := range r.jobs {
		info := JobInfo{
			Name:            job.name,
			Description:     job.description,
			DefaultSchedule: job.defaultSchedule,
			Schedule:        job.schedule,
			IsOverridden:    job.schedule != job.defaultSchedule,
			CanTrigger:      job.triggerFunc != nil,
		}

		if job.cronInstance != nil {
			entry := job.cronInstance.Entry(job.entryID)
			info.NextRun = entry.Next
			info.LastRun = entry.Prev
		}

		result = append(result, info)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})

	return result
}

// TriggerNow manually executes a job immediately.
func (r *Registry) TriggerNow(name string) error {
	r.mu.RLock()
	job, ok := r.jobs[name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	if job.triggerFunc == nil {
		return fmt.Errorf("manual trigger not available for: %s", name)
	}

	r.logger.Info("manually triggering job", "name", name)
	return job.triggerFunc()
}

// UpdateSchedule changes the schedule of a job until the process exits.
func (r *Registry) UpdateSchedule(name, newSchedule string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if job.cronInstance == nil || job.jobFunc == nil {
		return fmt.Errorf("job cannot be rescheduled: %s", name)
	}

	if _, err := cron.ParseStandard(newSchedule); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", newSchedule, err)
	}

	return r.reschedule(job, newSchedule)
}

// ResetSchedule restores the schedule a job was registered with.
func (r *Registry) ResetSchedule(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if job.schedule == job.defaultSchedule {
		return nil
	}
	if job.cronInstance == nil || job.jobFunc == nil {
		return fmt.Errorf("job cannot be rescheduled: %s", name)
	}
	return r.reschedule(job, job.defaultSchedule)
}

// reschedule replaces the cron entry of job. Callers hold r.mu.
func (r *Registry) reschedule(job *registeredJob, schedule string) error {
	job.cronInstance.Remove(job.entryID)
	newEntryID, err := job.cronInstance.AddJob(schedule, job.jobFunc)
	if err != nil {
		// Re-add with old schedule on failure
		fallbackID, fallbackErr := job.cronInstance.AddJob(job.schedule, job.jobFunc)
		if fallbackErr != nil {
			return fmt.Errorf("critical: failed to restore schedule after update failure: %w (original: %w)", fallbackErr, err)
		}
		job.entryID = fallbackID
		return fmt.Errorf("failed to apply new schedule: %w", err)
	}

	job.entryID = newEntryID
	job.schedule = schedule
	r.logger.Info("updated job schedule", "name", job.name, "schedule", schedule)
	return nil
}

// Unregister removes a job from the registry and stops its cron entry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[name]
	if !ok {
		return
	}
	if job.cronInstance != nil {
		job.cronInstance.Remove(job.entryID)
	}
	delete(r.jobs, name)

	r.logger.Debug("unregistered scheduled job", "name", name)
}
