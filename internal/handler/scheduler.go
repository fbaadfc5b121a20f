// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/robfig/cron/v3"

	"github.com/olegiv/postsync/internal/scheduler"
)

// JobRegistry lists and controls scheduled jobs.
type JobRegistry interface {
	List() []scheduler.JobInfo
	TriggerNow(name string) error
	UpdateSchedule(name, schedule string) error
	ResetSchedule(name string) error
}

// SchedulerHandler serves the scheduled job endpoints.
type SchedulerHandler struct {
	registry JobRegistry
	logger   *slog.Logger
}

// NewSchedulerHandler creates a new scheduler handler.
func NewSchedulerHandler(registry JobRegistry, logger *slog.Logger) *SchedulerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SchedulerHandler{registry: registry, logger: logger}
}

// validateCronSchedule validates a cron schedule expression.
func validateCronSchedule(schedule string) error {
	_, err := cron.ParseStandard(schedule)
	return err
}

// List handles GET /api/jobs.
func (h *SchedulerHandler) List(w http.ResponseWriter, _ *http.Request) {
	writeJSONSuccess(w, map[string]any{"jobs": h.registry.List()})
}

// UpdateSchedule handles PUT /api/jobs/{name}/schedule with body {"schedule": "..."}.
// The change lasts until the process restarts.
func (h *SchedulerHandler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var body struct {
		Schedule string `json:"schedule"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validateCronSchedule(body.Schedule); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid cron expression: "+err.Error())
		return
	}

	if err := h.registry.UpdateSchedule(name, body.Schedule); err != nil {
		h.writeRegistryError(w, name, err)
		return
	}
	writeJSONSuccess(w, map[string]any{"name": name, "schedule": body.Schedule})
}

// ResetSchedule handles DELETE /api/jobs/{name}/schedule.
func (h *SchedulerHandler) ResetSchedule(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.registry.ResetSchedule(name); err != nil {
		h.writeRegistryError(w, name, err)
		return
	}
	writeJSONSuccess(w, map[string]any{"name": name})
}

// TriggerNow handles POST /api/jobs/{name}/run. It returns after the job finishes.
func (h *SchedulerHandler) TriggerNow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.registry.TriggerNow(name); err != nil {
		h.writeRegistryError(w, name, err)
		return
	}
	writeJSONSuccess(w, map[string]any{"name": name})
}

func (h *SchedulerHandler) writeRegistryError(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, scheduler.ErrJobNotFound) {
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	h.logger.Error("scheduled job request failed", "job", name, "error", err)
	writeJSONError(w, http.StatusInternalServerError, err.Error())
}
