// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/olegiv/postsync/internal/errkind"
	"github.com/olegiv/postsync/internal/model"
	"github.com/olegiv/postsync/internal/reconcile"
	"github.com/olegiv/postsync/internal/status"
)

// maxRequestBody bounds the JSON body of a sync trigger.
const maxRequestBody = 4 << 10

// Run history paging limits.
const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

// Syncer runs one synchronization.
type Syncer interface {
	Run(ctx context.Context, req reconcile.Request) (reconcile.Result, error)
}

// RunTracker exposes lock state and run history.
type RunTracker interface {
	Status(ctx context.Context) (status.Report, error)
	Recent(ctx context.Context, limit int) ([]model.SyncRun, error)
	Get(ctx context.Context, id string) (model.SyncRun, error)
}

// SyncHandler serves the sync trigger and status endpoints.
type SyncHandler struct {
	engine  Syncer
	tracker RunTracker
	logger  *slog.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(engine Syncer, tracker RunTracker, logger *slog.Logger) *SyncHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncHandler{engine: engine, tracker: tracker, logger: logger}
}

// triggerRequest is the body of POST /api/sync.
type triggerRequest struct {
	Direction string `json:"direction"`
	Mode      string `json:"mode"`
}

// Trigger handles POST /api/sync. An empty body runs a standard
// bidirectional sync. The run outlives a disconnecting client.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var body triggerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req, err := parseTrigger(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info("sync requested", "category", model.EventCategorySync,
		"direction", req.Direction, "mode", req.Mode, "ip", r.RemoteAddr)

	res, err := h.engine.Run(context.WithoutCancel(r.Context()), req)
	switch {
	case errors.Is(err, reconcile.ErrAlreadyRunning):
		writeJSONError(w, http.StatusConflict, "sync already in progress")
	case err != nil && res.RunID == "":
		// Rejected before a run started.
		status := http.StatusInternalServerError
		if errkind.Of(err) == errkind.Permanent {
			status = http.StatusBadRequest
		}
		writeJSONError(w, status, err.Error())
	case err != nil:
		h.logger.Error("sync run failed", "category", model.EventCategorySync,
			"run_id", res.RunID, "error", err)
		if res.Error == "" {
			res.Error = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func parseTrigger(body triggerRequest) (reconcile.Request, error) {
	dir := model.DirectionBidirectional
	if body.Direction != "" {
		d, err := model.ParseDirection(body.Direction)
		if err != nil {
			return reconcile.Request{}, err
		}
		dir = d
	}
	mode, err := model.ParseMode(body.Mode)
	if err != nil {
		return reconcile.Request{}, err
	}
	return reconcile.Request{Direction: dir, Mode: mode}, nil
}

// Status handles GET /api/sync/status.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	report, err := h.tracker.Status(r.Context())
	if err != nil {
		h.logger.Error("failed to read sync status", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to read sync status")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Runs handles GET /api/sync/runs?limit=N.
func (h *SyncHandler) Runs(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), defaultRunsLimit, maxRunsLimit)
	runs, err := h.tracker.Recent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list sync runs", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list sync runs")
		return
	}
	writeJSONSuccess(w, map[string]any{"runs": runs})
}

// Run handles GET /api/sync/runs/{id}.
func (h *SyncHandler) Run(w http.ResponseWriter, r *http.Request) {
	run, err := h.tracker.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, sql.ErrNoRows) {
		writeJSONError(w, http.StatusNotFound, "sync run not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to read sync run", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to read sync run")
		return
	}
	writeJSONSuccess(w, map[string]any{"run": run})
}

// parseLimit reads a positive integer query value clamped to max.
func parseLimit(raw string, def, max int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
