// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olegiv/postsync/internal/store"
)

// Event log paging limits.
const (
	defaultEventsLimit = 50
	maxEventsLimit     = 500
)

// EventsHandler serves the event log.
type EventsHandler struct {
	queries *store.Queries
	logger  *slog.Logger
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(db *sql.DB, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{queries: store.New(db), logger: logger}
}

// EventView is one event as returned by the API.
type EventView struct {
	ID        int64     `json:"id"`
	Level     string    `json:"level"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// formatMetadata converts JSON metadata to readable text format.
// Example: {"item":"hello","error":"not found"} -> "error: not found, item: hello"
func formatMetadata(metadata string) string {
	if metadata == "" || metadata == "{}" {
		return ""
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(metadata), &data); err != nil {
		return metadata // Return as-is if not valid JSON
	}

	if len(data) == 0 {
		return ""
	}

	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var parts []string
	for _, key := range keys {
		var strValue string
		switch v := data[key].(type) {
		case string:
			strValue = v
		case float64:
			strValue = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			strValue = strconv.FormatBool(v)
		default:
			if b, err := json.Marshal(v); err == nil {
				strValue = string(b)
			}
		}
		parts = append(parts, key+": "+strValue)
	}

	return strings.Join(parts, ", ")
}

// List handles GET /api/events?limit=N&level=L&category=C.
// Filters apply to the newest limit events.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"), defaultEventsLimit, maxEventsLimit)
	level := q.Get("level")
	category := q.Get("category")

	events, err := h.queries.ListEvents(r.Context(), int64(limit))
	if err != nil {
		h.logger.Error("failed to list events", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	views := make([]EventView, 0, len(events))
	for _, e := range events {
		if (level != "" && e.Level != level) || (category != "" && e.Category != category) {
			continue
		}
		views = append(views, EventView{
			ID:        e.ID,
			Level:     e.Level,
			Category:  e.Category,
			Message:   e.Message,
			Details:   formatMetadata(e.Metadata),
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSONSuccess(w, map[string]any{"events": views})
}
