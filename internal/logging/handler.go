// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package logging provides a custom slog handler that integrates with the Event Log system.
// It forwards logs at WARN level and above to the database-backed Event Log for auditing.
package logging

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/olegiv/postsync/internal/model"
	"github.com/olegiv/postsync/internal/store"
)

// EventLogHandler is a slog.Handler that wraps another handler and also writes
// WARN and ERROR level logs to the Event Log database.
type EventLogHandler struct {
	inner   slog.Handler
	queries *store.Queries
	level   slog.Level  // Minimum level to forward to Event Log (default: WARN)
	attrs   []slog.Attr // Attributes bound with WithAttrs
	group   string
}

// NewEventLogHandler creates a new EventLogHandler that wraps the given handler.
// Logs at WARN level and above will be written to both the wrapped handler and the Event Log.
func NewEventLogHandler(inner slog.Handler, db *sql.DB) *EventLogHandler {
	return NewEventLogHandlerWithLevel(inner, db, slog.LevelWarn)
}

// NewEventLogHandlerWithLevel creates a new EventLogHandler with a custom minimum level.
func NewEventLogHandlerWithLevel(inner slog.Handler, db *sql.DB, level slog.Level) *EventLogHandler {
	return &EventLogHandler{
		inner:   inner,
		queries: store.New(db),
		level:   level,
	}
}

// Enabled implements slog.Handler.
func (h *EventLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level || h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *EventLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.inner.Enabled(ctx, r.Level) {
		if err := h.inner.Handle(ctx, r); err != nil {
			return err
		}
	}

	if r.Level >= h.level {
		h.writeToEventLog(r)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *EventLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.inner = h.inner.WithAttrs(attrs)
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), h.qualify(attrs)...)
	return &clone
}

// WithGroup implements slog.Handler.
func (h *EventLogHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.inner = h.inner.WithGroup(name)
	if h.group != "" {
		clone.group = h.group + "." + name
	} else {
		clone.group = name
	}
	return &clone
}

func (h *EventLogHandler) qualify(attrs []slog.Attr) []slog.Attr {
	if h.group == "" {
		return attrs
	}
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = slog.Attr{Key: h.group + "." + a.Key, Value: a.Value}
	}
	return out
}

// writeToEventLog writes a log record to the Event Log database. It uses a
// background context so events survive cancelled requests and runs.
func (h *EventLogHandler) writeToEventLog(r slog.Record) {
	attrs := append([]slog.Attr{}, h.attrs...)
	var own []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		own = append(own, a)
		return true
	})
	attrs = append(attrs, h.qualify(own)...)

	created := r.Time
	if created.IsZero() {
		created = time.Now()
	}

	_, _ = h.queries.CreateEvent(context.Background(), store.CreateEventParams{
		Level:     slogLevelToEventLevel(r.Level),
		Category:  extractCategory(r.Message, attrs),
		Message:   r.Message,
		Metadata:  extractMetadata(attrs),
		CreatedAt: created.UTC(),
	})
}

// slogLevelToEventLevel converts a slog.Level to an Event Log level.
func slogLevelToEventLevel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return model.EventLevelError
	case level >= slog.LevelWarn:
		return model.EventLevelWarning
	default:
		return model.EventLevelInfo
	}
}

// extractCategory returns the "category" attribute, or infers one from the message.
func extractCategory(msg string, attrs []slog.Attr) string {
	for _, a := range attrs {
		if a.Key == "category" {
			return a.Value.String()
		}
	}

	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "sync") || strings.Contains(msg, "lock"):
		return model.EventCategorySync
	case strings.Contains(msg, "github") || strings.Contains(msg, "remote") || strings.Contains(msg, "commit"):
		return model.EventCategoryRemote
	case strings.Contains(msg, "database") || strings.Contains(msg, "migration"):
		return model.EventCategoryStore
	case strings.Contains(msg, "config"):
		return model.EventCategoryConfig
	default:
		return model.EventCategorySystem
	}
}

// extractMetadata collects attributes other than category into a JSON object.
func extractMetadata(attrs []slog.Attr) string {
	if len(attrs) == 0 {
		return "{}"
	}
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		if a.Key == "category" {
			continue
		}
		m[a.Key] = a.Value.Resolve().String()
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}
