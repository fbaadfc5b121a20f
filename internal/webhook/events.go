// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package webhook notifies external endpoints when synchronization runs finish.
package webhook

import (
	"time"
)

// Event types.
const (
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"
)

// Event represents a webhook event to be dispatched.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// NewEvent creates a new webhook event.
func NewEvent(eventType string, data any) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// RunEventData describes a finished run.
type RunEventData struct {
	RunID     string `json:"runId"`
	Direction string `json:"direction"`
	Mode      string `json:"mode"`
	Success   bool   `json:"success"`
	Processed int    `json:"processed"`
	Skipped   int    `json:"skipped"`
	Errors    int    `json:"errors"`
	Error     string `json:"error,omitempty"`
}
