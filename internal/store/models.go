// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"database/sql"
	"time"
)

type Post struct {
	ID          int64     `json:"id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Description string    `json:"description"`
	CoverImage  string    `json:"cover_image"`
	Published   bool      `json:"published"`
	Featured    bool      `json:"featured"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	PostCount int64     `json:"post_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Tag struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	PostCount int64     `json:"post_count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PostTerm is a category or tag joined to the post that references it.
type PostTerm struct {
	PostID   int64  `json:"post_id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Position int64  `json:"position"`
}

type SlugMapping struct {
	Slug      string    `json:"slug"`
	PostID    int64     `json:"post_id"`
	IsPrimary bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SyncStatus struct {
	ID             int64        `json:"id"`
	LastSyncTime   sql.NullTime `json:"last_sync_time"`
	SyncInProgress bool         `json:"sync_in_progress"`
	LockedAt       sql.NullTime `json:"locked_at"`
	RunID          string       `json:"run_id"`
}

type SyncRun struct {
	ID          string       `json:"id"`
	Direction   string       `json:"direction"`
	Mode        string       `json:"mode"`
	State       string       `json:"state"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt sql.NullTime `json:"completed_at"`
	Processed   int64        `json:"processed"`
	Skipped     int64        `json:"skipped"`
	ErrorCount  int64        `json:"error_count"`
	Failure     string       `json:"failure"`
}

type SyncRunError struct {
	ID          int64  `json:"id"`
	RunID       string `json:"run_id"`
	Item        string `json:"item"`
	Message     string `json:"message"`
	Kind        string `json:"kind"`
	Recoverable bool   `json:"recoverable"`
}

type Event struct {
	ID        int64     `json:"id"`
	Level     string    `json:"level"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Metadata  string    `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}
