// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"time"
)

const slugMappingColumns = `slug, post_id, is_primary, created_at, updated_at`

func scanSlugMapping(row interface{ Scan(...any) error }) (SlugMapping, error) {
	var i SlugMapping
	err := row.Scan(&i.Slug, &i.PostID, &i.IsPrimary, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const getSlugMapping = `-- name: GetSlugMapping :one
SELECT ` + slugMappingColumns + ` FROM slug_mapping WHERE slug = ?`

func (q *Queries) GetSlugMapping(ctx context.Context, slug string) (SlugMapping, error) {
	return scanSlugMapping(q.db.QueryRowContext(ctx, getSlugMapping, slug))
}

const createSlugMapping = `-- name: CreateSlugMapping :exec
INSERT INTO slug_mapping (slug, post_id, is_primary, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`

type CreateSlugMappingParams struct {
	Slug      string    `json:"slug"`
	PostID    int64     `json:"post_id"`
	IsPrimary bool      `json:"is_primary"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (q *Queries) CreateSlugMapping(ctx context.Context, arg CreateSlugMappingParams) error {
	_, err := q.db.ExecContext(ctx, createSlugMapping, arg.Slug, arg.PostID, arg.IsPrimary, arg.CreatedAt, arg.UpdatedAt)
	return err
}

const setSlugPrimary = `-- name: SetSlugPrimary :exec
UPDATE slug_mapping SET is_primary = ?, updated_at = ? WHERE slug = ?`

func (q *Queries) SetSlugPrimary(ctx context.Context, slug string, primary bool, now time.Time) error {
	_, err := q.db.ExecContext(ctx, setSlugPrimary, primary, now, slug)
	return err
}

const demotePrimarySlugs = `-- name: DemotePrimarySlugs :exec
UPDATE slug_mapping SET is_primary = 0, updated_at = ? WHERE post_id = ? AND is_primary = 1`

func (q *Queries) DemotePrimarySlugs(ctx context.Context, postID int64, now time.Time) error {
	_, err := q.db.ExecContext(ctx, demotePrimarySlugs, now, postID)
	return err
}

const listSlugMappings = `-- name: ListSlugMappings :many
SELECT ` + slugMappingColumns + ` FROM slug_mapping ORDER BY post_id, is_primary DESC, created_at`

func (q *Queries) ListSlugMappings(ctx context.Context) ([]SlugMapping, error) {
	return q.listSlugMappings(ctx, listSlugMappings)
}

const listSlugMappingsForPost = `-- name: ListSlugMappingsForPost :many
SELECT ` + slugMappingColumns + ` FROM slug_mapping WHERE post_id = ? ORDER BY is_primary DESC, created_at`

func (q *Queries) ListSlugMappingsForPost(ctx context.Context, postID int64) ([]SlugMapping, error) {
	return q.listSlugMappings(ctx, listSlugMappingsForPost, postID)
}

const listAllSlugs = `-- name: ListAllSlugs :many
SELECT slug FROM posts
UNION
SELECT slug FROM slug_mapping`

func (q *Queries) ListAllSlugs(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listAllSlugs)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (q *Queries) listSlugMappings(ctx context.Context, query string, args ...any) ([]SlugMapping, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []SlugMapping
	for rows.Next() {
		i, err := scanSlugMapping(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
