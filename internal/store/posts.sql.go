// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"time"
)

const postColumns = `id, slug, title, body, description, cover_image, published, featured, created_at, updated_at`

func scanPost(row interface{ Scan(...any) error }) (Post, error) {
	var i Post
	err := row.Scan(
		&i.ID,
		&i.Slug,
		&i.Title,
		&i.Body,
		&i.Description,
		&i.CoverImage,
		&i.Published,
		&i.Featured,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const listPosts = `-- name: ListPosts :many
SELECT ` + postColumns + ` FROM posts ORDER BY created_at, id`

func (q *Queries) ListPosts(ctx context.Context) ([]Post, error) {
	rows, err := q.db.QueryContext(ctx, listPosts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []Post
	for rows.Next() {
		i, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getPostBySlug = `-- name: GetPostBySlug :one
SELECT ` + postColumns + ` FROM posts WHERE slug = ?`

func (q *Queries) GetPostBySlug(ctx context.Context, slug string) (Post, error) {
	return scanPost(q.db.QueryRowContext(ctx, getPostBySlug, slug))
}

const getPostByID = `-- name: GetPostByID :one
SELECT ` + postColumns + ` FROM posts WHERE id = ?`

func (q *Queries) GetPostByID(ctx context.Context, id int64) (Post, error) {
	return scanPost(q.db.QueryRowContext(ctx, getPostByID, id))
}

const createPost = `-- name: CreatePost :one
INSERT INTO posts (slug, title, body, description, cover_image, published, featured, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + postColumns

type CreatePostParams struct {
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

func (q *Queries) CreatePost(ctx context.Context, arg CreatePostParams) (Post, error) {
	row := q.db.QueryRowContext(ctx, createPost,
		arg.Slug,
		arg.Title,
		arg.Body,
		arg.Description,
		arg.CoverImage,
		arg.Published,
		arg.Featured,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return scanPost(row)
}

const updatePost = `-- name: UpdatePost :exec
UPDATE posts
SET title = ?, body = ?, description = ?, cover_image = ?, published = ?, featured = ?, created_at = ?, updated_at = ?
WHERE id = ?`

type UpdatePostParams struct {
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Description string    `json:"description"`
	CoverImage  string    `json:"cover_image"`
	Published   bool      `json:"published"`
	Featured    bool      `json:"featured"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ID          int64     `json:"id"`
}

func (q *Queries) UpdatePost(ctx context.Context, arg UpdatePostParams) error {
	_, err := q.db.ExecContext(ctx, updatePost,
		arg.Title,
		arg.Body,
		arg.Description,
		arg.CoverImage,
		arg.Published,
		arg.Featured,
		arg.CreatedAt,
		arg.UpdatedAt,
		arg.ID,
	)
	return err
}

const updatePostSlug = `-- name: UpdatePostSlug :exec
UPDATE posts SET slug = ?, updated_at = ? WHERE id = ?`

func (q *Queries) UpdatePostSlug(ctx context.Context, slug string, updatedAt time.Time, id int64) error {
	_, err := q.db.ExecContext(ctx, updatePostSlug, slug, updatedAt, id)
	return err
}

const countPostsUpdatedSince = `-- name: CountPostsUpdatedSince :one
SELECT COUNT(*) FROM posts WHERE updated_at > ?`

func (q *Queries) CountPostsUpdatedSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countPostsUpdatedSince, since).Scan(&count)
	return count, err
}

const countPosts = `-- name: CountPosts :one
SELECT COUNT(*) FROM posts`

func (q *Queries) CountPosts(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, countPosts).Scan(&count)
	return count, err
}
