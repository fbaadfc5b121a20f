// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"time"
)

const categoryColumns = `id, name, slug, post_count, created_at, updated_at`

func scanCategory(row interface{ Scan(...any) error }) (Category, error) {
	var i Category
	err := row.Scan(&i.ID, &i.Name, &i.Slug, &i.PostCount, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

func scanTag(row interface{ Scan(...any) error }) (Tag, error) {
	var i Tag
	err := row.Scan(&i.ID, &i.Name, &i.Slug, &i.PostCount, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const getCategoryBySlug = `-- name: GetCategoryBySlug :one
SELECT ` + categoryColumns + ` FROM categories WHERE slug = ?`

func (q *Queries) GetCategoryBySlug(ctx context.Context, slug string) (Category, error) {
	return scanCategory(q.db.QueryRowContext(ctx, getCategoryBySlug, slug))
}

const getCategoryByName = `-- name: GetCategoryByName :one
SELECT ` + categoryColumns + ` FROM categories WHERE name = ? COLLATE NOCASE ORDER BY id LIMIT 1`

func (q *Queries) GetCategoryByName(ctx context.Context, name string) (Category, error) {
	return scanCategory(q.db.QueryRowContext(ctx, getCategoryByName, name))
}

const createCategory = `-- name: CreateCategory :one
INSERT INTO categories (name, slug, post_count, created_at, updated_at)
VALUES (?, ?, 0, ?, ?)
RETURNING ` + categoryColumns

func (q *Queries) CreateCategory(ctx context.Context, name, slug string, now time.Time) (Category, error) {
	return scanCategory(q.db.QueryRowContext(ctx, createCategory, name, slug, now, now))
}

const listCategories = `-- name: ListCategories :many
SELECT ` + categoryColumns + ` FROM categories ORDER BY name`

func (q *Queries) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := q.db.QueryContext(ctx, listCategories)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []Category
	for rows.Next() {
		i, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listPostCategories = `-- name: ListPostCategories :many
SELECT pc.post_id, c.name, c.slug, pc.position
FROM post_categories pc
JOIN categories c ON c.id = pc.category_id
ORDER BY pc.post_id, pc.position`

func (q *Queries) ListPostCategories(ctx context.Context) ([]PostTerm, error) {
	return q.listPostTerms(ctx, listPostCategories)
}

const listCategoriesForPost = `-- name: ListCategoriesForPost :many
SELECT pc.post_id, c.name, c.slug, pc.position
FROM post_categories pc
JOIN categories c ON c.id = pc.category_id
WHERE pc.post_id = ?
ORDER BY pc.position`

func (q *Queries) ListCategoriesForPost(ctx context.Context, postID int64) ([]PostTerm, error) {
	return q.listPostTerms(ctx, listCategoriesForPost, postID)
}

const deletePostCategories = `-- name: DeletePostCategories :exec
DELETE FROM post_categories WHERE post_id = ?`

func (q *Queries) DeletePostCategories(ctx context.Context, postID int64) error {
	_, err := q.db.ExecContext(ctx, deletePostCategories, postID)
	return err
}

const addPostCategory = `-- name: AddPostCategory :exec
INSERT OR IGNORE INTO post_categories (post_id, category_id, position) VALUES (?, ?, ?)`

func (q *Queries) AddPostCategory(ctx context.Context, postID, categoryID, position int64) error {
	_, err := q.db.ExecContext(ctx, addPostCategory, postID, categoryID, position)
	return err
}

const recountCategories = `-- name: RecountCategories :exec
UPDATE categories SET post_count = (
    SELECT COUNT(*) FROM post_categories pc
    JOIN posts p ON p.id = pc.post_id
    WHERE pc.category_id = categories.id AND p.published = 1
)`

func (q *Queries) RecountCategories(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, recountCategories)
	return err
}

const deleteUnusedCategories = `-- name: DeleteUnusedCategories :execrows
DELETE FROM categories
WHERE post_count = 0
  AND NOT EXISTS (SELECT 1 FROM post_categories pc WHERE pc.category_id = categories.id)`

func (q *Queries) DeleteUnusedCategories(ctx context.Context) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteUnusedCategories)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const tagColumns = categoryColumns

const getTagBySlug = `-- name: GetTagBySlug :one
SELECT ` + tagColumns + ` FROM tags WHERE slug = ?`

func (q *Queries) GetTagBySlug(ctx context.Context, slug string) (Tag, error) {
	return scanTag(q.db.QueryRowContext(ctx, getTagBySlug, slug))
}

const getTagByName = `-- name: GetTagByName :one
SELECT ` + tagColumns + ` FROM tags WHERE name = ? COLLATE NOCASE ORDER BY id LIMIT 1`

func (q *Queries) GetTagByName(ctx context.Context, name string) (Tag, error) {
	return scanTag(q.db.QueryRowContext(ctx, getTagByName, name))
}

const createTag = `-- name: CreateTag :one
INSERT INTO tags (name, slug, post_count, created_at, updated_at)
VALUES (?, ?, 0, ?, ?)
RETURNING ` + tagColumns

func (q *Queries) CreateTag(ctx context.Context, name, slug string, now time.Time) (Tag, error) {
	return scanTag(q.db.QueryRowContext(ctx, createTag, name, slug, now, now))
}

const listTags = `-- name: ListTags :many
SELECT ` + tagColumns + ` FROM tags ORDER BY name`

func (q *Queries) ListTags(ctx context.Context) ([]Tag, error) {
	rows, err := q.db.QueryContext(ctx, listTags)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []Tag
	for rows.Next() {
		i, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listPostTags = `-- name: ListPostTags :many
SELECT pt.post_id, t.name, t.slug, pt.position
FROM post_tags pt
JOIN tags t ON t.id = pt.tag_id
ORDER BY pt.post_id, pt.position`

func (q *Queries) ListPostTags(ctx context.Context) ([]PostTerm, error) {
	return q.listPostTerms(ctx, listPostTags)
}

const listTagsForPost = `-- name: ListTagsForPost :many
SELECT pt.post_id, t.name, t.slug, pt.position
FROM post_tags pt
JOIN tags t ON t.id = pt.tag_id
WHERE pt.post_id = ?
ORDER BY pt.position`

func (q *Queries) ListTagsForPost(ctx context.Context, postID int64) ([]PostTerm, error) {
	return q.listPostTerms(ctx, listTagsForPost, postID)
}

const deletePostTags = `-- name: DeletePostTags :exec
DELETE FROM post_tags WHERE post_id = ?`

func (q *Queries) DeletePostTags(ctx context.Context, postID int64) error {
	_, err := q.db.ExecContext(ctx, deletePostTags, postID)
	return err
}

const addPostTag = `-- name: AddPostTag :exec
INSERT OR IGNORE INTO post_tags (post_id, tag_id, position) VALUES (?, ?, ?)`

func (q *Queries) AddPostTag(ctx context.Context, postID, tagID, position int64) error {
	_, err := q.db.ExecContext(ctx, addPostTag, postID, tagID, position)
	return err
}

const recountTags = `-- name: RecountTags :exec
UPDATE tags SET post_count = (
    SELECT COUNT(*) FROM post_tags pt
    JOIN posts p ON p.id = pt.post_id
    WHERE pt.tag_id = tags.id AND p.published = 1
)`

func (q *Queries) RecountTags(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, recountTags)
	return err
}

const deleteUnusedTags = `-- name: DeleteUnusedTags :execrows
DELETE FROM tags
WHERE post_count = 0
  AND NOT EXISTS (SELECT 1 FROM post_tags pt WHERE pt.tag_id = tags.id)`

func (q *Queries) DeleteUnusedTags(ctx context.Context) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteUnusedTags)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (q *Queries) listPostTerms(ctx context.Context, query string, args ...any) ([]PostTerm, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var items []PostTerm
	for rows.Next() {
		var i PostTerm
		if err := rows.Scan(&i.PostID, &i.Name, &i.Slug, &i.Position); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
