// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/olegiv/postsync/internal/model"
)

// Seed creates the rows every installation needs: the singleton sync status
// record and the default category.
func Seed(ctx context.Context, db *sql.DB) error {
	queries := New(db)

	if err := queries.EnsureSyncStatus(ctx); err != nil {
		return fmt.Errorf("ensuring sync status: %w", err)
	}

	_, err := queries.GetCategoryBySlug(ctx, model.DefaultCategory)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("checking for default category: %w", err)
	}

	c, err := queries.CreateCategory(ctx, model.DefaultCategory, model.DefaultCategory, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("creating default category: %w", err)
	}
	slog.Info("created default category", "id", c.ID, "slug", c.Slug)
	return nil
}
