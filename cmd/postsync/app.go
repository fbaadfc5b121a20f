// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/olegiv/postsync/internal/cache"
	"github.com/olegiv/postsync/internal/config"
	"github.com/olegiv/postsync/internal/logging"
	"github.com/olegiv/postsync/internal/reconcile"
	"github.com/olegiv/postsync/internal/remote"
	"github.com/olegiv/postsync/internal/status"
	"github.com/olegiv/postsync/internal/store"
	"github.com/olegiv/postsync/internal/webhook"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	db         *sql.DB
	tracker    *status.Tracker
	engine     *reconcile.Engine
	syncer     webhook.Syncer
	dispatcher *webhook.Dispatcher
	closers    []io.Closer
}

// newApp loads configuration, opens and migrates the database and builds
// the engine. Callers must call close.
func newApp(ctx context.Context) (*app, error) {
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("loading env files: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	a := &app{cfg: cfg}
	out, logCloser := logging.Output(cfg.LogFile)
	a.closers = append(a.closers, logCloser)
	level := logging.ParseLevel(cfg.LogLevel)
	a.logger = slog.New(logging.NewTextHandler(out, level))
	slog.SetDefault(a.logger)

	if err := a.openDB(ctx); err != nil {
		a.close()
		return nil, err
	}

	// Mirror WARN and ERROR records into the event log.
	a.logger = slog.New(logging.NewEventLogHandler(logging.NewTextHandler(out, level), a.db))
	slog.SetDefault(a.logger)

	if err := a.buildEngine(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openDB(ctx context.Context) error {
	if !store.IsRemoteDSN(a.cfg.DBPath) {
		if err := os.MkdirAll(filepath.Dir(a.cfg.DBPath), 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	a.logger.Info("initializing database", "path", a.cfg.DBPath)
	dbCfg := store.DefaultDBConfig()
	dbCfg.AuthToken = a.cfg.DBAuthToken
	db, err := store.Open(a.cfg.DBPath, dbCfg)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db)

	a.logger.Info("running database migrations")
	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	if err := store.Seed(ctx, db); err != nil {
		return fmt.Errorf("seeding database: %w", err)
	}
	a.logger.Info("database ready")
	return nil
}

func (a *app) buildEngine() error {
	cfg := a.cfg
	repo := store.NewContentRepository(a.db)
	a.tracker = status.NewTracker(a.db, repo, a.logger)

	opts := reconcile.Options{
		PostsRoot:        cfg.PostsRoot,
		Retry:            cfg.RetryPolicy(),
		FetchConcurrency: cfg.FetchConcurrency,
		Logger:           a.logger,
	}

	if cfg.GitHubEnabled() {
		blobs, err := cache.New(cache.Config{
			RedisURL:   cfg.RedisURL,
			Prefix:     cfg.CachePrefix,
			DefaultTTL: cfg.CacheTTL,
			MaxSize:    cfg.CacheMaxSize,
		})
		if err != nil {
			return fmt.Errorf("initializing blob cache: %w", err)
		}
		a.closers = append(a.closers, blobs)
		if cfg.UseRedisCache() {
			a.logger.Info("blob cache initialized", "backend", "redis")
		} else {
			a.logger.Info("blob cache initialized", "backend", "memory")
		}

		tree, err := remote.NewGitHubTree(remote.GitHubConfig{
			Token:       cfg.GitHubToken,
			Owner:       cfg.GitHubOwner,
			Repo:        cfg.GitHubRepo,
			Branch:      cfg.GitHubBranch,
			APIURL:      cfg.GitHubAPIURL,
			PostsRoot:   cfg.PostsRoot,
			Timeout:     cfg.GitHubTimeout,
			RateLimit:   cfg.GitHubRateLimit,
			AuthorName:  cfg.GitAuthorName,
			AuthorEmail: cfg.GitAuthorEmail,
		}, blobs, a.logger)
		if err != nil {
			return fmt.Errorf("initializing github tree: %w", err)
		}
		opts.Remote = tree
	}
	if cfg.LocalEnabled() {
		opts.Local = remote.NewLocalTree(cfg.LocalDir, cfg.PostsRoot)
	}

	a.engine = reconcile.NewEngine(repo, a.tracker, opts)
	a.syncer = a.engine

	if cfg.NotifyEnabled() {
		endpoints := make([]webhook.Endpoint, 0, len(cfg.NotifyURLs))
		for _, u := range cfg.NotifyURLs {
			endpoints = append(endpoints, webhook.Endpoint{URL: u, Secret: cfg.NotifySecret})
		}
		a.dispatcher = webhook.NewDispatcher(endpoints, a.logger, webhook.DefaultConfig())
		a.dispatcher.Start(context.Background())
		a.syncer = webhook.Notify(a.engine, a.dispatcher)
	}
	return nil
}

// close stops the dispatcher, then releases resources in reverse order.
func (a *app) close() {
	if a.dispatcher != nil {
		a.dispatcher.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		slog.Error("error releasing resources", "error", err)
	}
}
