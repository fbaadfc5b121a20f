// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/olegiv/postsync/internal/handler"
	"github.com/olegiv/postsync/internal/scheduler"
	"github.com/olegiv/postsync/internal/store"
	"github.com/olegiv/postsync/internal/watch"
)

var serveWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the scheduler",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close()
		return a.serve(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "also run from-local syncs when the local directory changes")
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg

	sched := scheduler.New(a.syncer, a.tracker, store.New(a.db), scheduler.Config{
		SyncSchedule:     cfg.SyncSchedule,
		Direction:        cfg.Direction(),
		Mode:             cfg.Mode(),
		StaleLockAfter:   cfg.StaleLockAfter,
		HistoryRetention: cfg.HistoryRetention,
	}, a.logger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	if serveWatch {
		w, err := watch.New(cfg.LocalDir, a.syncer, cfg.Mode(),
			watch.DebounceConfig{Interval: cfg.WatchDebounce, MaxWait: 15 * cfg.WatchDebounce}, a.logger)
		if err != nil {
			return fmt.Errorf("starting watcher: %w", err)
		}
		go func() {
			if err := w.Run(ctx); err != nil {
				a.logger.Error("local tree watcher failed", "error", err)
			}
		}()
	}

	router := handler.NewRouter(handler.Handlers{
		Sync:   handler.NewSyncHandler(a.syncer, a.tracker, a.logger),
		Health: handler.NewHealthHandler(a.db, a.tracker, handler.HealthConfig{
			APIToken:       cfg.APIToken,
			LocalDir:       cfg.LocalDir,
			StaleLockAfter: cfg.StaleLockAfter,
		}),
		Events:    handler.NewEventsHandler(a.db, a.logger),
		Scheduler: handler.NewSchedulerHandler(sched.Registry(), a.logger),
	}, handler.RouterConfig{
		APIToken:      cfg.APIToken,
		RateLimit:     cfg.APIRateLimit,
		RateBurst:     cfg.APIRateBurst,
		IsDevelopment: cfg.IsDevelopment(),
	})

	srv := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Minute, // POST /api/sync answers when the run ends
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.ServerAddr(), "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
