// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/olegiv/postsync/internal/middleware"
)

// Handlers groups the endpoint handlers the router mounts. Scheduler is
// optional.
type Handlers struct {
	Sync      *SyncHandler
	Health    *HealthHandler
	Events    *EventsHandler
	Scheduler *SchedulerHandler
}

// RouterConfig configures the API router.
type RouterConfig struct {
	APIToken       string
	RateLimit      float64 // triggers per second per client
	RateBurst      int
	RequestTimeout time.Duration // read endpoints only; sync runs are unbounded
	IsDevelopment  bool          // disables HSTS
}

// NewRouter wires the sync API routes.
func NewRouter(h Handlers, cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.GetHead)
	r.Use(middleware.SecurityHeaders(middleware.DefaultSecurityHeadersConfig(cfg.IsDevelopment)))
	r.Use(middleware.NoStore)

	r.Get("/health", h.Health.Health)
	r.Get("/health/live", h.Health.Liveness)
	r.Get("/health/ready", h.Health.Readiness)

	triggerLimiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.TokenAuth(cfg.APIToken))

		// Triggers run to completion and share one per-client budget.
		r.Group(func(r chi.Router) {
			r.Use(triggerLimiter.Middleware())
			r.Post("/sync", h.Sync.Trigger)
			if h.Scheduler != nil {
				r.Post("/jobs/{name}/run", h.Scheduler.TriggerNow)
			}
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
			r.Get("/sync/status", h.Sync.Status)
			r.Get("/sync/runs", h.Sync.Runs)
			r.Get("/sync/runs/{id}", h.Sync.Run)
			r.Get("/events", h.Events.List)
			if h.Scheduler != nil {
				r.Get("/jobs", h.Scheduler.List)
				r.Put("/jobs/{name}/schedule", h.Scheduler.UpdateSchedule)
				r.Delete("/jobs/{name}/schedule", h.Scheduler.ResetSchedule)
			}
		})
	})

	return r
}
