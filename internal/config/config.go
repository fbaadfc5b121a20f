// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads postsync settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"

	"github.com/olegiv/postsync/internal/model"
	"github.com/olegiv/postsync/internal/retry"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	DBPath      string `env:"POSTSYNC_DB_PATH" envDefault:"./data/postsync.db"`
	DBAuthToken string `env:"POSTSYNC_DB_AUTH_TOKEN"` // Turso/libSQL token for remote databases
	ServerHost  string `env:"POSTSYNC_SERVER_HOST" envDefault:"localhost"`
	ServerPort  int    `env:"POSTSYNC_SERVER_PORT" envDefault:"8080"`
	Env         string `env:"POSTSYNC_ENV" envDefault:"development"`
	LogLevel    string `env:"POSTSYNC_LOG_LEVEL" envDefault:"info"`
	LogFile     string `env:"POSTSYNC_LOG_FILE"` // Optional rotated log file

	// HTTP trigger protection
	APIToken     string  `env:"POSTSYNC_API_TOKEN"`
	APIRateLimit float64 `env:"POSTSYNC_API_RATE_LIMIT" envDefault:"0.2"` // Requests per second per client
	APIRateBurst int     `env:"POSTSYNC_API_RATE_BURST" envDefault:"3"`

	// GitHub repository mirror
	GitHubToken     string        `env:"POSTSYNC_GITHUB_TOKEN"`
	GitHubOwner     string        `env:"POSTSYNC_GITHUB_OWNER"`
	GitHubRepo      string        `env:"POSTSYNC_GITHUB_REPO"`
	GitHubBranch    string        `env:"POSTSYNC_GITHUB_BRANCH" envDefault:"main"`
	GitHubAPIURL    string        `env:"POSTSYNC_GITHUB_API_URL" envDefault:"https://api.github.com"`
	GitHubTimeout   time.Duration `env:"POSTSYNC_GITHUB_TIMEOUT" envDefault:"30s"`
	GitHubRateLimit float64       `env:"POSTSYNC_GITHUB_RATE_LIMIT" envDefault:"10"`
	GitAuthorName   string        `env:"POSTSYNC_GIT_AUTHOR_NAME" envDefault:"postsync"`
	GitAuthorEmail  string        `env:"POSTSYNC_GIT_AUTHOR_EMAIL" envDefault:"postsync@localhost"`

	// Trees
	PostsRoot string `env:"POSTSYNC_POSTS_ROOT" envDefault:"posts"`
	LocalDir  string `env:"POSTSYNC_LOCAL_DIR"` // Empty disables the local backup tree

	// Synchronization
	SyncSchedule     string        `env:"POSTSYNC_SYNC_SCHEDULE"` // Cron spec; empty disables scheduled runs
	SyncDirection    string        `env:"POSTSYNC_SYNC_DIRECTION" envDefault:"bidirectional"`
	SyncMode         string        `env:"POSTSYNC_SYNC_MODE" envDefault:"standard"`
	RetryMax         int           `env:"POSTSYNC_RETRY_MAX" envDefault:"3"`
	RetryInitial     time.Duration `env:"POSTSYNC_RETRY_INITIAL" envDefault:"1s"`
	RetryFactor      float64       `env:"POSTSYNC_RETRY_FACTOR" envDefault:"2"`
	RetryMaxDelay    time.Duration `env:"POSTSYNC_RETRY_MAX_DELAY" envDefault:"15s"`
	FetchConcurrency int           `env:"POSTSYNC_FETCH_CONCURRENCY" envDefault:"4"`
	StaleLockAfter   time.Duration `env:"POSTSYNC_STALE_LOCK_AFTER" envDefault:"30m"`
	HistoryRetention time.Duration `env:"POSTSYNC_HISTORY_RETENTION" envDefault:"720h"`
	WatchDebounce    time.Duration `env:"POSTSYNC_WATCH_DEBOUNCE" envDefault:"2s"`

	// Run notifications
	NotifyURLs   []string `env:"POSTSYNC_NOTIFY_URLS" envSeparator:","` // Webhook endpoints told about finished runs
	NotifySecret string   `env:"POSTSYNC_NOTIFY_SECRET"`                // HMAC key for X-Webhook-Signature

	// Cache configuration
	RedisURL     string        `env:"POSTSYNC_REDIS_URL"`                           // Optional Redis URL for the blob cache
	CachePrefix  string        `env:"POSTSYNC_CACHE_PREFIX" envDefault:"postsync:"` // Redis key prefix
	CacheTTL     time.Duration `env:"POSTSYNC_CACHE_TTL" envDefault:"24h"`
	CacheMaxSize int           `env:"POSTSYNC_CACHE_MAX_SIZE" envDefault:"10000"` // Max memory cache entries
}

// IsDevelopment returns true if the application is running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ServerAddr returns the full server address in host:port format.
func (c Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// UseRedisCache returns true if Redis caching is configured.
func (c Config) UseRedisCache() bool {
	return c.RedisURL != ""
}

// GitHubEnabled returns true if a repository mirror is configured.
func (c Config) GitHubEnabled() bool {
	return c.GitHubToken != "" && c.GitHubOwner != "" && c.GitHubRepo != ""
}

// LocalEnabled returns true if a local backup directory is configured.
func (c Config) LocalEnabled() bool {
	return c.LocalDir != ""
}

// ScheduleEnabled returns true if periodic runs are configured.
func (c Config) ScheduleEnabled() bool {
	return strings.TrimSpace(c.SyncSchedule) != ""
}

// Direction returns the direction of scheduled runs.
func (c Config) Direction() model.Direction {
	return model.Direction(c.SyncDirection)
}

// Mode returns the default merge mode.
func (c Config) Mode() model.Mode {
	return model.Mode(c.SyncMode)
}

// RetryPolicy returns the retry policy for item I/O.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:    c.RetryMax,
		InitialDelay:  c.RetryInitial,
		BackoffFactor: c.RetryFactor,
		MaxDelay:      c.RetryMaxDelay,
	}
}

// Load parses environment variables and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field requirements.
func (c Config) Validate() error {
	var errs []error

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("POSTSYNC_SERVER_PORT must be between 1 and 65535, got %d", c.ServerPort))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("POSTSYNC_LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel))
	}

	github := []string{c.GitHubToken, c.GitHubOwner, c.GitHubRepo}
	set := 0
	for _, v := range github {
		if v != "" {
			set++
		}
	}
	if set > 0 && set < len(github) {
		errs = append(errs, errors.New("POSTSYNC_GITHUB_TOKEN, POSTSYNC_GITHUB_OWNER and POSTSYNC_GITHUB_REPO must be set together"))
	}
	if c.GitHubTimeout <= 0 {
		errs = append(errs, errors.New("POSTSYNC_GITHUB_TIMEOUT must be positive"))
	}

	dir, dirErr := model.ParseDirection(c.SyncDirection)
	if dirErr != nil {
		errs = append(errs, fmt.Errorf("POSTSYNC_SYNC_DIRECTION: %w", dirErr))
	}
	if _, err := model.ParseMode(c.SyncMode); err != nil {
		errs = append(errs, fmt.Errorf("POSTSYNC_SYNC_MODE: %w", err))
	}
	if c.ScheduleEnabled() {
		if _, err := cron.ParseStandard(c.SyncSchedule); err != nil {
			errs = append(errs, fmt.Errorf("POSTSYNC_SYNC_SCHEDULE: %w", err))
		}
		if dirErr == nil && !c.supports(dir) {
			errs = append(errs, fmt.Errorf("POSTSYNC_SYNC_DIRECTION %q needs a target that is not configured", dir))
		}
	}

	if c.RetryMax < 0 || c.RetryMax > 10 {
		errs = append(errs, fmt.Errorf("POSTSYNC_RETRY_MAX must be between 0 and 10, got %d", c.RetryMax))
	}
	if c.RetryInitial <= 0 {
		errs = append(errs, errors.New("POSTSYNC_RETRY_INITIAL must be positive"))
	}
	if c.RetryFactor < 1 {
		errs = append(errs, fmt.Errorf("POSTSYNC_RETRY_FACTOR must be at least 1, got %g", c.RetryFactor))
	}
	if c.RetryMaxDelay < c.RetryInitial {
		errs = append(errs, errors.New("POSTSYNC_RETRY_MAX_DELAY must not be below POSTSYNC_RETRY_INITIAL"))
	}
	if c.FetchConcurrency < 1 || c.FetchConcurrency > 32 {
		errs = append(errs, fmt.Errorf("POSTSYNC_FETCH_CONCURRENCY must be between 1 and 32, got %d", c.FetchConcurrency))
	}

	if !c.IsDevelopment() && c.APIToken == "" {
		errs = append(errs, errors.New("POSTSYNC_API_TOKEN is required outside development"))
	}
	if c.APIRateLimit <= 0 || c.APIRateBurst < 1 {
		errs = append(errs, errors.New("POSTSYNC_API_RATE_LIMIT and POSTSYNC_API_RATE_BURST must be positive"))
	}

	for _, raw := range c.NotifyURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("POSTSYNC_NOTIFY_URLS: %q is not an http(s) URL", raw))
		}
	}

	return errors.Join(errs...)
}

// NotifyEnabled returns true if run notifications are configured.
func (c Config) NotifyEnabled() bool {
	return len(c.NotifyURLs) > 0
}

// supports reports whether the trees dir needs are configured.
func (c Config) supports(dir model.Direction) bool {
	switch dir {
	case model.DirectionToLocal, model.DirectionFromLocal:
		return c.LocalEnabled()
	default:
		return c.GitHubEnabled()
	}
}
