// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"fmt"
	"log/slog"
	"time"
)

// Config holds configuration for cache creation.
type Config struct {
	// RedisURL selects the Redis backend when set.
	RedisURL string
	// Prefix is the key prefix for Redis.
	Prefix string
	// DefaultTTL is the default TTL for cache entries.
	DefaultTTL time.Duration
	// MaxSize is the maximum number of entries for the memory cache.
	MaxSize int
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		Prefix:     "postsync:",
		DefaultTTL: 24 * time.Hour,
		MaxSize:    10000,
	}
}

// New creates a Redis cache when a URL is configured and an in-memory cache
// otherwise.
func New(cfg Config) (Cacher, error) {
	if cfg.RedisURL != "" {
		opts := DefaultRedisCacheOptions()
		opts.URL = cfg.RedisURL
		if cfg.Prefix != "" {
			opts.Prefix = cfg.Prefix
		}
		if cfg.DefaultTTL > 0 {
			opts.DefaultTTL = cfg.DefaultTTL
		}
		c, err := NewRedisCache(opts)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		slog.Info("using redis cache", "prefix", opts.Prefix)
		return c, nil
	}

	return NewMemoryCache(MemoryCacheOptions{
		DefaultTTL:      cfg.DefaultTTL,
		MaxSize:         cfg.MaxSize,
		CleanupInterval: time.Minute,
	}), nil
}
