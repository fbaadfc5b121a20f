// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"context"
	"encoding/json"
	"time"
)

// TypedCache stores JSON-encoded values of type T in a Cacher.
type TypedCache[T any] struct {
	cache      Cacher
	prefix     string
	defaultTTL time.Duration
}

// NewTypedCache wraps cache. Keys are namespaced with prefix.
func NewTypedCache[T any](cache Cacher, prefix string, defaultTTL time.Duration) *TypedCache[T] {
	return &TypedCache[T]{cache: cache, prefix: prefix, defaultTTL: defaultTTL}
}

// Get returns the value and true if found and decodable.
func (c *TypedCache[T]) Get(ctx context.Context, key string) (T, bool) {
	var value T
	data, err := c.cache.Get(ctx, c.prefix+key)
	if err != nil {
		return value, false
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, false
	}
	return value, true
}

// Set stores value with the default TTL.
func (c *TypedCache[T]) Set(ctx context.Context, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.cache.Set(ctx, c.prefix+key, data, c.defaultTTL)
}

// GetOrSet returns the cached value for key, computing and storing it with
// fn on a miss. A failed store does not fail the call.
func (c *TypedCache[T]) GetOrSet(ctx context.Context, key string, fn func(context.Context) (T, error)) (T, error) {
	if value, ok := c.Get(ctx, key); ok {
		return value, nil
	}
	value, err := fn(ctx)
	if err != nil {
		return value, err
	}
	_ = c.Set(ctx, key, value)
	return value, nil
}
