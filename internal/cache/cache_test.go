// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_BasicOperations(t *testing.T) {
	c := NewMemoryCache(MemoryCacheOptions{DefaultTTL: time.Hour, MaxSize: 100})
	defer func() { _ = c.Close() }()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "key1", []byte("value1"), 0))

	val, err := c.Get(ctx, "key1")
	require.NoError(t, err)
	assert.Equal(t, "value1", string(val))

	has, err := c.Has(ctx, "key1")
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, c.Delete(ctx, "key1"))
	_, err = c.Get(ctx, "key1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCache_ValuesAreCopied(t *testing.T) {
	c := NewMemoryCache(MemoryCacheOptions{DefaultTTL: time.Hour})
	defer func() { _ = c.Close() }()
	ctx := context.Background()

	in := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", in, 0))
	in[0] = 'X'

	out, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))
	out[0] = 'Y'

	again, _ := c.Get(ctx, "k")
	assert.Equal(t, "abc", string(again))
}

func TestMemoryCache_Expiration(t *testing.T) {
	c := NewMemoryCache(MemoryCacheOptions{DefaultTTL: time.Hour})
	defer func() { _ = c.Close() }()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, 0, c.Stats().Items)
}

func TestMemoryCache_MaxSize(t *testing.T) {
	c := NewMemoryCache(MemoryCacheOptions{DefaultTTL: time.Hour, MaxSize: 2})
	defer func() { _ = c.Close() }()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))
	require.NoError(t, c.Set(ctx, "a", []byte("updated"), 0))

	assert.Equal(t, 2, c.Stats().Items)
	_, err := c.Get(ctx, "c")
	assert.ErrorIs(t, err, ErrCacheMiss)
	v, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "updated", string(v))
}

func TestMemoryCache_Closed(t *testing.T) {
	c := NewMemoryCache(MemoryCacheOptions{CleanupInterval: time.Millisecond})
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrCacheClosed)
	assert.ErrorIs(t, c.Set(context.Background(), "k", nil, 0), ErrCacheClosed)
}

func TestMemoryCache_Stats(t *testing.T) {
	c := NewMemoryCache(MemoryCacheOptions{DefaultTTL: time.Hour})
	defer func() { _ = c.Close() }()
	ctx := context.Background()

	_ = c.Set(ctx, "k", []byte("v"), 0)
	_, _ = c.Get(ctx, "k")
	_, _ = c.Get(ctx, "missing")

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(1), s.Sets)
	assert.InDelta(t, 50.0, s.HitRate(), 0.001)

	require.NoError(t, c.Clear(ctx))
	assert.Equal(t, 0, c.Stats().Items)
}

func TestMemoryCache_Concurrent(t *testing.T) {
	c := NewMemoryCache(MemoryCacheOptions{DefaultTTL: time.Hour})
	defer func() { _ = c.Close() }()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%5))
			_ = c.Set(ctx, key, []byte{byte(i)}, 0)
			_, _ = c.Get(ctx, key)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 5, c.Stats().Items)
}

func TestNew_DefaultsToMemory(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)
	defer func() { _ = c.Close() }()
	_, ok := c.(*MemoryCache)
	assert.True(t, ok)
}

func TestNew_InvalidRedisURL(t *testing.T) {
	_, err := New(Config{RedisURL: "not-a-url://"})
	assert.Error(t, err)
}

type index struct {
	Paths map[string]string `json:"paths"`
}

func TestTypedCache_GetOrSet(t *testing.T) {
	mem := NewMemoryCache(MemoryCacheOptions{DefaultTTL: time.Hour})
	defer func() { _ = mem.Close() }()
	tc := NewTypedCache[index](mem, "tree:", 0)
	ctx := context.Background()

	calls := 0
	load := func(context.Context) (index, error) {
		calls++
		return index{Paths: map[string]string{"posts/a.md": "sha1"}}, nil
	}

	v, err := tc.GetOrSet(ctx, "root", load)
	require.NoError(t, err)
	assert.Equal(t, "sha1", v.Paths["posts/a.md"])

	v, err = tc.GetOrSet(ctx, "root", load)
	require.NoError(t, err)
	assert.Equal(t, "sha1", v.Paths["posts/a.md"])
	assert.Equal(t, 1, calls)

	has, _ := mem.Has(ctx, "tree:root")
	assert.True(t, has, "keys are namespaced with the prefix")
}

func TestTypedCache_ErrorNotCached(t *testing.T) {
	mem := NewMemoryCache(MemoryCacheOptions{DefaultTTL: time.Hour})
	defer func() { _ = mem.Close() }()
	tc := NewTypedCache[index](mem, "", 0)

	boom := errors.New("boom")
	_, err := tc.GetOrSet(context.Background(), "k", func(context.Context) (index, error) {
		return index{}, boom
	})
	assert.ErrorIs(t, err, boom)
	_, ok := tc.Get(context.Background(), "k")
	assert.False(t, ok)
}
