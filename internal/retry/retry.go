// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package retry runs fallible I/O with exponential backoff. Permanent
// errors (see errkind) are returned immediately without consuming budget.
package retry

import (
	"context"
	"math"
	"sync"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/olegiv/postsync/internal/errkind"
)

// Default policy values.
const (
	DefaultMaxRetries    = 3
	DefaultInitialDelay  = 1 * time.Second
	DefaultBackoffFactor = 2.0
	DefaultMaxDelay      = 15 * time.Second
)

// Policy configures a retry loop.
type Policy struct {
	// MaxRetries is the number of additional attempts after the first one.
	MaxRetries int
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration
	// BackoffFactor multiplies the delay after each retry.
	BackoffFactor float64
	// MaxDelay caps the delay.
	MaxDelay time.Duration
	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns the standard policy: 3 retries, 1s initial delay,
// factor 2, capped at 15s.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    DefaultMaxRetries,
		InitialDelay:  DefaultInitialDelay,
		BackoffFactor: DefaultBackoffFactor,
		MaxDelay:      DefaultMaxDelay,
	}
}

// backoff builds the go-retry backoff for the policy.
func (p Policy) backoff() goretry.Backoff {
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}

	var mu sync.Mutex
	attempt := 0
	b := goretry.BackoffFunc(func() (time.Duration, bool) {
		mu.Lock()
		defer mu.Unlock()
		d := float64(p.InitialDelay) * math.Pow(factor, float64(attempt))
		attempt++
		if d > float64(math.MaxInt64) {
			d = float64(math.MaxInt64)
		}
		return time.Duration(d), false
	})

	var next goretry.Backoff = b
	if p.MaxDelay > 0 {
		next = goretry.WithCappedDuration(p.MaxDelay, next)
	}
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return goretry.WithMaxRetries(uint64(maxRetries), next)
}

// Do invokes op until it succeeds, returns a permanent error, or the retry
// budget is exhausted. After exhaustion the last error is returned.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var (
		result  T
		lastErr error
		attempt int
	)

	err := goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			result = v
			lastErr = nil
			return nil
		}
		lastErr = err
		if errkind.IsPermanent(err) {
			return err
		}
		attempt++
		if p.OnRetry != nil && attempt <= p.MaxRetries {
			p.OnRetry(attempt, p.delayFor(attempt), err)
		}
		return goretry.RetryableError(err)
	})
	if err == nil {
		return result, nil
	}

	var zero T
	if ctx.Err() != nil {
		return zero, err
	}
	if lastErr != nil {
		return zero, lastErr
	}
	return zero, err
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// delayFor reports the wait preceding the given retry attempt (1-based).
func (p Policy) delayFor(attempt int) time.Duration {
	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := time.Duration(float64(p.InitialDelay) * math.Pow(factor, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
