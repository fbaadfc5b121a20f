// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package watch

import (
	"sync"
	"time"
)

// DebounceConfig holds debouncer configuration.
type DebounceConfig struct {
	// Interval is the quiet period after the last change before firing.
	Interval time.Duration
	// MaxWait caps the delay when changes keep arriving.
	MaxWait time.Duration
}

// DefaultDebounceConfig returns default debounce configuration.
func DefaultDebounceConfig() DebounceConfig {
	return DebounceConfig{
		Interval: 2 * time.Second,
		MaxWait:  30 * time.Second,
	}
}

// Debouncer coalesces bursts of changes into single calls of fire.
// Calls of fire never overlap.
type Debouncer struct {
	config    DebounceConfig
	fire      func()
	mu        sync.Mutex
	timer     *time.Timer
	firstSeen time.Time
	pending   bool
	burst     int
	stopped   bool
	wg        sync.WaitGroup
	running   sync.Mutex
	now       func() time.Time
}

// NewDebouncer creates a debouncer that calls fire once per burst.
func NewDebouncer(config DebounceConfig, fire func()) *Debouncer {
	if config.Interval <= 0 {
		config.Interval = DefaultDebounceConfig().Interval
	}
	if config.MaxWait < config.Interval {
		config.MaxWait = config.Interval
	}
	return &Debouncer{config: config, fire: fire, now: time.Now}
}

// Trigger records a change. The first change of a burst starts the
// timer; later ones push it back until MaxWait has passed.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	now := d.now()
	if d.pending {
		if now.Sub(d.firstSeen) >= d.config.MaxWait {
			d.fireLocked()
			return
		}
		d.timer.Reset(d.config.Interval)
		return
	}

	d.pending = true
	d.firstSeen = now
	d.burst++
	burst := d.burst
	d.timer = time.AfterFunc(d.config.Interval, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.pending && d.burst == burst {
			d.fireLocked()
		}
	})
}

// fireLocked runs fire in the background. Must be called with lock held.
func (d *Debouncer) fireLocked() {
	d.timer.Stop()
	d.pending = false

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.running.Lock()
		defer d.running.Unlock()
		d.fire()
	}()
}

// Flush fires immediately if a burst is pending.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending {
		d.fireLocked()
	}
}

// Pending reports whether a burst is waiting to fire.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Stop drops any pending burst and waits for a running fire to return.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	if d.pending {
		d.timer.Stop()
		d.pending = false
	}
	d.mu.Unlock()
	d.wg.Wait()
}
