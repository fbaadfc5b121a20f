// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package webhook

import (
	"context"
	"errors"

	"github.com/olegiv/postsync/internal/reconcile"
)

// Syncer runs one synchronization.
type Syncer interface {
	Run(ctx context.Context, req reconcile.Request) (reconcile.Result, error)
}

// NotifyingSyncer dispatches an event after every run that started.
// Requests rejected before a run began (lock held, invalid request) are
// not reported.
type NotifyingSyncer struct {
	next       Syncer
	dispatcher *Dispatcher
}

// Notify wraps next so finished runs are reported through d.
func Notify(next Syncer, d *Dispatcher) *NotifyingSyncer {
	return &NotifyingSyncer{next: next, dispatcher: d}
}

// Run implements Syncer.
func (n *NotifyingSyncer) Run(ctx context.Context, req reconcile.Request) (reconcile.Result, error) {
	res, err := n.next.Run(ctx, req)
	if res.RunID == "" || errors.Is(err, reconcile.ErrAlreadyRunning) {
		return res, err
	}

	eventType := EventSyncCompleted
	if err != nil {
		eventType = EventSyncFailed
	}
	data := RunEventData{
		RunID:     res.RunID,
		Direction: string(req.Direction),
		Mode:      string(req.Mode),
		Success:   res.Success,
		Processed: res.Processed,
		Skipped:   res.Skipped,
		Errors:    res.Errors,
		Error:     res.Error,
	}
	_ = n.dispatcher.DispatchEvent(context.WithoutCancel(ctx), eventType, data)
	return res, err
}
