// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import (
	"fmt"
	"time"
)

// Direction names which way a synchronization run moves content.
type Direction string

// Sync directions
const (
	DirectionBidirectional Direction = "bidirectional"
	DirectionToRemote      Direction = "to-remote"
	DirectionFromRemote    Direction = "from-remote"
	DirectionToLocal       Direction = "to-local"
	DirectionFromLocal     Direction = "from-local"
)

// Directions lists every valid direction.
var Directions = []Direction{
	DirectionBidirectional,
	DirectionToRemote,
	DirectionFromRemote,
	DirectionToLocal,
	DirectionFromLocal,
}

// ParseDirection validates a direction string.
func ParseDirection(s string) (Direction, error) {
	for _, d := range Directions {
		if string(d) == s {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown sync direction %q", s)
}

// Mode selects the merge policy of a run.
type Mode string

// Sync modes
const (
	// ModeStandard overwrites the target with the source (last write wins).
	ModeStandard Mode = "standard"
	// ModeEnhanced skips unchanged items and refuses to overwrite a target
	// that was modified more recently than the source.
	ModeEnhanced Mode = "enhanced"
)

// ParseMode validates a mode string. An empty string yields ModeStandard.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeStandard:
		return ModeStandard, nil
	case ModeEnhanced:
		return ModeEnhanced, nil
	}
	return "", fmt.Errorf("unknown sync mode %q", s)
}

// RunState is the state of a synchronization run.
type RunState string

// Run states
const (
	RunStateIdle      RunState = "idle"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
)

// ItemError records why a single item could not be synchronized.
type ItemError struct {
	Item        string `json:"item"`
	Message     string `json:"message"`
	Kind        string `json:"kind"`
	Recoverable bool   `json:"recoverable"`
}

// SyncRun is one execution of the reconciliation engine.
type SyncRun struct {
	ID          string      `json:"id"`
	Direction   Direction   `json:"direction"`
	Mode        Mode        `json:"mode"`
	State       RunState    `json:"state"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Processed   int         `json:"processed"`
	Skipped     int         `json:"skipped"`
	Errors      []ItemError `json:"errors,omitempty"`
	Failure     string      `json:"failure,omitempty"`
}

// ErrorCount returns the number of recorded item errors.
func (r *SyncRun) ErrorCount() int {
	return len(r.Errors)
}

// InProgress reports whether the run has not been closed yet.
func (r *SyncRun) InProgress() bool {
	return r.CompletedAt == nil
}

// Succeeded reports whether the run completed without item errors.
func (r *SyncRun) Succeeded() bool {
	return r.State == RunStateCompleted && len(r.Errors) == 0
}

// AddError appends an item error.
func (r *SyncRun) AddError(e ItemError) {
	r.Errors = append(r.Errors, e)
}
