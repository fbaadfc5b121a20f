// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import (
	"testing"
	"time"
)

func TestParseDirection(t *testing.T) {
	for _, d := range Directions {
		got, err := ParseDirection(string(d))
		if err != nil {
			t.Fatalf("ParseDirection(%q): %v", d, err)
		}
		if got != d {
			t.Errorf("ParseDirection(%q) = %q", d, got)
		}
	}

	if _, err := ParseDirection("sideways"); err == nil {
		t.Error("ParseDirection(sideways) should fail")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input   string
		want    Mode
		wantErr bool
	}{
		{"", ModeStandard, false},
		{"standard", ModeStandard, false},
		{"enhanced", ModeEnhanced, false},
		{"turbo", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSyncRun_State(t *testing.T) {
	run := SyncRun{State: RunStateRunning, StartedAt: time.Now()}
	if !run.InProgress() {
		t.Error("new run should be in progress")
	}

	now := time.Now()
	run.CompletedAt = &now
	run.State = RunStateCompleted
	if run.InProgress() {
		t.Error("closed run should not be in progress")
	}
	if !run.Succeeded() {
		t.Error("completed run without errors should succeed")
	}

	run.AddError(ItemError{Item: "hello", Message: "boom"})
	if run.ErrorCount() != 1 {
		t.Errorf("ErrorCount() = %d, want 1", run.ErrorCount())
	}
	if run.Succeeded() {
		t.Error("run with errors should not succeed")
	}
}

func TestContentItem_PrimaryCategory(t *testing.T) {
	item := ContentItem{}
	if got := item.PrimaryCategory().Slug; got != DefaultCategory {
		t.Errorf("PrimaryCategory().Slug = %q, want %q", got, DefaultCategory)
	}

	item.Categories = []Term{{Name: "编程", Slug: "bian-cheng"}, {Name: "Go", Slug: "go"}}
	if got := item.PrimaryCategory().Slug; got != "bian-cheng" {
		t.Errorf("PrimaryCategory().Slug = %q, want bian-cheng", got)
	}
	names := item.CategoryNames()
	if len(names) != 2 || names[0] != "编程" || names[1] != "Go" {
		t.Errorf("CategoryNames() = %v", names)
	}
}

func TestContentItem_KnownSlugs(t *testing.T) {
	item := ContentItem{Slug: "hello-world", Aliases: []string{"hello-world-a1b2c3"}}
	got := item.KnownSlugs()
	if len(got) != 2 || got[0] != "hello-world" || got[1] != "hello-world-a1b2c3" {
		t.Errorf("KnownSlugs() = %v", got)
	}
}

func TestTerm_Label(t *testing.T) {
	if got := (Term{Slug: "go"}).Label(); got != "go" {
		t.Errorf("Label() = %q, want go", got)
	}
	if got := (Term{Name: "Go", Slug: "go"}).Label(); got != "Go" {
		t.Errorf("Label() = %q, want Go", got)
	}
}
