// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package scheduler

import (
	"errors"
	"testing"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerTestJob(t *testing.T, r *Registry, name string, trigger func() error) *cron.Cron {
	t.Helper()
	cronInst := cron.New()
	t.Cleanup(func() { cronInst.Stop() })

	job := cron.FuncJob(func() {})
	entryID, err := cronInst.AddJob("@every 1h", job)
	require.NoError(t, err)
	r.Register(name, "test job", "@every 1h", cronInst, entryID, job, trigger)
	return cronInst
}

func TestRegistry_RegisterAndList(t *testing.T) {
	r := NewRegistry(testLogger())
	registerTestJob(t, r, "b", nil)
	registerTestJob(t, r, "a", func() error { return nil })

	jobs := r.List()
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Name)
	assert.True(t, jobs[0].CanTrigger)
	assert.Equal(t, "b", jobs[1].Name)
	assert.False(t, jobs[1].CanTrigger)
	assert.False(t, jobs[1].IsOverridden)
}

func TestRegistry_TriggerNow(t *testing.T) {
	r := NewRegistry(testLogger())
	called := 0
	registerTestJob(t, r, "sync", func() error { called++; return nil })
	registerTestJob(t, r, "manual-off", nil)

	require.NoError(t, r.TriggerNow("sync"))
	assert.Equal(t, 1, called)

	assert.Error(t, r.TriggerNow("manual-off"))
	assert.True(t, errors.Is(r.TriggerNow("missing"), ErrJobNotFound))
}

func TestRegistry_UpdateAndResetSchedule(t *testing.T) {
	r := NewRegistry(testLogger())
	cronInst := registerTestJob(t, r, "sync", nil)

	require.NoError(t, r.UpdateSchedule("sync", "*/5 * * * *"))
	jobs := r.List()
	require.Len(t, jobs, 1)
	assert.Equal(t, "*/5 * * * *", jobs[0].Schedule)
	assert.True(t, jobs[0].IsOverridden)
	assert.Len(t, cronInst.Entries(), 1)

	err := r.UpdateSchedule("sync", "not a cron")
	require.Error(t, err)
	assert.Equal(t, "*/5 * * * *", r.List()[0].Schedule)

	require.NoError(t, r.ResetSchedule("sync"))
	assert.Equal(t, "@every 1h", r.List()[0].Schedule)
	assert.False(t, r.List()[0].IsOverridden)
	assert.Len(t, cronInst.Entries(), 1)

	assert.True(t, errors.Is(r.UpdateSchedule("missing", "@daily"), ErrJobNotFound))
	assert.True(t, errors.Is(r.ResetSchedule("missing"), ErrJobNotFound))
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry(testLogger())
	cronInst := registerTestJob(t, r, "sync", nil)

	r.Unregister("sync")
	assert.Empty(t, r.List())
	assert.Empty(t, cronInst.Entries())

	r.Unregister("sync") // no-op
}
