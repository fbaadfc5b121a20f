// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/postsync/internal/scheduler"
	"github.com/olegiv/postsync/internal/testutil"
)

func newSchedulerServer(t *testing.T) (*testServer, *int) {
	t.Helper()
	db, cleanup := testutil.TestDB(t)
	t.Cleanup(cleanup)
	logger := testutil.TestLoggerSilent()

	registry := scheduler.NewRegistry(logger)
	cronInst := cron.New()
	t.Cleanup(func() { cronInst.Stop() })
	runs := 0
	job := cron.FuncJob(func() {})
	id, err := cronInst.AddJob("@hourly", job)
	require.NoError(t, err)
	registry.Register(scheduler.JobSync, "Synchronize posts", "@hourly", cronInst, id, job,
		func() error { runs++; return nil })

	router := NewRouter(Handlers{
		Sync:      NewSyncHandler(&fakeSyncer{}, nil, logger),
		Health:    NewHealthHandler(db, nil, HealthConfig{}),
		Events:    NewEventsHandler(db, logger),
		Scheduler: NewSchedulerHandler(registry, logger),
	}, RouterConfig{APIToken: testToken, RateLimit: 100, RateBurst: 100})
	return &testServer{handler: router}, &runs
}

func TestSchedulerHandler_List(t *testing.T) {
	s, _ := newSchedulerServer(t)

	w := s.do(http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Jobs []scheduler.JobInfo `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, scheduler.JobSync, resp.Jobs[0].Name)
	assert.True(t, resp.Jobs[0].CanTrigger)
}

func TestSchedulerHandler_TriggerNow(t *testing.T) {
	s, runs := newSchedulerServer(t)

	w := s.do(http.MethodPost, "/api/jobs/sync/run", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, *runs)

	w = s.do(http.MethodPost, "/api/jobs/nope/run", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSchedulerHandler_UpdateAndReset(t *testing.T) {
	s, _ := newSchedulerServer(t)

	w := s.do(http.MethodPut, "/api/jobs/sync/schedule", `{"schedule":"*/10 * * * *"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/jobs", "")
	assert.Contains(t, w.Body.String(), `"schedule":"*/10 * * * *"`)

	w = s.do(http.MethodPut, "/api/jobs/sync/schedule", `{"schedule":"whenever"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodDelete, "/api/jobs/sync/schedule", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/jobs", "")
	assert.Contains(t, w.Body.String(), `"schedule":"@hourly"`)
}

func TestValidateCronSchedule(t *testing.T) {
	assert.NoError(t, validateCronSchedule("0 3 * * *"))
	assert.NoError(t, validateCronSchedule("@every 15m"))
	assert.Error(t, validateCronSchedule(""))
	assert.Error(t, validateCronSchedule("* * *"))
}

func TestRouter_JobsRoutesAbsentWithoutScheduler(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/api/jobs", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/health/live", strings.NewReader(""))
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
