// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/postsync/internal/errkind"
	"github.com/olegiv/postsync/internal/model"
	"github.com/olegiv/postsync/internal/reconcile"
	"github.com/olegiv/postsync/internal/status"
	"github.com/olegiv/postsync/internal/testutil"
)

// fakeSyncer returns a canned result and records requests.
type fakeSyncer struct {
	mu       sync.Mutex
	requests []reconcile.Request
	result   reconcile.Result
	err      error
}

func (f *fakeSyncer) Run(_ context.Context, req reconcile.Request) (reconcile.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.result, f.err
}

const testToken = "test-token"

type testServer struct {
	handler http.Handler
	syncer  *fakeSyncer
	tracker *status.Tracker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, cleanup := testutil.TestDB(t)
	t.Cleanup(cleanup)

	logger := testutil.TestLoggerSilent()
	tracker := status.NewTracker(db, nil, logger)
	syncer := &fakeSyncer{}

	h := NewRouter(Handlers{
		Sync:   NewSyncHandler(syncer, tracker, logger),
		Health: NewHealthHandler(db, tracker, HealthConfig{APIToken: testToken}),
		Events: NewEventsHandler(db, logger),
	}, RouterConfig{APIToken: testToken, RateLimit: 100, RateBurst: 100})
	return &testServer{handler: h, syncer: syncer, tracker: tracker}
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func TestTrigger_Success(t *testing.T) {
	s := newTestServer(t)
	s.syncer.result = reconcile.Result{
		RunID:     "run-1",
		Success:   false,
		Processed: 3,
		Errors:    1,
		ErrorDetails: []reconcile.ErrorDetail{
			{Message: "remote write failed", Item: "hello-world", Recoverable: true},
		},
	}

	w := s.do(http.MethodPost, "/api/sync", `{"direction":"to-remote","mode":"enhanced"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var res reconcile.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 1, res.Errors)
	require.Len(t, res.ErrorDetails, 1)
	assert.Equal(t, "hello-world", res.ErrorDetails[0].Item)
	assert.True(t, res.ErrorDetails[0].Recoverable)

	require.Len(t, s.syncer.requests, 1)
	assert.Equal(t, reconcile.Request{Direction: model.DirectionToRemote, Mode: model.ModeEnhanced}, s.syncer.requests[0])
}

func TestTrigger_EmptyBodyDefaults(t *testing.T) {
	s := newTestServer(t)
	s.syncer.result = reconcile.Result{RunID: "run-1", Success: true}

	w := s.do(http.MethodPost, "/api/sync", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, s.syncer.requests, 1)
	assert.Equal(t, model.DirectionBidirectional, s.syncer.requests[0].Direction)
	assert.Equal(t, model.ModeStandard, s.syncer.requests[0].Mode)
}

func TestTrigger_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		result     reconcile.Result
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "already running",
			err:        reconcile.ErrAlreadyRunning,
			wantStatus: http.StatusConflict,
			wantError:  "sync already in progress",
		},
		{
			name:       "unknown direction",
			body:       `{"direction":"sideways"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "unknown sync direction",
		},
		{
			name:       "invalid json",
			body:       `{"direction":`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid JSON body",
		},
		{
			name:       "target not configured",
			err:        errkind.New(errkind.Permanent, "start sync", reconcile.ErrTargetNotConfigured),
			wantStatus: http.StatusBadRequest,
			wantError:  "sync target not configured",
		},
		{
			name:       "catastrophic",
			result:     reconcile.Result{RunID: "run-9", Error: "pull remote: listing files: boom"},
			err:        errkind.New(errkind.Catastrophic, "sync bidirectional", errors.New("boom")),
			wantStatus: http.StatusInternalServerError,
			wantError:  "pull remote: listing files: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.syncer.result = tt.result
			s.syncer.err = tt.err

			w := s.do(http.MethodPost, "/api/sync", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)

			var resp map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, false, resp["success"])
			assert.Contains(t, resp["error"], tt.wantError)
		})
	}
}

func TestTrigger_RequiresToken(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/sync", nil)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, s.syncer.requests)
}

func TestStatus(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/sync/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var report status.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, status.StatusIdle, report.Status)
	assert.Nil(t, report.LastSync)

	run, err := s.tracker.Begin(context.Background(), model.DirectionToRemote, model.ModeStandard)
	require.NoError(t, err)

	w = s.do(http.MethodGet, "/api/sync/status", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, status.StatusSyncing, report.Status)
	assert.Equal(t, run.ID, report.CurrentRunID)

	require.NoError(t, s.tracker.Finish(run))

	w = s.do(http.MethodGet, "/api/sync/status", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, status.StatusSuccess, report.Status)
	assert.NotNil(t, report.LastSync)
}

func TestRunsAndRun(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	run, err := s.tracker.Begin(ctx, model.DirectionFromLocal, model.ModeStandard)
	require.NoError(t, err)
	run.Processed = 2
	run.AddError(model.ItemError{Item: "broken", Message: "title is required"})
	require.NoError(t, s.tracker.Finish(run))

	w := s.do(http.MethodGet, "/api/sync/runs?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Success bool            `json:"success"`
		Runs    []model.SyncRun `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.True(t, list.Success)
	require.Len(t, list.Runs, 1)
	assert.Equal(t, run.ID, list.Runs[0].ID)
	assert.Equal(t, 2, list.Runs[0].Processed)
	require.Len(t, list.Runs[0].Errors, 1)

	w = s.do(http.MethodGet, "/api/sync/runs/"+run.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var one struct {
		Run model.SyncRun `json:"run"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	assert.Equal(t, model.DirectionFromLocal, one.Run.Direction)

	w = s.do(http.MethodGet, "/api/sync/runs/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestParseLimit(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{"", 20},
		{"abc", 20},
		{"-1", 20},
		{"5", 5},
		{"1000", 200},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLimit(tt.raw, defaultRunsLimit, maxRunsLimit))
		})
	}
}
