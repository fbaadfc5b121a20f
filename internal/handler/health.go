// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package handler

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/olegiv/postsync/internal/status"
	"github.com/olegiv/postsync/internal/version"
)

// Health check statuses.
const (
	checkHealthy   = "healthy"
	checkDegraded  = "degraded"
	checkUnhealthy = "unhealthy"
)

// minFreeSpace is the free space below which the backup disk is degraded.
const minFreeSpace = 100 * 1024 * 1024

// StatusReporter reports the sync lock state.
type StatusReporter interface {
	Status(ctx context.Context) (status.Report, error)
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	db         *sql.DB
	tracker    StatusReporter
	token      string
	localDir   string
	staleAfter time.Duration
	startTime  time.Time
}

// HealthConfig configures a HealthHandler.
type HealthConfig struct {
	// APIToken unlocks the detailed response. Empty disables details.
	APIToken string
	// LocalDir is the backup directory whose disk is checked. Optional.
	LocalDir string
	// StaleLockAfter marks a lock held longer than this as degraded.
	StaleLockAfter time.Duration
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db *sql.DB, tracker StatusReporter, cfg HealthConfig) *HealthHandler {
	return &HealthHandler{
		db:         db,
		tracker:    tracker,
		token:      cfg.APIToken,
		localDir:   cfg.LocalDir,
		staleAfter: cfg.StaleLockAfter,
		startTime:  time.Now(),
	}
}

// HealthStatusPublic is the minimal health response for unauthenticated callers.
type HealthStatusPublic struct {
	Status string `json:"status"`
}

// HealthStatus represents the overall health status (authenticated callers only).
type HealthStatus struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
	System    *SystemInfo      `json:"system,omitempty"`
}

// Check represents a single health check result.
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// SystemInfo contains system-level information.
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutines"`
	NumCPU       int    `json:"num_cpus"`
	MemAlloc     string `json:"mem_alloc"`
	MemSys       string `json:"mem_sys"`
}

// Health handles GET /health requests.
// Returns minimal status for unauthenticated callers, full details for token holders.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]Check{
		"database": h.checkDatabase(r.Context()),
		"sync":     h.checkSyncLock(r.Context()),
	}
	if h.localDir != "" {
		checks["disk"] = h.checkDiskSpace()
	}

	overallStatus := checkHealthy
	for _, c := range checks {
		switch c.Status {
		case checkUnhealthy:
			overallStatus = checkUnhealthy
		case checkDegraded:
			if overallStatus == checkHealthy {
				overallStatus = checkDegraded
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if overallStatus == checkUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if !h.isAuthenticated(r) {
		_ = json.NewEncoder(w).Encode(HealthStatusPublic{Status: overallStatus})
		return
	}

	resp := HealthStatus{
		Status:    overallStatus,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   version.Get().Version,
		Checks:    checks,
	}
	if r.URL.Query().Get("verbose") == "true" {
		resp.System = getSystemInfo()
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// Liveness handles GET /health/live - simple liveness check.
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Readiness handles GET /health/ready - checks if the service is ready to accept traffic.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	dbCheck := h.checkDatabase(r.Context())
	if dbCheck.Status == checkHealthy {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	resp := map[string]string{"status": "not_ready"}
	if h.isAuthenticated(r) {
		resp["message"] = dbCheck.Message
	}
	writeJSON(w, http.StatusServiceUnavailable, resp)
}

// isAuthenticated checks the bearer token against the configured API token.
func (h *HealthHandler) isAuthenticated(r *http.Request) bool {
	if h.token == "" {
		return false
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(parts[1]), []byte(h.token)) == 1
}

// checkDatabase verifies database connectivity.
func (h *HealthHandler) checkDatabase(ctx context.Context) Check {
	start := time.Now()
	err := h.db.PingContext(ctx)
	latency := time.Since(start)

	if err != nil {
		return Check{Status: checkUnhealthy, Message: err.Error(), Latency: latency.String()}
	}
	return Check{Status: checkHealthy, Message: "Connected", Latency: latency.String()}
}

// checkSyncLock reports a lock held past the stale threshold as degraded.
func (h *HealthHandler) checkSyncLock(ctx context.Context) Check {
	if h.tracker == nil {
		return Check{Status: checkHealthy, Message: "not tracked"}
	}
	report, err := h.tracker.Status(ctx)
	if err != nil {
		return Check{Status: checkUnhealthy, Message: err.Error()}
	}
	if report.Status != status.StatusSyncing {
		return Check{Status: checkHealthy, Message: report.Status}
	}
	if h.staleAfter > 0 && report.LockedAt != nil && time.Since(*report.LockedAt) > h.staleAfter {
		return Check{
			Status:  checkDegraded,
			Message: fmt.Sprintf("lock held since %s", report.LockedAt.Format(time.RFC3339)),
		}
	}
	return Check{Status: checkHealthy, Message: "sync in progress"}
}

// checkDiskSpace checks available disk space in the local backup directory.
func (h *HealthHandler) checkDiskSpace() Check {
	if _, err := os.Stat(h.localDir); os.IsNotExist(err) {
		return Check{Status: checkHealthy, Message: "Backup directory does not exist yet"}
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(h.localDir, &stat); err != nil {
		return Check{Status: checkUnhealthy, Message: "Failed to check disk space: " + err.Error()}
	}

	availableBytes := stat.Bavail * uint64(stat.Bsize)
	available := formatBytes(availableBytes)
	if availableBytes < minFreeSpace {
		return Check{Status: checkDegraded, Message: "Low disk space: " + available + " available"}
	}
	return Check{Status: checkHealthy, Message: available + " available"}
}

// getSystemInfo returns system-level metrics.
func getSystemInfo() *SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &SystemInfo{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		MemAlloc:     formatBytes(m.Alloc),
		MemSys:       formatBytes(m.Sys),
	}
}

// formatBytes formats bytes into a human-readable string.
func formatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
