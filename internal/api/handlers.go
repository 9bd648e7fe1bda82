// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

// Package api serves the sync Status API: worker health, queue aggregates,
// the failed-item list and manual retry and sync actions.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/havensync/internal/queue"
	"github.com/tomtom215/havensync/internal/worker"
)

const (
	// DefaultFailedLimit is used when /sync/failed has no limit parameter.
	DefaultFailedLimit = 20

	// MaxFailedLimit is the largest accepted limit.
	MaxFailedLimit = 1000
)

// QueueStore is the part of the queue the API reads and retries through.
type QueueStore interface {
	GetStatistics(ctx context.Context) (*queue.Statistics, error)
	GetFailedItems(ctx context.Context, limit int) ([]queue.FailedItem, error)
	RetryFailedItem(ctx context.Context, id int64) (*queue.Entry, error)
}

// SyncWorker is the worker surface the API reports on.
type SyncWorker interface {
	IsRunning() bool
	Stats() worker.Stats
	SyncDiscovery(ctx context.Context, discoveryID int64) (*worker.SyncResult, error)
}

// Handler holds the Status API dependencies. Worker may be nil when the
// process runs without a sync worker; health and status then report 503.
type Handler struct {
	queue       QueueStore
	worker      SyncWorker
	failedLimit int
	startTime   time.Time
}

// NewHandler creates a Handler. A failedLimit of zero selects
// DefaultFailedLimit.
func NewHandler(q QueueStore, w SyncWorker, failedLimit int) *Handler {
	if failedLimit <= 0 || failedLimit > MaxFailedLimit {
		failedLimit = DefaultFailedLimit
	}
	return &Handler{
		queue:       q,
		worker:      w,
		failedLimit: failedLimit,
		startTime:   time.Now(),
	}
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string    `json:"status"`
	WorkerPresent bool      `json:"worker_present"`
	WorkerRunning bool      `json:"worker_running"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Timestamp     time.Time `json:"timestamp"`
}

// StatusResponse is returned by GET /sync/status.
type StatusResponse struct {
	Worker worker.Stats `json:"worker"`
	Queue  QueueCounts  `json:"queue"`
}

// QueueCounts is the per-status breakdown embedded in StatusResponse.
type QueueCounts struct {
	Pending int64 `json:"pending"`
	Syncing int64 `json:"syncing"`
	Synced  int64 `json:"synced"`
	Failed  int64 `json:"failed"`
}

// FailedResponse is returned by GET /sync/failed.
type FailedResponse struct {
	Items []queue.FailedItem `json:"items"`
	Count int                `json:"count"`
}

// RetryResponse is returned by POST /sync/retry/{queue_id}.
type RetryResponse struct {
	Success   bool         `json:"success"`
	QueueItem *queue.Entry `json:"queue_item"`
}

// Health reports worker presence and running state.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.worker == nil {
		respondError(w, r, http.StatusServiceUnavailable, "Sync worker not initialized", nil)
		return
	}

	running := h.worker.IsRunning()
	status := "healthy"
	if !running {
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:        status,
		WorkerPresent: true,
		WorkerRunning: running,
		UptimeSeconds: time.Since(h.startTime).Seconds(),
		Timestamp:     time.Now().UTC(),
	})
}

// SyncStatus combines worker stats with queue counts.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	if h.worker == nil {
		respondError(w, r, http.StatusServiceUnavailable, "Sync worker not initialized", nil)
		return
	}

	stats, err := h.queue.GetStatistics(r.Context())
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "Failed to load queue statistics", err)
		return
	}
	respondJSON(w, http.StatusOK, StatusResponse{
		Worker: h.worker.Stats(),
		Queue: QueueCounts{
			Pending: stats.Pending,
			Syncing: stats.Syncing,
			Synced:  stats.Synced,
			Failed:  stats.Failed,
		},
	})
}

// SyncStatistics returns the full queue statistics.
func (h *Handler) SyncStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.GetStatistics(r.Context())
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "Failed to load queue statistics", err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// FailedItems lists terminally failed entries, newest attempt first.
func (h *Handler) FailedItems(w http.ResponseWriter, r *http.Request) {
	limit := h.failedLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxFailedLimit {
			respondError(w, r, http.StatusBadRequest, "limit must be an integer between 1 and 1000", nil)
			return
		}
		limit = n
	}

	items, err := h.queue.GetFailedItems(r.Context(), limit)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "Failed to load failed items", err)
		return
	}
	if items == nil {
		items = []queue.FailedItem{}
	}
	respondJSON(w, http.StatusOK, FailedResponse{Items: items, Count: len(items)})
}

// RetryItem resets a failed entry to pending with a fresh attempt budget.
func (h *Handler) RetryItem(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "queue_id")
	if !ok {
		return
	}

	entry, err := h.queue.RetryFailedItem(r.Context(), id)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "Queue item not found", nil)
		return
	case errors.Is(err, queue.ErrNotRetryable):
		respondError(w, r, http.StatusConflict, "Queue item already synced", nil)
		return
	case err != nil:
		respondError(w, r, http.StatusInternalServerError, "Failed to retry queue item", err)
		return
	}

	respondJSON(w, http.StatusOK, RetryResponse{Success: true, QueueItem: entry})
}

// SyncDiscovery syncs one discovery immediately, queueing it first when it
// has no entry.
func (h *Handler) SyncDiscovery(w http.ResponseWriter, r *http.Request) {
	if h.worker == nil {
		respondError(w, r, http.StatusServiceUnavailable, "Sync worker not initialized", nil)
		return
	}
	id, ok := parseID(w, r, "discovery_id")
	if !ok {
		return
	}

	result, err := h.worker.SyncDiscovery(r.Context(), id)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "Failed to sync discovery", err)
		return
	}

	status := http.StatusOK
	if result.Status == worker.SyncQueued {
		status = http.StatusAccepted
	}
	respondJSON(w, status, result)
}

// parseID reads a positive integer URL parameter, writing 400 on failure.
func parseID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, r, http.StatusBadRequest, "Invalid "+param, nil)
		return 0, false
	}
	return id, true
}
