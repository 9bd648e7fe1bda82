// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package queue

import (
	"errors"
	"time"
)

// Status is the sync state of a queue entry.
type Status string

// Entry states. max_retries_exceeded is terminal until an operator retries.
const (
	StatusPending            Status = "pending"
	StatusSyncing            Status = "syncing"
	StatusSynced             Status = "synced"
	StatusMaxRetriesExceeded Status = "max_retries_exceeded"
)

// Sentinel errors.
var (
	// ErrAlreadyQueued is returned by Enqueue when the discovery already has
	// an entry. It is not a storage failure.
	ErrAlreadyQueued = errors.New("discovery already queued")

	// ErrNotFound means no entry has the requested id.
	ErrNotFound = errors.New("queue entry not found")

	// ErrNotRetryable is returned when retrying an entry that already synced.
	ErrNotRetryable = errors.New("queue entry is not retryable")
)

// Entry is one row of the sync queue.
type Entry struct {
	ID             int64          `json:"queue_id"`
	DiscoveryID    int64          `json:"discovery_id"`
	Status         Status         `json:"sync_status"`
	Attempts       int            `json:"sync_attempts"`
	MaxAttempts    int            `json:"max_attempts"`
	LastAttempt    *time.Time     `json:"last_sync_attempt,omitempty"`
	NextRetryAfter *time.Time     `json:"next_retry_after,omitempty"`
	Error          string         `json:"sync_error,omitempty"`
	TargetID       *int64         `json:"target_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	SyncedAt       *time.Time     `json:"synced_at,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// IsTerminal reports whether the worker will never pick the entry up again
// without operator action.
func (e *Entry) IsTerminal() bool {
	return e.Status == StatusMaxRetriesExceeded
}

// FailedItem is a terminally failed entry with enough discovery context for
// an operator to triage it. Context fields are empty when the discovery is
// gone from the local store.
type FailedItem struct {
	Entry
	SystemName    string `json:"system_name,omitempty"`
	Location      string `json:"location,omitempty"`
	DiscoveryType string `json:"discovery_type,omitempty"`
	Username      string `json:"username,omitempty"`
}

// Statistics aggregates the queue. Failed counts max_retries_exceeded rows.
type Statistics struct {
	Pending            int64      `json:"pending"`
	Syncing            int64      `json:"syncing"`
	Synced             int64      `json:"synced"`
	Failed             int64      `json:"failed"`
	Total              int64      `json:"total"`
	LastSync           *time.Time `json:"last_sync,omitempty"`
	AvgSyncTimeSeconds float64    `json:"avg_sync_time_seconds"`
}
