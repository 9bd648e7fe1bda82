// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Entry results recorded by the worker.
const (
	ResultSynced   = "synced"
	ResultRetry    = "retry"
	ResultTerminal = "terminal"
	ResultMissing  = "missing"
	ResultSkipped  = "skipped"
)

var (
	// Sync Worker Metrics
	SyncEntriesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_entries_processed_total",
			Help: "Queue entries processed by the sync worker, by outcome",
		},
		[]string{"result"}, // synced, retry, terminal, missing, skipped
	)

	SyncBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_batch_duration_seconds",
			Help:    "Duration of one sync batch in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)

	SyncBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_batch_size",
			Help:    "Number of due entries picked up per batch",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of the last successful discovery sync",
		},
	)

	SyncWorkerRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_worker_running",
			Help: "1 while the sync worker loop is running",
		},
	)

	// Queue Metrics
	QueueEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sync_queue_entries",
			Help: "Sync queue entries by status, refreshed after each batch",
		},
		[]string{"status"},
	)

	// Target Store Metrics
	TargetWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "target_write_duration_seconds",
			Help:    "Duration of writes to the authoritative store",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"adapter"},
	)

	TargetWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "target_write_errors_total",
			Help: "Failed writes to the authoritative store by error kind",
		},
		[]string{"adapter", "kind"}, // unreachable, rejected, validation
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordEntry counts one processed queue entry.
func RecordEntry(result string) {
	SyncEntriesProcessed.WithLabelValues(result).Inc()
	if result == ResultSynced {
		SyncLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordBatch records the size and duration of a worker batch.
func RecordBatch(size int, duration time.Duration) {
	SyncBatchSize.Observe(float64(size))
	SyncBatchDuration.Observe(duration.Seconds())
}

// RecordTargetWrite records a write attempt against the authoritative store.
// kind is empty on success.
func RecordTargetWrite(adapter string, duration time.Duration, kind string) {
	TargetWriteDuration.WithLabelValues(adapter).Observe(duration.Seconds())
	if kind != "" {
		TargetWriteErrors.WithLabelValues(adapter, kind).Inc()
	}
}

// UpdateQueueGauges publishes the per-status queue counts.
func UpdateQueueGauges(pending, syncing, synced, failed int64) {
	QueueEntries.WithLabelValues("pending").Set(float64(pending))
	QueueEntries.WithLabelValues("syncing").Set(float64(syncing))
	QueueEntries.WithLabelValues("synced").Set(float64(synced))
	QueueEntries.WithLabelValues("max_retries_exceeded").Set(float64(failed))
}

// SetWorkerRunning flips the worker gauge.
func SetWorkerRunning(running bool) {
	if running {
		SyncWorkerRunning.Set(1)
		return
	}
	SyncWorkerRunning.Set(0)
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
