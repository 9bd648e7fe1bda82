// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

/*
Package worker drains the sync queue into the authoritative store.

A Worker runs one background goroutine. Every Interval it pulls up to
BatchSize due entries and processes them one at a time:

 1. mark the entry syncing
 2. read the discovery from the local store (missing is terminal)
 3. map it with models.ToTarget (invalid is terminal)
 4. write it through the target.Adapter

A successful write marks the entry synced with the authoritative id. An
unreachable store reschedules the entry with exponential backoff until its
attempt budget is spent. A write the store refuses on constraint or type
grounds is terminal straight away. Auth failures, missing tables and storage
faults count as unreachable and are retried.

A panic inside the loop is recovered and reported through Done and Err so a
supervisor can restart the worker.

Stop cancels the wait between batches. A write already in flight runs on a
context detached from cancellation, so its outcome is always recorded.
*/
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/tomtom215/havensync/internal/keeper"
	"github.com/tomtom215/havensync/internal/logging"
	"github.com/tomtom215/havensync/internal/metrics"
	"github.com/tomtom215/havensync/internal/models"
	"github.com/tomtom215/havensync/internal/queue"
	"github.com/tomtom215/havensync/internal/target"
)

// Lifecycle errors.
var (
	ErrAlreadyRunning = errors.New("sync worker is already running")
	ErrNotRunning     = errors.New("sync worker is not running")
	ErrLoopPanicked   = errors.New("sync worker loop panicked")
)

// QueueStore is the subset of queue.Store the worker drives.
type QueueStore interface {
	Enqueue(ctx context.Context, discoveryID int64, metadata map[string]any) (int64, error)
	GetDueEntries(ctx context.Context, limit int) ([]queue.Entry, error)
	GetEntryByDiscovery(ctx context.Context, discoveryID int64) (*queue.Entry, error)
	MarkSyncing(ctx context.Context, id int64) error
	MarkSynced(ctx context.Context, id, targetID int64) error
	MarkFailed(ctx context.Context, id int64, cause error) (int, error)
	MarkMaxRetriesExceeded(ctx context.Context, id int64, reason string) error
	ResetStuckSyncing(ctx context.Context) (int64, error)
	GetStatistics(ctx context.Context) (*queue.Statistics, error)
}

// DiscoveryReader reads full discoveries from the local store. It returns
// keeper.ErrNotFound for an unknown id.
type DiscoveryReader interface {
	GetDiscovery(ctx context.Context, id int64) (*models.Discovery, error)
}

// EventPublisher receives live sync events. Publish must not block.
type EventPublisher interface {
	Publish(eventType string, data any)
}

// Live event types.
const (
	EventEntryProcessed = "entry_processed"
	EventBatchCompleted = "batch_completed"
)

// EntryEvent is published after each processed entry.
type EntryEvent struct {
	QueueID     int64     `json:"queue_id"`
	DiscoveryID int64     `json:"discovery_id"`
	Result      string    `json:"result"`
	Timestamp   time.Time `json:"timestamp"`
}

// Config controls the batch loop.
type Config struct {
	Interval  time.Duration
	BatchSize int

	// Events, when set, receives entry and batch outcomes.
	Events EventPublisher
}

// DefaultConfig waits 30s between batches of 10.
func DefaultConfig() Config {
	return Config{Interval: 30 * time.Second, BatchSize: 10}
}

// Stats is the worker's view of itself. Counters live for the process only.
type Stats struct {
	IsRunning           bool       `json:"is_running"`
	Adapter             string     `json:"adapter"`
	SyncIntervalSeconds float64    `json:"sync_interval_seconds"`
	BatchSize           int        `json:"batch_size"`
	TotalSynced         int64      `json:"total_synced"`
	TotalFailed         int64      `json:"total_failed"`
	UptimeSeconds       float64    `json:"uptime_seconds"`
	LastSyncTime        *time.Time `json:"last_sync_time"`
	LastBatchSize       int        `json:"last_batch_size"`
}

// BatchResult counts the outcomes of one ProcessBatch call.
type BatchResult struct {
	Due      int `json:"due"`
	Synced   int `json:"synced"`
	Retried  int `json:"retried"`
	Terminal int `json:"terminal"`
	Skipped  int `json:"skipped"`
}

// Manual sync outcomes.
const (
	SyncQueued         = "queued"
	SyncAlreadySynced  = "already_synced"
	SyncSynced         = "synced"
	SyncRetryScheduled = "retry_scheduled"
	SyncFailed         = "failed"
)

// SyncResult reports a manual SyncDiscovery call.
type SyncResult struct {
	Status   string `json:"status"`
	QueueID  int64  `json:"queue_id"`
	TargetID *int64 `json:"target_id,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Worker reconciles queued discoveries into the authoritative store.
type Worker struct {
	queue   QueueStore
	reader  DiscoveryReader
	adapter target.Adapter
	cfg     Config
	now     func() time.Time

	// syncMu serializes entry processing between the loop and manual syncs.
	syncMu sync.Mutex

	mu            sync.RWMutex
	cancel        context.CancelFunc
	running       bool
	startTime     time.Time
	lastSync      time.Time
	totalSynced   int64
	totalFailed   int64
	lastBatchSize int
	done          chan struct{}
	loopErr       error

	wg sync.WaitGroup
}

// New builds a worker. Zero config fields take DefaultConfig values.
func New(q QueueStore, reader DiscoveryReader, adapter target.Adapter, cfg Config) *Worker {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	return &Worker{
		queue:   q,
		reader:  reader,
		adapter: adapter,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Start launches the batch loop. Entries left in syncing by a previous
// process are returned to pending first.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}

	if _, err := w.queue.ResetStuckSyncing(ctx); err != nil {
		logging.Warn().Err(err).Msg("Could not recover entries stuck in syncing")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.startTime = w.now()
	w.done = make(chan struct{})
	w.loopErr = nil
	done := w.done
	w.wg.Add(1)
	w.mu.Unlock()

	metrics.SetWorkerRunning(true)
	logging.Info().
		Str("adapter", w.adapter.Name()).
		Dur("interval", w.cfg.Interval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Sync worker started")

	go w.loop(loopCtx, done)
	return nil
}

// Stop cancels the loop and waits for it to exit. An entry being written
// when Stop is called finishes first.
func (w *Worker) Stop() error {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return ErrNotRunning
	}

	logging.Info().Msg("Stopping sync worker...")
	cancel()
	w.wg.Wait()
	logging.Info().Msg("Sync worker stopped")
	return nil
}

// Done returns a channel closed when the loop goroutine exits, whether by
// Stop, by cancellation of the Start context or by a panic. It is nil before
// the first Start.
func (w *Worker) Done() <-chan struct{} {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.done
}

// Err returns why the last loop exited abnormally, wrapping ErrLoopPanicked,
// or nil after a clean stop.
func (w *Worker) Err() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.loopErr
}

// IsRunning reports whether the loop goroutine is alive.
func (w *Worker) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := Stats{
		IsRunning:           w.running,
		Adapter:             w.adapter.Name(),
		SyncIntervalSeconds: w.cfg.Interval.Seconds(),
		BatchSize:           w.cfg.BatchSize,
		TotalSynced:         w.totalSynced,
		TotalFailed:         w.totalFailed,
		LastBatchSize:       w.lastBatchSize,
	}
	if w.running {
		s.UptimeSeconds = w.now().Sub(w.startTime).Seconds()
	}
	if !w.lastSync.IsZero() {
		last := w.lastSync
		s.LastSyncTime = &last
	}
	return s
}

func (w *Worker) loop(ctx context.Context, done chan struct{}) {
	defer w.wg.Done()
	defer close(done)
	defer func() {
		var loopErr error
		if r := recover(); r != nil {
			loopErr = fmt.Errorf("%w: %v", ErrLoopPanicked, r)
			logging.Error().
				Str("panic", fmt.Sprint(r)).
				Str("stack", string(debug.Stack())).
				Msg("Sync worker loop panicked")
		}
		w.mu.Lock()
		w.running = false
		w.loopErr = loopErr
		w.mu.Unlock()
		metrics.SetWorkerRunning(false)
	}()

	timer := time.NewTimer(w.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if _, err := w.ProcessBatch(ctx); err != nil {
				logging.Error().Err(err).Msg("Sync batch failed")
			}
			timer.Reset(w.cfg.Interval)
		}
	}
}

// ProcessBatch processes the due entries sequentially. Cancelling ctx stops
// the batch before the next entry; the current one still completes.
func (w *Worker) ProcessBatch(ctx context.Context) (BatchResult, error) {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()

	start := w.now()
	var res BatchResult

	entries, err := w.queue.GetDueEntries(ctx, w.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("failed to load due entries: %w", err)
	}
	res.Due = len(entries)

	w.mu.Lock()
	w.lastBatchSize = len(entries)
	w.mu.Unlock()

	if len(entries) > 0 {
		logging.Info().Int("entries", len(entries)).Msg("Processing sync batch")
	}

	for i := range entries {
		if ctx.Err() != nil {
			logging.Info().Int("remaining", len(entries)-i).Msg("Sync batch interrupted, remaining entries stay pending")
			break
		}
		switch w.processEntry(context.WithoutCancel(ctx), &entries[i]) {
		case metrics.ResultSynced:
			res.Synced++
		case metrics.ResultRetry:
			res.Retried++
		case metrics.ResultTerminal, metrics.ResultMissing:
			res.Terminal++
		default:
			res.Skipped++
		}
	}

	metrics.RecordBatch(len(entries), w.now().Sub(start))
	w.refreshQueueGauges(ctx)

	if res.Due > 0 {
		w.publish(EventBatchCompleted, res)
		logging.Info().
			Int("synced", res.Synced).
			Int("retried", res.Retried).
			Int("terminal", res.Terminal).
			Int("skipped", res.Skipped).
			Msg("Sync batch complete")
	}
	return res, nil
}

// processEntry runs one entry through the pipeline and returns its metrics
// result label.
func (w *Worker) processEntry(ctx context.Context, e *queue.Entry) string {
	result := w.syncEntry(ctx, e)
	metrics.RecordEntry(result)
	w.publish(EventEntryProcessed, EntryEvent{
		QueueID:     e.ID,
		DiscoveryID: e.DiscoveryID,
		Result:      result,
		Timestamp:   w.now().UTC(),
	})
	return result
}

func (w *Worker) publish(eventType string, data any) {
	if w.cfg.Events != nil {
		w.cfg.Events.Publish(eventType, data)
	}
}

func (w *Worker) syncEntry(ctx context.Context, e *queue.Entry) string {
	log := logging.With().Int64("queue_id", e.ID).Int64("discovery_id", e.DiscoveryID).Logger()

	if err := w.queue.MarkSyncing(ctx, e.ID); err != nil {
		log.Warn().Err(err).Msg("Could not mark entry syncing, skipping")
		return metrics.ResultSkipped
	}

	d, err := w.reader.GetDiscovery(ctx, e.DiscoveryID)
	if errors.Is(err, keeper.ErrNotFound) {
		reason := fmt.Sprintf("discovery %d not found in local store", e.DiscoveryID)
		if err := w.queue.MarkMaxRetriesExceeded(ctx, e.ID, reason); err != nil {
			log.Error().Err(err).Msg("Failed to mark missing discovery terminal")
		}
		w.countFailure()
		return metrics.ResultMissing
	}
	if err != nil {
		return w.fail(ctx, e, fmt.Errorf("read local discovery: %w", err))
	}

	payload, err := models.ToTarget(d)
	if err != nil {
		return w.fail(ctx, e, err)
	}

	start := w.now()
	written, err := w.adapter.Write(ctx, payload)
	metrics.RecordTargetWrite(w.adapter.Name(), w.now().Sub(start), errorKind(err))
	if err != nil {
		return w.fail(ctx, e, err)
	}

	if err := w.queue.MarkSynced(ctx, e.ID, written.DiscoveryID); err != nil {
		// The write landed; the entry stays syncing and is re-sent after a
		// restart.
		log.Error().Err(err).Int64("target_id", written.DiscoveryID).Msg("Discovery written but queue update failed")
		return metrics.ResultSkipped
	}

	w.mu.Lock()
	w.totalSynced++
	w.lastSync = w.now()
	w.mu.Unlock()

	log.Info().
		Int64("target_id", written.DiscoveryID).
		Bool("system_linked", written.SystemID != nil).
		Msg("Discovery synced")
	return metrics.ResultSynced
}

// fail records a failed attempt. Transient errors are rescheduled until the
// budget is spent; rejected and invalid payloads go terminal at once.
func (w *Worker) fail(ctx context.Context, e *queue.Entry, cause error) string {
	w.countFailure()
	log := logging.With().Int64("queue_id", e.ID).Int64("discovery_id", e.DiscoveryID).Logger()

	attempts, err := w.queue.MarkFailed(ctx, e.ID, cause)
	if err != nil {
		log.Error().Err(err).AnErr("cause", cause).Msg("Failed to record sync failure")
		return metrics.ResultSkipped
	}

	terminal := !isTransient(cause)
	if !terminal && attempts < e.MaxAttempts {
		return metrics.ResultRetry
	}

	if err := w.queue.MarkMaxRetriesExceeded(ctx, e.ID, ""); err != nil {
		log.Error().Err(err).Msg("Failed to mark entry terminal")
		return metrics.ResultSkipped
	}
	log.Error().
		Err(cause).
		Int("attempts", attempts).
		Bool("retryable", !terminal).
		Msg("Discovery sync failed permanently")
	return metrics.ResultTerminal
}

func (w *Worker) countFailure() {
	w.mu.Lock()
	w.totalFailed++
	w.mu.Unlock()
}

func (w *Worker) refreshQueueGauges(ctx context.Context) {
	stats, err := w.queue.GetStatistics(context.WithoutCancel(ctx))
	if err != nil {
		logging.Debug().Err(err).Msg("Could not refresh queue gauges")
		return
	}
	metrics.UpdateQueueGauges(stats.Pending, stats.Syncing, stats.Synced, stats.Failed)
}

// SyncDiscovery syncs one discovery on demand. A discovery with no entry is
// enqueued for the next batch. A pending entry is processed now, ignoring its
// retry delay. Terminal entries need RetryFailedItem first.
func (w *Worker) SyncDiscovery(ctx context.Context, discoveryID int64) (*SyncResult, error) {
	w.syncMu.Lock()
	defer w.syncMu.Unlock()

	e, err := w.queue.GetEntryByDiscovery(ctx, discoveryID)
	if errors.Is(err, queue.ErrNotFound) {
		id, err := w.queue.Enqueue(ctx, discoveryID, map[string]any{"source": "manual"})
		if err != nil && !errors.Is(err, queue.ErrAlreadyQueued) {
			return nil, fmt.Errorf("failed to enqueue discovery %d: %w", discoveryID, err)
		}
		logging.Info().Int64("discovery_id", discoveryID).Msg("Manually queued discovery for sync")
		return &SyncResult{Status: SyncQueued, QueueID: id, Message: "queued for the next batch"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up queue entry: %w", err)
	}

	switch e.Status {
	case queue.StatusSynced:
		return &SyncResult{Status: SyncAlreadySynced, QueueID: e.ID, TargetID: e.TargetID}, nil
	case queue.StatusMaxRetriesExceeded:
		return &SyncResult{Status: SyncFailed, QueueID: e.ID, Message: "entry failed permanently; retry it first"}, nil
	case queue.StatusSyncing:
		return &SyncResult{Status: SyncQueued, QueueID: e.ID, Message: "sync already in progress"}, nil
	}

	result := w.processEntry(context.WithoutCancel(ctx), e)

	out := &SyncResult{QueueID: e.ID}
	switch result {
	case metrics.ResultSynced:
		out.Status = SyncSynced
	case metrics.ResultRetry:
		out.Status = SyncRetryScheduled
	default:
		out.Status = SyncFailed
	}
	if fresh, err := w.queue.GetEntryByDiscovery(ctx, discoveryID); err == nil {
		out.TargetID = fresh.TargetID
		out.Message = fresh.Error
	}
	return out, nil
}

// isTransient reports whether a failure should consume the retry budget
// rather than fail fast.
func isTransient(err error) bool {
	if models.IsValidationError(err) {
		return false
	}
	return target.IsRetryable(err)
}

func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, target.ErrUnreachable):
		return "unreachable"
	case errors.Is(err, target.ErrRejected):
		return "rejected"
	default:
		return "unknown"
	}
}
