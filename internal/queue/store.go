// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

// Package queue is the durable sync queue: one row per discovery awaiting
// reconciliation into the authoritative store.
//
// Uniqueness of discovery_id is enforced by the table, not by a read before
// insert, so concurrent Enqueue calls for the same discovery produce exactly
// one row. Rows leave the table only through CleanupOldSyncedItems, and only
// once synced.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/havensync/internal/database"
	"github.com/tomtom215/havensync/internal/logging"
)

// Defaults for new entries and retry scheduling.
const (
	DefaultMaxAttempts = 10
	DefaultBaseDelay   = 30 * time.Second

	// MaxErrorLength bounds the persisted sync_error, in runes.
	MaxErrorLength = 200

	DefaultFailedLimit = 50
	MaxFailedLimit     = 1000

	// maxBackoffExponent keeps base*2^k inside time.Duration.
	maxBackoffExponent = 20
)

const entryColumns = `id, discovery_id, sync_status, sync_attempts, max_attempts,
	last_sync_attempt, next_retry_after, sync_error, target_id,
	created_at, synced_at, metadata`

const failedColumns = `sq.id, sq.discovery_id, sq.sync_status, sq.sync_attempts, sq.max_attempts,
	sq.last_sync_attempt, sq.next_retry_after, sq.sync_error, sq.target_id,
	sq.created_at, sq.synced_at, sq.metadata`

// Store is the SQLite-backed sync queue.
type Store struct {
	db          *sql.DB
	maxAttempts int
	baseDelay   time.Duration
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMaxAttempts sets max_attempts for newly enqueued entries.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBaseDelay sets the first retry delay.
func WithBaseDelay(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.baseDelay = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore wraps an open database. Call InitSchema before use.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:          db,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// InitSchema creates the sync_queue table and its indexes.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sync_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			discovery_id INTEGER NOT NULL UNIQUE,
			sync_status TEXT NOT NULL DEFAULT 'pending'
				CHECK (sync_status IN ('pending', 'syncing', 'synced', 'max_retries_exceeded')),
			sync_attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 10,
			last_sync_attempt TEXT,
			next_retry_after TEXT,
			sync_error TEXT,
			target_id INTEGER,
			created_at TEXT NOT NULL,
			synced_at TEXT,
			metadata TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sync_queue table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_sync_queue_due
		ON sync_queue(sync_status, next_retry_after)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sync_queue due index: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_sync_queue_created
		ON sync_queue(created_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to create sync_queue created index: %w", err)
	}
	return nil
}

// Enqueue adds a pending entry for discoveryID. It returns ErrAlreadyQueued
// when the discovery already has an entry, whatever its state.
func (s *Store) Enqueue(ctx context.Context, discoveryID int64, metadata map[string]any) (int64, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to encode queue metadata: %w", err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO sync_queue (discovery_id, sync_status, max_attempts, created_at, metadata)
		VALUES (?, 'pending', ?, ?, ?)
		ON CONFLICT(discovery_id) DO NOTHING
		RETURNING id
	`, discoveryID, s.maxAttempts, database.FormatTime(s.now()), string(meta)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		logging.Debug().Int64("discovery_id", discoveryID).Msg("Discovery already in sync queue")
		return 0, ErrAlreadyQueued
	}
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue discovery %d: %w", discoveryID, err)
	}

	logging.Info().Int64("discovery_id", discoveryID).Int64("queue_id", id).Msg("Discovery added to sync queue")
	return id, nil
}

// GetDueEntries returns up to limit pending entries whose retry time has
// passed and whose attempt budget is not spent, oldest first.
func (s *Store) GetDueEntries(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM sync_queue
		WHERE sync_status = 'pending'
		  AND (next_retry_after IS NULL OR next_retry_after <= ?)
		  AND sync_attempts < max_attempts
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, database.FormatTime(s.now()), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate due entries: %w", err)
	}
	return entries, nil
}

// MarkSyncing flags an entry as in flight and stamps last_sync_attempt.
func (s *Store) MarkSyncing(ctx context.Context, id int64) error {
	return s.update(ctx, id, `
		UPDATE sync_queue
		SET sync_status = 'syncing', last_sync_attempt = ?
		WHERE id = ?
	`, database.FormatTime(s.now()), id)
}

// MarkSynced records a successful write and the id the authoritative store
// assigned.
func (s *Store) MarkSynced(ctx context.Context, id, targetID int64) error {
	return s.update(ctx, id, `
		UPDATE sync_queue
		SET sync_status = 'synced', target_id = ?, synced_at = ?, sync_error = NULL
		WHERE id = ?
	`, targetID, database.FormatTime(s.now()), id)
}

// MarkFailed records a failed attempt and reschedules the entry with
// exponential backoff: base * 2^k after the (k+1)th failure. It returns the
// new attempt count.
func (s *Store) MarkFailed(ctx context.Context, id int64, cause error) (int, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin mark-failed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var attempts int
	err = tx.QueryRowContext(ctx, `SELECT sync_attempts FROM sync_queue WHERE id = ?`, id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read attempts for entry %d: %w", id, err)
	}

	delay := Backoff(s.baseDelay, attempts)
	next := s.now().Add(delay)
	_, err = tx.ExecContext(ctx, `
		UPDATE sync_queue
		SET sync_status = 'pending',
		    sync_attempts = ?,
		    sync_error = ?,
		    next_retry_after = ?
		WHERE id = ?
	`, attempts+1, TruncateError(msg), database.FormatTime(next), id)
	if err != nil {
		return 0, fmt.Errorf("failed to mark entry %d failed: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit mark-failed for entry %d: %w", id, err)
	}

	logging.Warn().
		Int64("queue_id", id).
		Int("attempt", attempts+1).
		Dur("retry_in", delay).
		Str("error", msg).
		Msg("Sync attempt failed")
	return attempts + 1, nil
}

// MarkMaxRetriesExceeded moves the entry to the terminal state. A non-empty
// reason replaces the stored error.
func (s *Store) MarkMaxRetriesExceeded(ctx context.Context, id int64, reason string) error {
	if reason == "" {
		return s.update(ctx, id, `
			UPDATE sync_queue SET sync_status = 'max_retries_exceeded' WHERE id = ?
		`, id)
	}
	err := s.update(ctx, id, `
		UPDATE sync_queue
		SET sync_status = 'max_retries_exceeded', sync_error = ?, last_sync_attempt = COALESCE(last_sync_attempt, ?)
		WHERE id = ?
	`, TruncateError(reason), database.FormatTime(s.now()), id)
	if err == nil {
		logging.Error().Int64("queue_id", id).Str("reason", reason).Msg("Queue entry failed permanently")
	}
	return err
}

// GetStatistics aggregates counts by status, the latest sync time and the
// mean enqueue-to-sync latency.
func (s *Store) GetStatistics(ctx context.Context) (*Statistics, error) {
	var (
		stats    Statistics
		lastSync sql.NullString
		avg      sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN sync_status = 'pending' THEN 1 END),
			COUNT(CASE WHEN sync_status = 'syncing' THEN 1 END),
			COUNT(CASE WHEN sync_status = 'synced' THEN 1 END),
			COUNT(CASE WHEN sync_status = 'max_retries_exceeded' THEN 1 END),
			COUNT(*),
			MAX(synced_at),
			AVG(CASE WHEN sync_status = 'synced'
				THEN (julianday(synced_at) - julianday(created_at)) * 86400.0
			END)
		FROM sync_queue
	`).Scan(&stats.Pending, &stats.Syncing, &stats.Synced, &stats.Failed, &stats.Total, &lastSync, &avg)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue statistics: %w", err)
	}
	stats.LastSync = database.TimePtr(lastSync)
	if avg.Valid {
		stats.AvgSyncTimeSeconds = avg.Float64
	}
	return &stats, nil
}

// GetFailedItems lists terminally failed entries, most recent attempt first,
// with discovery context from the keeper discoveries table when it shares
// this database.
func (s *Store) GetFailedItems(ctx context.Context, limit int) ([]FailedItem, error) {
	if limit <= 0 {
		limit = DefaultFailedLimit
	}
	if limit > MaxFailedLimit {
		limit = MaxFailedLimit
	}

	joined, err := s.hasDiscoveriesTable(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ` + failedColumns + `,
			NULL, NULL, NULL, NULL
		FROM sync_queue sq
		WHERE sq.sync_status = 'max_retries_exceeded'
		ORDER BY sq.last_sync_attempt DESC, sq.id DESC
		LIMIT ?`
	if joined {
		query = `
		SELECT ` + failedColumns + `,
			d.system_name, d.location, d.discovery_type, d.username
		FROM sync_queue sq
		LEFT JOIN discoveries d ON sq.discovery_id = d.id
		WHERE sq.sync_status = 'max_retries_exceeded'
		ORDER BY sq.last_sync_attempt DESC, sq.id DESC
		LIMIT ?`
	}

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed items: %w", err)
	}
	defer rows.Close()

	items := []FailedItem{}
	for rows.Next() {
		var item FailedItem
		var system, location, kind, username sql.NullString
		e, err := scanEntry(rows, &system, &location, &kind, &username)
		if err != nil {
			return nil, err
		}
		item.Entry = *e
		item.SystemName = system.String
		item.Location = location.String
		item.DiscoveryType = kind.String
		item.Username = username.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate failed items: %w", err)
	}
	return items, nil
}

// RetryFailedItem resets an entry to pending with a fresh attempt budget and
// no retry delay. Synced entries return ErrNotRetryable.
func (s *Store) RetryFailedItem(ctx context.Context, id int64) (*Entry, error) {
	current, err := s.GetQueueItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == StatusSynced {
		return nil, ErrNotRetryable
	}

	err = s.update(ctx, id, `
		UPDATE sync_queue
		SET sync_status = 'pending', sync_attempts = 0, sync_error = NULL, next_retry_after = NULL
		WHERE id = ? AND sync_status <> 'synced'
	`, id)
	if err != nil {
		return nil, err
	}

	logging.Info().Int64("queue_id", id).Str("previous_status", string(current.Status)).Msg("Queue entry reset for retry")
	return s.GetQueueItem(ctx, id)
}

// GetQueueItem returns one entry by queue id.
func (s *Store) GetQueueItem(ctx context.Context, id int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM sync_queue WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// GetEntryByDiscovery returns the entry for a discovery id.
func (s *Store) GetEntryByDiscovery(ctx context.Context, discoveryID int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM sync_queue WHERE discovery_id = ?`, discoveryID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// CleanupOldSyncedItems deletes synced entries whose synced_at is older than
// days. Entries in any other state are never removed.
func (s *Store) CleanupOldSyncedItems(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, fmt.Errorf("retention days must be non-negative, got %d", days)
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_queue
		WHERE sync_status = 'synced' AND synced_at IS NOT NULL AND synced_at < ?
	`, database.FormatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up synced entries: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleaned entries: %w", err)
	}
	if deleted > 0 {
		logging.Info().Int64("deleted", deleted).Int("days", days).Msg("Cleaned up old synced queue entries")
	}
	return deleted, nil
}

// ResetStuckSyncing returns entries left in syncing by an interrupted worker
// to pending. The attempt count is untouched. Call it only while no worker
// is running.
func (s *Store) ResetStuckSyncing(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE sync_queue SET sync_status = 'pending' WHERE sync_status = 'syncing'`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset syncing entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reset entries: %w", err)
	}
	if n > 0 {
		logging.Warn().Int64("entries", n).Msg("Recovered queue entries left in syncing state")
	}
	return n, nil
}

// Backoff returns base * 2^attempts, with the exponent capped.
func Backoff(base time.Duration, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > maxBackoffExponent {
		attempts = maxBackoffExponent
	}
	return base * time.Duration(1<<uint(attempts))
}

// TruncateError bounds msg to MaxErrorLength runes, marking the cut with "...".
func TruncateError(msg string) string {
	if utf8.RuneCountInString(msg) <= MaxErrorLength {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:MaxErrorLength-3]) + "..."
}

func (s *Store) update(ctx context.Context, id int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update queue entry %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows for entry %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) hasDiscoveriesTable(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'discoveries'`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to inspect schema: %w", err)
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner, extra ...any) (*Entry, error) {
	var (
		e                                 Entry
		status                            string
		lastAttempt, nextRetry, syncError sql.NullString
		createdAt                         string
		syncedAt, metadata                sql.NullString
		targetID                          sql.NullInt64
	)
	dest := []any{
		&e.ID, &e.DiscoveryID, &status, &e.Attempts, &e.MaxAttempts,
		&lastAttempt, &nextRetry, &syncError, &targetID,
		&createdAt, &syncedAt, &metadata,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan queue entry: %w", err)
	}

	e.Status = Status(status)
	e.LastAttempt = database.TimePtr(lastAttempt)
	e.NextRetryAfter = database.TimePtr(nextRetry)
	e.Error = syncError.String
	e.TargetID = database.Int64Ptr(targetID)
	e.SyncedAt = database.TimePtr(syncedAt)
	if t, err := database.ParseTime(createdAt); err == nil {
		e.CreatedAt = t
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			logging.Warn().Int64("queue_id", e.ID).Err(err).Msg("Ignoring malformed queue metadata")
		}
	}
	return &e, nil
}
