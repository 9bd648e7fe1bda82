// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

// Package database opens the embedded SQL engines used by havensync.
//
// SQLite (ncruces/go-sqlite3, no cgo) backs the keeper discoveries table, the
// sync queue and, by default, the authoritative Haven database. DuckDB is
// accepted as an alternative engine for the authoritative database.
//
// Timestamps are stored as fixed-width UTC text (see TimeLayout) so that
// string comparison matches chronological order and SQLite's julianday()
// can read them.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/duckdb/duckdb-go/v2"
	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverDuckDB = "duckdb"
)

// TimeLayout is the on-disk timestamp format. Always UTC, always millisecond
// precision, so values sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Open opens the database at path with the named driver and verifies the
// connection.
func Open(ctx context.Context, driver, path string) (*sql.DB, error) {
	switch driver {
	case DriverSQLite, "":
		return OpenSQLite(ctx, path)
	case DriverDuckDB:
		return OpenDuckDB(ctx, path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// OpenSQLite opens a SQLite file with WAL journaling, a 5s busy timeout,
// foreign keys on and IMMEDIATE transactions. The pragmas go in the DSN so
// that every pooled connection gets them.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(wal)")
	params.Add("_pragma", "foreign_keys(on)")
	params.Set("_txlock", "immediate")

	conn, err := sql.Open("sqlite3", "file:"+path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		CloseQuietly(conn)
		return nil, fmt.Errorf("failed to ping sqlite database %s: %w", path, err)
	}
	return conn, nil
}

// OpenDuckDB opens a DuckDB file. An empty path or ":memory:" opens an
// in-memory database.
func OpenDuckDB(ctx context.Context, path string) (*sql.DB, error) {
	dsn := path
	if path == "" || path == ":memory:" {
		dsn = ""
	} else if err := ensureDir(path); err != nil {
		return nil, err
	}

	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb database %s: %w", path, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		CloseQuietly(conn)
		return nil, fmt.Errorf("failed to ping duckdb database %s: %w", path, err)
	}
	return conn, nil
}

// ensureDir creates the parent directory with 0750 permissions.
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	return nil
}

// FormatTime renders t in TimeLayout (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stored timestamp. It accepts TimeLayout, RFC3339 and
// SQLite's CURRENT_TIMESTAMP form so rows written by other tools still load.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// NullTime converts an optional time to a nullable column value.
func NullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: FormatTime(*t), Valid: true}
}

// TimePtr converts a nullable column into an optional time. Unparseable
// values become nil.
func TimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := ParseTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// Int64Ptr converts a nullable integer column.
func Int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

// NullInt64 converts an optional integer to a nullable column value.
func NullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

// IsConnectionError reports whether err indicates the database itself is
// unavailable rather than a statement failing.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"bad connection",
		"database is closed",
		"database is locked",
		"unable to open database",
		"disk i/o error",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsDataError reports whether err is the store refusing the row itself:
// a constraint violation, a type mismatch or an oversized value. Storage
// faults such as a full disk or a read-only file are not data errors.
func IsDataError(err error) bool {
	if err == nil {
		return false
	}
	for _, code := range []sqlite3.ErrorCode{sqlite3.CONSTRAINT, sqlite3.MISMATCH, sqlite3.TOOBIG} {
		if errors.Is(err, code) {
			return true
		}
	}
	var duckErr *duckdb.Error
	if errors.As(err, &duckErr) {
		switch duckErr.Type {
		case duckdb.ErrorTypeConstraint, duckdb.ErrorTypeMismatchType,
			duckdb.ErrorTypeConversion, duckdb.ErrorTypeInvalidType, duckdb.ErrorTypeObjectSize:
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"constraint failed",
		"datatype mismatch",
		"constraint error",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// CloseQuietly closes a resource and ignores the error. Use only on error
// paths where the close result is not actionable.
func CloseQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}
