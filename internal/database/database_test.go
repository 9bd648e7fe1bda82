// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/duckdb/duckdb-go/v2"
	"github.com/ncruces/go-sqlite3"
)

func TestOpenSQLite_CreatesFileAndAppliesPragmas(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "keeper.db")

	db, err := Open(ctx, DriverSQLite, path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode query: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	var fk int
	if err := db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("foreign_keys query: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

func TestOpenDuckDB_InMemory(t *testing.T) {
	ctx := context.Background()

	db, err := Open(ctx, DriverDuckDB, ":memory:")
	if err != nil {
		t.Fatalf("Open(duckdb) error = %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRowContext(ctx, "SELECT 41 + 1").Scan(&n); err != nil {
		t.Fatalf("select: %v", err)
	}
	if n != 42 {
		t.Errorf("got %d, want 42", n)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "x"); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFormatAndParseTime(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 891_000_000, time.FixedZone("X", 3600))

	s := FormatTime(ts)
	if s != "2026-03-04T04:06:07.891Z" {
		t.Errorf("FormatTime() = %q", s)
	}

	got, err := ParseTime(s)
	if err != nil {
		t.Fatalf("ParseTime() error = %v", err)
	}
	if !got.Equal(ts) {
		t.Errorf("round trip = %v, want %v", got, ts)
	}

	if _, err := ParseTime("2026-03-04 04:06:07"); err != nil {
		t.Errorf("CURRENT_TIMESTAMP form should parse: %v", err)
	}
	if _, err := ParseTime("yesterday"); err == nil {
		t.Error("expected error for garbage timestamp")
	}
}

func TestFormatTime_SortsLexically(t *testing.T) {
	early := FormatTime(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	late := FormatTime(time.Date(2026, 1, 1, 10, 0, 0, 5_000_000, time.UTC))
	if !(early < late) {
		t.Errorf("expected %q < %q", early, late)
	}
}

func TestNullHelpers(t *testing.T) {
	if NullTime(nil).Valid {
		t.Error("NullTime(nil) should be invalid")
	}
	if TimePtr(sql.NullString{}) != nil {
		t.Error("TimePtr(null) should be nil")
	}
	if TimePtr(sql.NullString{String: "bogus", Valid: true}) != nil {
		t.Error("TimePtr(bogus) should be nil")
	}

	v := int64(7)
	if n := NullInt64(&v); !n.Valid || n.Int64 != 7 {
		t.Errorf("NullInt64 = %+v", n)
	}
	if p := Int64Ptr(sql.NullInt64{Int64: 9, Valid: true}); p == nil || *p != 9 {
		t.Errorf("Int64Ptr = %v", p)
	}
	if Int64Ptr(sql.NullInt64{}) != nil {
		t.Error("Int64Ptr(null) should be nil")
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{sql.ErrConnDone, true},
		{context.DeadlineExceeded, true},
		{errors.New("sqlite3: database is locked"), true},
		{errors.New("unable to open database file"), true},
		{errors.New("UNIQUE constraint failed: discoveries.id"), false},
	}
	for _, tt := range tests {
		if got := IsConnectionError(tt.err); got != tt.want {
			t.Errorf("IsConnectionError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestIsDataError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sqlite constraint code", fmt.Errorf("insert: %w", sqlite3.CONSTRAINT), true},
		{"sqlite mismatch code", sqlite3.MISMATCH, true},
		{"sqlite readonly code", sqlite3.READONLY, false},
		{"sqlite full code", sqlite3.FULL, false},
		{"duckdb constraint", &duckdb.Error{Type: duckdb.ErrorTypeConstraint, Msg: "Constraint Error: NOT NULL"}, true},
		{"duckdb io", &duckdb.Error{Type: duckdb.ErrorTypeIO, Msg: "IO Error: disk full"}, false},
		{"constraint text", errors.New("NOT NULL constraint failed: discoveries.discovery_type"), true},
		{"readonly text", errors.New("attempt to write a readonly database"), false},
		{"disk full text", errors.New("database or disk is full"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDataError(tt.err); got != tt.want {
				t.Errorf("IsDataError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
