// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got '%s'", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("expected default format 'json', got '%s'", cfg.Format)
	}
	if !cfg.Timestamp {
		t.Error("expected default timestamp to be true")
	}
	if cfg.File != nil {
		t.Error("expected no file output by default")
	}
}

func TestInit_JSON(t *testing.T) {
	t.Cleanup(func() { Init(DefaultConfig()) })

	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Timestamp: true, Output: &buf})

	Info().Int64("discovery_id", 42).Msg("queued")

	output := buf.String()
	if !strings.Contains(output, `"message":"queued"`) {
		t.Errorf("expected message field, got: %s", output)
	}
	if !strings.Contains(output, `"discovery_id":42`) {
		t.Errorf("expected discovery_id field, got: %s", output)
	}
	if !strings.Contains(output, `"time":`) {
		t.Errorf("expected timestamp field, got: %s", output)
	}
}

func TestInit_LevelFilters(t *testing.T) {
	t.Cleanup(func() { Init(DefaultConfig()) })

	var buf bytes.Buffer
	Init(Config{Level: "warn", Output: &buf})

	Info().Msg("hidden")
	Warn().Msg("visible")

	output := buf.String()
	if strings.Contains(output, "hidden") {
		t.Errorf("info message should be filtered at warn level: %s", output)
	}
	if !strings.Contains(output, "visible") {
		t.Errorf("warn message missing: %s", output)
	}
}

func TestInit_Console(t *testing.T) {
	t.Cleanup(func() { Init(DefaultConfig()) })

	var buf bytes.Buffer
	Init(Config{Level: "info", Format: "console", Output: &buf})

	Info().Msg("console line")

	output := buf.String()
	if strings.Contains(output, `"message"`) {
		t.Errorf("console output should not be JSON: %s", output)
	}
	if !strings.Contains(output, "console line") {
		t.Errorf("expected message in console output: %s", output)
	}
}

func TestInit_FileOutput(t *testing.T) {
	t.Cleanup(func() { Init(DefaultConfig()) })

	path := filepath.Join(t.TempDir(), "havensync.log")
	var buf bytes.Buffer
	Init(Config{
		Level:  "info",
		Output: &buf,
		File:   &FileConfig{Path: path, MaxSizeMB: 1, MaxBackups: 1},
	})

	Error().Msg("written to both")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to both") {
		t.Errorf("file output missing message: %s", data)
	}
	if !strings.Contains(buf.String(), "written to both") {
		t.Errorf("stream output missing message: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"disabled", zerolog.Disabled},
		{"DEBUG", zerolog.DebugLevel},
		{"invalid", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.expected {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestNewTestLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewTestLogger(&buf)
	logger.Warn().Str("adapter", "remote").Msg("captured")

	if !strings.Contains(buf.String(), `"adapter":"remote"`) {
		t.Errorf("expected captured field, got: %s", buf.String())
	}
}
