// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

// Package config loads havensync configuration with Koanf v2.
//
// Sources are layered, highest priority last:
//  1. Defaults: built-in values from defaultConfig
//  2. Config file: optional YAML (CONFIG_PATH or a default path)
//  3. Environment variables: explicit mapping table in envTransformFunc
//
// Example:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    logging.Fatal().Err(err).Msg("Failed to load configuration")
//	}
//	store, err := queue.Open(ctx, cfg.Database.QueuePath, cfg.Queue.MaxAttempts)
package config

import (
	"fmt"
	"time"
)

// Target transport modes.
const (
	TargetModeDirect = "direct"
	TargetModeRemote = "remote"
)

// Database drivers accepted for the direct target store.
const (
	DriverSQLite = "sqlite"
	DriverDuckDB = "duckdb"
)

// Config holds all havensync configuration.
type Config struct {
	Database  DatabaseConfig  `koanf:"database"`
	Queue     QueueConfig     `koanf:"queue"`
	Worker    WorkerConfig    `koanf:"worker"`
	Target    TargetConfig    `koanf:"target"`
	Server    ServerConfig    `koanf:"server"`
	API       APIConfig       `koanf:"api"`
	Companion CompanionConfig `koanf:"companion"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// DatabaseConfig locates the local SQLite files.
type DatabaseConfig struct {
	// KeeperPath is the keeper bot database holding submitted discoveries.
	KeeperPath string `koanf:"keeper_path"`

	// QueuePath holds the sync_queue table. Usually the same file as KeeperPath
	// so the failed-items view can join discovery context.
	QueuePath string `koanf:"queue_path"`
}

// QueueConfig controls retry budgeting and retention.
type QueueConfig struct {
	MaxAttempts   int           `koanf:"max_attempts"`
	BaseDelay     time.Duration `koanf:"base_delay"`
	RetentionDays int           `koanf:"retention_days"`
}

// WorkerConfig controls the background sync loop.
type WorkerConfig struct {
	Enabled   bool          `koanf:"enabled"`
	Interval  time.Duration `koanf:"interval"`
	BatchSize int           `koanf:"batch_size"`
}

// TargetConfig selects how discoveries reach the authoritative store.
type TargetConfig struct {
	// Mode is "direct" (same host) or "remote" (companion API over HTTP).
	Mode           string               `koanf:"mode"`
	Direct         DirectTargetConfig   `koanf:"direct"`
	Remote         RemoteTargetConfig   `koanf:"remote"`
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker"`
}

// DirectTargetConfig opens the authoritative database in-process.
type DirectTargetConfig struct {
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
}

// RemoteTargetConfig points at a companion API.
type RemoteTargetConfig struct {
	URL       string        `koanf:"url"`
	APIKey    string        `koanf:"api_key"`
	Timeout   time.Duration `koanf:"timeout"`
	RateLimit float64       `koanf:"rate_limit"`
	Burst     int           `koanf:"burst"`
}

// CircuitBreakerConfig tunes the breaker wrapped around the target adapter.
type CircuitBreakerConfig struct {
	Enabled     bool          `koanf:"enabled"`
	MaxRequests uint32        `koanf:"max_requests"`
	Interval    time.Duration `koanf:"interval"`
	Timeout     time.Duration `koanf:"timeout"`
	MinRequests uint32        `koanf:"min_requests"`
	FailureRate float64       `koanf:"failure_rate"`
}

// ServerConfig is the status API listener.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// Addr returns host:port for http.Server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// APIConfig holds status API options.
type APIConfig struct {
	// APIKey protects /sync/* when non-empty.
	APIKey          string        `koanf:"api_key"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	DefaultFailed   int           `koanf:"default_failed_limit"`
}

// CompanionConfig configures the companion target API process.
type CompanionConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	APIKey string `koanf:"api_key"`
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
}

// Addr returns host:port for http.Server.
func (c CompanionConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoggingConfig mirrors logging.Config plus rotating file output.
type LoggingConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"`
	Caller     bool   `koanf:"caller"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
}

// Load reads configuration from defaults, config file and environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
