// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package config

import (
	"fmt"
	"strings"
)

var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateTarget(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateDatabase() error {
	if c.Database.KeeperPath == "" {
		return fmt.Errorf("KEEPER_DB_PATH is required")
	}
	if c.Database.QueuePath == "" {
		return fmt.Errorf("QUEUE_DB_PATH is required")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("SYNC_MAX_ATTEMPTS must be at least 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.BaseDelay <= 0 {
		return fmt.Errorf("SYNC_BASE_DELAY must be positive, got %v", c.Queue.BaseDelay)
	}
	if c.Queue.RetentionDays < 1 {
		return fmt.Errorf("SYNC_RETENTION_DAYS must be at least 1, got %d", c.Queue.RetentionDays)
	}
	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.Interval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive, got %v", c.Worker.Interval)
	}
	if c.Worker.BatchSize < 1 || c.Worker.BatchSize > 1000 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be between 1 and 1000, got %d", c.Worker.BatchSize)
	}
	return nil
}

func (c *Config) validateTarget() error {
	switch c.Target.Mode {
	case TargetModeDirect:
		return c.validateDirectTarget()
	case TargetModeRemote:
		return c.validateRemoteTarget()
	default:
		return fmt.Errorf("HAVEN_SYNC_MODE must be one of: direct, remote (got %q)", c.Target.Mode)
	}
}

func (c *Config) validateDirectTarget() error {
	if err := validateDriver(c.Target.Direct.Driver, "HAVEN_DB_DRIVER"); err != nil {
		return err
	}
	if c.Target.Direct.Path == "" {
		return fmt.Errorf("HAVEN_DB_PATH is required when HAVEN_SYNC_MODE=direct")
	}
	return nil
}

func (c *Config) validateRemoteTarget() error {
	remote := c.Target.Remote
	if remote.URL == "" {
		return fmt.Errorf("HAVEN_API_URL is required when HAVEN_SYNC_MODE=remote")
	}
	if err := validateHTTPURL(remote.URL, "HAVEN_API_URL"); err != nil {
		return fmt.Errorf("HAVEN_API_URL is invalid: %w", err)
	}
	if remote.APIKey == "" {
		return fmt.Errorf("HAVEN_API_KEY is required when HAVEN_SYNC_MODE=remote")
	}
	if containsPlaceholder(remote.APIKey) {
		return fmt.Errorf("HAVEN_API_KEY still contains a placeholder value")
	}
	if remote.Timeout <= 0 {
		return fmt.Errorf("HAVEN_API_TIMEOUT must be positive, got %v", remote.Timeout)
	}
	if remote.RateLimit < 0 {
		return fmt.Errorf("HAVEN_API_RATE_LIMIT must not be negative, got %v", remote.RateLimit)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.APIKey != "" && containsPlaceholder(c.API.APIKey) {
		return fmt.Errorf("SYNC_API_KEY still contains a placeholder value")
	}
	if c.API.RateLimitReqs < 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must not be negative, got %d", c.API.RateLimitReqs)
	}
	if c.API.RateLimitReqs > 0 && c.API.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive when rate limiting is enabled")
	}
	if c.IsProduction() && c.API.APIKey == "" {
		return fmt.Errorf("SYNC_API_KEY is required when ENVIRONMENT=production")
	}
	return nil
}

// ValidateCompanion checks the settings used by the companion command only.
func (c *Config) ValidateCompanion() error {
	if c.Companion.Port < 1 || c.Companion.Port > 65535 {
		return fmt.Errorf("COMPANION_PORT must be between 1 and 65535, got %d", c.Companion.Port)
	}
	if c.Companion.APIKey == "" {
		return fmt.Errorf("COMPANION_API_KEY is required")
	}
	if containsPlaceholder(c.Companion.APIKey) {
		return fmt.Errorf("COMPANION_API_KEY still contains a placeholder value")
	}
	if err := validateDriver(c.Companion.Driver, "COMPANION_DB_DRIVER"); err != nil {
		return err
	}
	if c.Companion.Path == "" {
		return fmt.Errorf("COMPANION_DB_PATH is required")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

// IsProduction reports whether ENVIRONMENT=production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}

func validateDriver(driver, envName string) error {
	if driver != DriverSQLite && driver != DriverDuckDB {
		return fmt.Errorf("%s must be one of: sqlite, duckdb (got %q)", envName, driver)
	}
	return nil
}

var placeholderPatterns = []string{
	"REPLACE",
	"CHANGEME",
	"CHANGE_ME",
	"CHANGE-ME",
	"YOUR-SECRET",
	"YOUR_SECRET",
	"PLACEHOLDER",
}

// containsPlaceholder catches keys copied from example files, such as
// "your-secret-key-here-change-me".
func containsPlaceholder(value string) bool {
	upper := strings.ToUpper(value)
	for _, pattern := range placeholderPatterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}
