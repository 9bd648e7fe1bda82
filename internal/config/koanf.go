// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists config file locations in priority order.
var DefaultConfigPaths = []string{
	"havensync.yaml",
	"havensync.yml",
	"/etc/havensync/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			KeeperPath: "data/keeper.db",
			QueuePath:  "data/keeper.db",
		},
		Queue: QueueConfig{
			MaxAttempts:   10,
			BaseDelay:     30 * time.Second,
			RetentionDays: 30,
		},
		Worker: WorkerConfig{
			Enabled:   true,
			Interval:  30 * time.Second,
			BatchSize: 10,
		},
		Target: TargetConfig{
			Mode: TargetModeDirect,
			Direct: DirectTargetConfig{
				Driver: DriverSQLite,
				Path:   "data/VH-Database.db",
			},
			Remote: RemoteTargetConfig{
				Timeout:   30 * time.Second,
				RateLimit: 5,
				Burst:     5,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxRequests: 3,
				Interval:    time.Minute,
				Timeout:     2 * time.Minute,
				MinRequests: 5,
				FailureRate: 0.6,
			},
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		API: APIConfig{
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   120,
			RateLimitWindow: time.Minute,
			DefaultFailed:   20,
		},
		Companion: CompanionConfig{
			Host:   "0.0.0.0",
			Port:   5000,
			Driver: DriverSQLite,
			Path:   "data/VH-Database.db",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// LoadWithKoanf loads configuration with the precedence ENV > file > defaults
// and validates the result.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"api.cors_origins",
}

// processSliceFields splits comma-separated env values for slice settings.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
// Names used by the keeper bot deployment are kept as-is.
var envMappings = map[string]string{
	"keeper_db_path": "database.keeper_path",
	"queue_db_path":  "database.queue_path",

	"sync_max_attempts":   "queue.max_attempts",
	"sync_base_delay":     "queue.base_delay",
	"sync_retention_days": "queue.retention_days",

	"sync_worker_enabled": "worker.enabled",
	"sync_interval":       "worker.interval",
	"sync_batch_size":     "worker.batch_size",

	"haven_sync_mode":          "target.mode",
	"haven_db_driver":          "target.direct.driver",
	"haven_db_path":            "target.direct.path",
	"haven_api_url":            "target.remote.url",
	"haven_sync_api_url":       "target.remote.url",
	"haven_api_key":            "target.remote.api_key",
	"haven_api_timeout":        "target.remote.timeout",
	"haven_api_rate_limit":     "target.remote.rate_limit",
	"haven_api_burst":          "target.remote.burst",
	"circuit_breaker_enabled":  "target.circuit_breaker.enabled",
	"circuit_breaker_timeout":  "target.circuit_breaker.timeout",
	"circuit_breaker_min_reqs": "target.circuit_breaker.min_requests",

	"http_host":    "server.host",
	"http_port":    "server.port",
	"http_timeout": "server.timeout",
	"environment":  "server.environment",

	"sync_api_key":        "api.api_key",
	"cors_origins":        "api.cors_origins",
	"rate_limit_requests": "api.rate_limit_reqs",
	"rate_limit_window":   "api.rate_limit_window",

	"companion_host":      "companion.host",
	"companion_port":      "companion.port",
	"companion_api_key":   "companion.api_key",
	"companion_db_driver": "companion.driver",
	"companion_db_path":   "companion.path",

	"log_level":        "logging.level",
	"log_format":       "logging.format",
	"log_caller":       "logging.caller",
	"log_file":         "logging.file",
	"log_max_size_mb":  "logging.max_size_mb",
	"log_max_backups":  "logging.max_backups",
	"log_max_age_days": "logging.max_age_days",
}

// envTransformFunc maps an environment variable to a koanf path. Unmapped
// variables return "" so they are skipped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
