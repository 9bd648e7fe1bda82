// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies the built-in defaults match the keeper bot behavior.
func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Queue.MaxAttempts != 10 {
		t.Errorf("Queue.MaxAttempts = %d, want 10", cfg.Queue.MaxAttempts)
	}
	if cfg.Queue.BaseDelay != 30*time.Second {
		t.Errorf("Queue.BaseDelay = %v, want 30s", cfg.Queue.BaseDelay)
	}
	if cfg.Queue.RetentionDays != 30 {
		t.Errorf("Queue.RetentionDays = %d, want 30", cfg.Queue.RetentionDays)
	}
	if cfg.Worker.Interval != 30*time.Second {
		t.Errorf("Worker.Interval = %v, want 30s", cfg.Worker.Interval)
	}
	if cfg.Worker.BatchSize != 10 {
		t.Errorf("Worker.BatchSize = %d, want 10", cfg.Worker.BatchSize)
	}
	if cfg.Target.Mode != TargetModeDirect {
		t.Errorf("Target.Mode = %q, want direct", cfg.Target.Mode)
	}
	if cfg.Target.Remote.Timeout != 30*time.Second {
		t.Errorf("Target.Remote.Timeout = %v, want 30s", cfg.Target.Remote.Timeout)
	}
	if cfg.Companion.Port != 5000 {
		t.Errorf("Companion.Port = %d, want 5000", cfg.Companion.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		env  string
		want string
	}{
		{"HAVEN_API_URL", "target.remote.url"},
		{"HAVEN_SYNC_API_URL", "target.remote.url"},
		{"HAVEN_API_KEY", "target.remote.api_key"},
		{"SYNC_INTERVAL", "worker.interval"},
		{"KEEPER_DB_PATH", "database.keeper_path"},
		{"log_level", "logging.level"},
		{"PATH", ""},
		{"HOME", ""},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.env); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
		}
	}
}

func TestLoadWithKoanfEnvVars(t *testing.T) {
	os.Clearenv()
	t.Setenv("HAVEN_SYNC_MODE", "remote")
	t.Setenv("HAVEN_API_URL", "https://abc123.ngrok.io/api")
	t.Setenv("HAVEN_API_KEY", "k3y-for-tests")
	t.Setenv("SYNC_INTERVAL", "45s")
	t.Setenv("SYNC_BATCH_SIZE", "25")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	if cfg.Target.Mode != TargetModeRemote {
		t.Errorf("Target.Mode = %q, want remote", cfg.Target.Mode)
	}
	if cfg.Target.Remote.URL != "https://abc123.ngrok.io/api" {
		t.Errorf("Target.Remote.URL = %q", cfg.Target.Remote.URL)
	}
	if cfg.Worker.Interval != 45*time.Second {
		t.Errorf("Worker.Interval = %v, want 45s", cfg.Worker.Interval)
	}
	if cfg.Worker.BatchSize != 25 {
		t.Errorf("Worker.BatchSize = %d, want 25", cfg.Worker.BatchSize)
	}
	if len(cfg.API.CORSOrigins) != 2 || cfg.API.CORSOrigins[1] != "https://b.example" {
		t.Errorf("API.CORSOrigins = %v", cfg.API.CORSOrigins)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080 (default)", cfg.Server.Port)
	}
}

func TestLoadWithKoanfEnvOverridesFile(t *testing.T) {
	configContent := `
database:
  keeper_path: "/srv/keeper.db"
  queue_path: "/srv/keeper.db"
worker:
  interval: "1m"
server:
  port: 8888
logging:
  level: "warn"
`
	configPath := filepath.Join(t.TempDir(), "havensync.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0o600); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}

	os.Clearenv()
	t.Setenv(ConfigPathEnvVar, configPath)
	t.Setenv("HTTP_PORT", "9999")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	if cfg.Database.KeeperPath != "/srv/keeper.db" {
		t.Errorf("Database.KeeperPath = %q, want /srv/keeper.db (file)", cfg.Database.KeeperPath)
	}
	if cfg.Worker.Interval != time.Minute {
		t.Errorf("Worker.Interval = %v, want 1m (file)", cfg.Worker.Interval)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn (file)", cfg.Logging.Level)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999 (env override)", cfg.Server.Port)
	}
}

func TestLoadWithKoanfValidation(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		errMsg  string
	}{
		{
			name:    "remote mode without url",
			envVars: map[string]string{"HAVEN_SYNC_MODE": "remote", "HAVEN_API_KEY": "abc"},
			errMsg:  "HAVEN_API_URL is required",
		},
		{
			name: "remote mode with placeholder key",
			envVars: map[string]string{
				"HAVEN_SYNC_MODE": "remote",
				"HAVEN_API_URL":   "http://localhost:5000/api",
				"HAVEN_API_KEY":   "your-secret-key-here-change-me",
			},
			errMsg: "placeholder",
		},
		{
			name:    "unknown mode",
			envVars: map[string]string{"HAVEN_SYNC_MODE": "carrier-pigeon"},
			errMsg:  "HAVEN_SYNC_MODE",
		},
		{
			name:    "unknown driver",
			envVars: map[string]string{"HAVEN_DB_DRIVER": "postgres"},
			errMsg:  "HAVEN_DB_DRIVER",
		},
		{
			name:    "zero batch size",
			envVars: map[string]string{"SYNC_BATCH_SIZE": "0"},
			errMsg:  "SYNC_BATCH_SIZE",
		},
		{
			name:    "production without api key",
			envVars: map[string]string{"ENVIRONMENT": "production"},
			errMsg:  "SYNC_API_KEY is required",
		},
		{
			name:    "bad log level",
			envVars: map[string]string{"LOG_LEVEL": "loud"},
			errMsg:  "LOG_LEVEL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			_, err := LoadWithKoanf()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error = %v, want it to contain %q", err, tt.errMsg)
			}
		})
	}
}

func TestValidateCompanion(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.ValidateCompanion(); err == nil || !strings.Contains(err.Error(), "COMPANION_API_KEY") {
		t.Errorf("expected missing key error, got %v", err)
	}

	cfg.Companion.APIKey = "s3cret"
	if err := cfg.ValidateCompanion(); err != nil {
		t.Errorf("ValidateCompanion() = %v, want nil", err)
	}

	cfg.Companion.Driver = "mysql"
	if err := cfg.ValidateCompanion(); err == nil {
		t.Error("expected driver error")
	}
}

func TestValidateHTTPURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"http://localhost:5000", false},
		{"https://abc123.ngrok.io/api", false},
		{"ftp://host", true},
		{"http://", true},
		{"http://host/api?key=1", true},
	}
	for _, tt := range tests {
		err := validateHTTPURL(tt.url, "HAVEN_API_URL")
		if (err != nil) != tt.wantErr {
			t.Errorf("validateHTTPURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
}

func TestServerAddr(t *testing.T) {
	s := ServerConfig{Host: "127.0.0.1", Port: 8080}
	if got := s.Addr(); got != "127.0.0.1:8080" {
		t.Errorf("Addr() = %q", got)
	}
}
