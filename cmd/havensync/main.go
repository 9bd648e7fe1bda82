// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

// Package main is the havensync command.
//
// havensync drains the keeper bot's sync queue into the authoritative Haven
// discoveries store. The serve command runs the sync worker and the Status
// API under a supervisor tree; companion runs the HTTP API that remote-mode
// workers write through. The remaining commands operate on the queue
// directly:
//
//	havensync serve
//	havensync companion
//	havensync enqueue 42 --meta source=backfill
//	havensync status
//	havensync failed --limit 50
//	havensync retry 17
//	havensync sync 42
//	havensync cleanup --days 30
//	havensync init-target --driver duckdb --path data/haven.duckdb
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority
// wins): environment variables, then the YAML file named by CONFIG_PATH or
// ./havensync.yaml, then built-in defaults.
//
// # Signal Handling
//
// serve and companion shut down gracefully on SIGINT and SIGTERM. An
// in-flight target write is allowed to finish before the process exits.
package main

import (
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd(nil).Execute(); err != nil {
		os.Exit(1)
	}
}
