// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package target

import (
	"fmt"
	"strings"

	"github.com/tomtom215/havensync/internal/database"
	"github.com/tomtom215/havensync/internal/models"
)

// baseDiscoveryColumns precede the category columns in every discovery
// INSERT and SELECT.
var baseDiscoveryColumns = []string{
	"discovery_type", "discovery_name", "system_id", "planet_id", "moon_id",
	"location_type", "location_name", "description", "coordinates", "condition",
	"time_period", "significance", "photo_url", "evidence_urls",
	"discovered_by", "discord_user_id", "discord_guild_id",
	"pattern_matches", "mystery_tier", "analysis_status", "tags", "metadata",
	"submission_date",
}

func discoveryColumns() []string {
	return append(append([]string{}, baseDiscoveryColumns...), models.CategoryColumnNames()...)
}

// schemaStatements returns the DDL for the given dialect. SQLite uses
// AUTOINCREMENT keys; DuckDB has no such keyword and draws ids from
// sequences instead.
func schemaStatements(driver string) []string {
	idCol := func(table string) string {
		if driver == database.DriverDuckDB {
			return fmt.Sprintf("id BIGINT PRIMARY KEY DEFAULT nextval('seq_%s_id')", table)
		}
		return "id INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	var stmts []string
	if driver == database.DriverDuckDB {
		for _, table := range []string{"systems", "planets", "moons", "discoveries"} {
			stmts = append(stmts, fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS seq_%s_id START 1", table))
		}
	}

	stmts = append(stmts,
		`CREATE TABLE IF NOT EXISTS systems (
			`+idCol("systems")+`,
			name TEXT NOT NULL UNIQUE,
			x DOUBLE DEFAULT 0,
			y DOUBLE DEFAULT 0,
			z DOUBLE DEFAULT 0,
			region TEXT,
			created_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS planets (
			`+idCol("planets")+`,
			system_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			UNIQUE (system_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS moons (
			`+idCol("moons")+`,
			planet_id BIGINT NOT NULL,
			name TEXT NOT NULL
		)`,
	)

	var cols strings.Builder
	for _, c := range models.CategoryColumnNames() {
		cols.WriteString(",\n\t\t\t")
		cols.WriteString(c)
		cols.WriteString(" TEXT")
	}
	stmts = append(stmts, `CREATE TABLE IF NOT EXISTS discoveries (
			`+idCol("discoveries")+`,
			discovery_type TEXT NOT NULL,
			discovery_name TEXT,
			system_id BIGINT,
			planet_id BIGINT,
			moon_id BIGINT,
			location_type TEXT,
			location_name TEXT,
			description TEXT,
			coordinates TEXT,
			condition TEXT,
			time_period TEXT,
			significance TEXT,
			photo_url TEXT,
			evidence_urls TEXT,
			discovered_by TEXT,
			discord_user_id TEXT,
			discord_guild_id TEXT,
			pattern_matches INTEGER DEFAULT 0,
			mystery_tier INTEGER DEFAULT 0,
			analysis_status TEXT DEFAULT 'pending',
			tags TEXT,
			metadata TEXT,
			submission_date TEXT`+cols.String()+`
		)`,
		`CREATE INDEX IF NOT EXISTS idx_planets_system ON planets(system_id)`,
		`CREATE INDEX IF NOT EXISTS idx_moons_planet ON moons(planet_id)`,
		`CREATE INDEX IF NOT EXISTS idx_discoveries_system ON discoveries(system_id)`,
	)
	return stmts
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
