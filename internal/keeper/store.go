// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

// Package keeper reads discoveries from the local store the submission
// front-end writes to. The pipeline only reads; AddDiscovery exists for the
// front-end contract and for tests.
package keeper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/havensync/internal/database"
	"github.com/tomtom215/havensync/internal/logging"
	"github.com/tomtom215/havensync/internal/models"
)

// ErrNotFound means the discovery does not exist in the local store.
var ErrNotFound = errors.New("discovery not found")

// Enqueuer schedules a stored discovery for reconciliation.
type Enqueuer interface {
	Enqueue(ctx context.Context, discoveryID int64, metadata map[string]any) (int64, error)
}

// Store is the keeper discoveries table.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InitSchema creates the discoveries table if it does not exist. Existing
// keeper databases already have it.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS discoveries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			username TEXT NOT NULL,
			guild_id TEXT,
			discovery_type TEXT NOT NULL,
			location TEXT NOT NULL,
			system_name TEXT,
			time_period TEXT,
			condition TEXT,
			description TEXT NOT NULL,
			significance TEXT,
			evidence_url TEXT,
			related_discoveries TEXT,
			coordinates TEXT,
			planet_name TEXT,
			galaxy_name TEXT,
			submission_timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
			analysis_status TEXT DEFAULT 'pending',
			pattern_matches INTEGER DEFAULT 0,
			mystery_tier INTEGER DEFAULT 0,
			tags TEXT,
			metadata TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create discoveries table: %w", err)
	}
	return nil
}

// GetDiscovery returns the discovery with the given id, or ErrNotFound.
func (s *Store) GetDiscovery(ctx context.Context, id int64) (*models.Discovery, error) {
	var d models.Discovery
	var guildID, systemName, timePeriod, condition sql.NullString
	var significance, evidenceURL, related, coordinates sql.NullString
	var planetName, galaxyName, submitted, status, tags, meta sql.NullString
	var patternMatches, mysteryTier sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, username, guild_id, discovery_type, location, system_name,
		       time_period, condition, description, significance, evidence_url,
		       related_discoveries, coordinates, planet_name, galaxy_name,
		       submission_timestamp, analysis_status, pattern_matches, mystery_tier,
		       tags, metadata
		FROM discoveries WHERE id = ?
	`, id).Scan(
		&d.ID, &d.UserID, &d.Username, &guildID, &d.Type, &d.Location, &systemName,
		&timePeriod, &condition, &d.Description, &significance, &evidenceURL,
		&related, &coordinates, &planetName, &galaxyName,
		&submitted, &status, &patternMatches, &mysteryTier,
		&tags, &meta,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery %d: %w", id, err)
	}

	d.GuildID = guildID.String
	d.SystemName = systemName.String
	d.TimePeriod = timePeriod.String
	d.Condition = condition.String
	d.Significance = significance.String
	d.EvidenceURL = evidenceURL.String
	d.RelatedDiscoveries = related.String
	d.Coordinates = coordinates.String
	d.PlanetName = planetName.String
	d.GalaxyName = galaxyName.String
	d.SubmittedAt = database.TimePtr(submitted)
	d.AnalysisStatus = status.String
	d.PatternMatches = int(patternMatches.Int64)
	d.MysteryTier = int(mysteryTier.Int64)

	// Legacy rows hold free text here; such values are skipped, not fatal.
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &d.Tags); err != nil {
			d.Tags = nil
			logging.Debug().Int64("discovery_id", id).Err(err).Msg("Ignoring non-JSON tags")
		}
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &d.Metadata); err != nil {
			d.Metadata = nil
			logging.Debug().Int64("discovery_id", id).Err(err).Msg("Ignoring non-JSON metadata")
		}
	}
	return &d, nil
}

// AddDiscovery inserts a discovery and returns its id. When q is non-nil the
// new discovery is also enqueued for sync; a failed enqueue is logged and
// does not undo the insert.
func (s *Store) AddDiscovery(ctx context.Context, d *models.Discovery, q Enqueuer) (int64, error) {
	if d == nil {
		return 0, errors.New("discovery is nil")
	}

	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return 0, fmt.Errorf("failed to encode tags: %w", err)
	}
	metadata := d.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to encode metadata: %w", err)
	}
	related := d.RelatedDiscoveries
	if related == "" {
		related = "[]"
	}
	status := d.AnalysisStatus
	if status == "" {
		status = models.DefaultAnalysisStatus
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO discoveries (
			user_id, username, guild_id, discovery_type, location, system_name,
			time_period, condition, description, significance, evidence_url,
			related_discoveries, coordinates, planet_name, galaxy_name,
			analysis_status, pattern_matches, mystery_tier, tags, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		d.UserID, d.Username, models.NullIfEmpty(d.GuildID), d.Type, d.Location, models.NullIfEmpty(d.SystemName),
		models.NullIfEmpty(d.TimePeriod), models.NullIfEmpty(d.Condition), d.Description,
		models.NullIfEmpty(d.Significance), models.NullIfEmpty(d.EvidenceURL),
		related, models.NullIfEmpty(d.Coordinates), models.NullIfEmpty(d.PlanetName), models.NullIfEmpty(d.GalaxyName),
		status, d.PatternMatches, d.MysteryTier, string(tagsJSON), string(metaJSON),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert discovery: %w", err)
	}
	d.ID = id
	logging.Info().Int64("discovery_id", id).Str("type", d.Type).Msg("Discovery added to archive")

	if q != nil {
		if _, err := q.Enqueue(ctx, id, map[string]any{"source": "keeper"}); err != nil {
			logging.Warn().Int64("discovery_id", id).Err(err).Msg("Failed to enqueue discovery for sync")
		}
	}
	return id, nil
}
