// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

// Package models defines the discovery record read from the keeper store, the
// shape written to the authoritative Haven store, and the mapping between
// the two.
package models

import "time"

// Discovery is a row of the keeper discoveries table.
//
// Category-specific attributes are not columns of their own; they live in
// Metadata under their snake_case names and are lifted into CategoryFields
// by ToTarget.
type Discovery struct {
	ID                 int64          `json:"id"`
	UserID             string         `json:"user_id"`
	Username           string         `json:"username"`
	GuildID            string         `json:"guild_id,omitempty"`
	Type               string         `json:"type"`
	Location           string         `json:"location"`
	SystemName         string         `json:"system_name,omitempty"`
	PlanetName         string         `json:"planet_name,omitempty"`
	GalaxyName         string         `json:"galaxy_name,omitempty"`
	TimePeriod         string         `json:"time_period,omitempty"`
	Condition          string         `json:"condition,omitempty"`
	Description        string         `json:"description"`
	Significance       string         `json:"significance,omitempty"`
	EvidenceURL        string         `json:"evidence_url,omitempty"`
	RelatedDiscoveries string         `json:"related_discoveries,omitempty"`
	Coordinates        string         `json:"coordinates,omitempty"`
	SubmittedAt        *time.Time     `json:"submission_timestamp,omitempty"`
	AnalysisStatus     string         `json:"analysis_status,omitempty"`
	PatternMatches     int            `json:"pattern_matches"`
	MysteryTier        int            `json:"mystery_tier"`
	Tags               []string       `json:"tags,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}
