// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package models

import (
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/havensync/internal/validation"
)

// Location types understood by the authoritative store.
const (
	LocationSpace  = "space"
	LocationPlanet = "planet"
	LocationMoon   = "moon"
)

// DefaultAnalysisStatus is used when the keeper row has none.
const DefaultAnalysisStatus = "pending"

// TargetDiscovery is the write payload for the authoritative discoveries
// table. The same value is inserted directly or POSTed to the companion API.
// System, planet and moon ids are resolved by the store, not the caller.
type TargetDiscovery struct {
	DiscoveryType  string `json:"discovery_type" validate:"required"`
	DiscoveryName  string `json:"discovery_name,omitempty"`
	SystemName     string `json:"system_name,omitempty"`
	LocationType   string `json:"location_type" validate:"required,oneof=space planet moon"`
	LocationName   string `json:"location_name,omitempty"`
	Description    string `json:"description,omitempty"`
	Coordinates    string `json:"coordinates,omitempty"`
	Condition      string `json:"condition,omitempty"`
	TimePeriod     string `json:"time_period,omitempty"`
	Significance   string `json:"significance,omitempty"`
	PhotoURL       string `json:"photo_url,omitempty"`
	EvidenceURLs   string `json:"evidence_urls,omitempty"`
	DiscoveredBy   string `json:"discovered_by,omitempty"`
	DiscordUserID  string `json:"discord_user_id,omitempty"`
	DiscordGuildID string `json:"discord_guild_id,omitempty"`
	PatternMatches int    `json:"pattern_matches" validate:"gte=0"`
	MysteryTier    int    `json:"mystery_tier" validate:"gte=0"`
	AnalysisStatus string `json:"analysis_status,omitempty"`
	Tags           string `json:"tags,omitempty"`
	Metadata       string `json:"metadata,omitempty"`

	CategoryFields
}

// ValidationError reports a discovery that cannot be written as-is. Retrying
// will not help.
type ValidationError struct {
	DiscoveryID int64
	Err         error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("discovery %d failed validation: %v", e.DiscoveryID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks the payload rules.
func (t *TargetDiscovery) Validate() error {
	if verr := validation.ValidateStruct(t); verr != nil {
		return verr
	}
	return nil
}

// ResolveLocationType derives the location type of a keeper discovery. A
// discovery with a planet name is on a planet, or on a moon when either the
// planet name or the location mentions one. Anything else is in space.
func ResolveLocationType(planetName, location string) string {
	if planetName == "" {
		return LocationSpace
	}
	if strings.Contains(strings.ToLower(planetName), "moon") ||
		strings.Contains(strings.ToLower(location), "moon") {
		return LocationMoon
	}
	return LocationPlanet
}

// ToTarget maps a keeper discovery onto the authoritative write schema and
// validates the result.
func ToTarget(d *Discovery) (*TargetDiscovery, error) {
	if d == nil {
		return nil, &ValidationError{Err: errors.New("discovery is nil")}
	}

	t := &TargetDiscovery{
		DiscoveryType:  d.Type,
		DiscoveryName:  d.Location,
		SystemName:     d.SystemName,
		LocationType:   ResolveLocationType(d.PlanetName, d.Location),
		LocationName:   d.Location,
		Description:    d.Description,
		Coordinates:    d.Coordinates,
		Condition:      d.Condition,
		TimePeriod:     d.TimePeriod,
		Significance:   d.Significance,
		PhotoURL:       d.EvidenceURL,
		EvidenceURLs:   d.EvidenceURL,
		DiscoveredBy:   d.Username,
		DiscordUserID:  d.UserID,
		DiscordGuildID: d.GuildID,
		PatternMatches: d.PatternMatches,
		MysteryTier:    d.MysteryTier,
		AnalysisStatus: d.AnalysisStatus,
		CategoryFields: CategoryFieldsFromMetadata(d.Metadata),
	}
	if d.PlanetName != "" {
		t.LocationName = d.PlanetName
	}
	if t.AnalysisStatus == "" {
		t.AnalysisStatus = DefaultAnalysisStatus
	}

	if len(d.Tags) > 0 {
		b, err := json.Marshal(d.Tags)
		if err != nil {
			return nil, &ValidationError{DiscoveryID: d.ID, Err: fmt.Errorf("encode tags: %w", err)}
		}
		t.Tags = string(b)
	}
	if len(d.Metadata) > 0 {
		b, err := json.Marshal(d.Metadata)
		if err != nil {
			return nil, &ValidationError{DiscoveryID: d.ID, Err: fmt.Errorf("encode metadata: %w", err)}
		}
		t.Metadata = string(b)
	}

	if err := t.Validate(); err != nil {
		return nil, &ValidationError{DiscoveryID: d.ID, Err: err}
	}
	return t, nil
}
