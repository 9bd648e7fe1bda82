// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package models

import (
	"strconv"

	json "github.com/goccy/go-json"
)

// CategoryFields holds the category-specific attributes of a discovery.
// Each category fills only its own four fields, the rest stay empty and are
// written as NULL.
type CategoryFields struct {
	// Preserved remains (fossils, bones)
	SpeciesType         string `json:"species_type,omitempty"`
	SizeScale           string `json:"size_scale,omitempty"`
	PreservationQuality string `json:"preservation_quality,omitempty"`
	EstimatedAge        string `json:"estimated_age,omitempty"`

	// Written records (logs, terminals, plaques)
	LanguageStatus string `json:"language_status,omitempty"`
	Completeness   string `json:"completeness,omitempty"`
	AuthorOrigin   string `json:"author_origin,omitempty"`
	KeyExcerpt     string `json:"key_excerpt,omitempty"`

	// Structures and ruins
	StructureType       string `json:"structure_type,omitempty"`
	ArchitecturalStyle  string `json:"architectural_style,omitempty"`
	StructuralIntegrity string `json:"structural_integrity,omitempty"`
	PurposeFunction     string `json:"purpose_function,omitempty"`

	// Technology
	TechCategory       string `json:"tech_category,omitempty"`
	OperationalStatus  string `json:"operational_status,omitempty"`
	PowerSource        string `json:"power_source,omitempty"`
	ReverseEngineering string `json:"reverse_engineering,omitempty"`

	// Fauna
	SpeciesName     string `json:"species_name,omitempty"`
	BehavioralNotes string `json:"behavioral_notes,omitempty"`
	HabitatBiome    string `json:"habitat_biome,omitempty"`
	ThreatLevel     string `json:"threat_level,omitempty"`

	// Resources
	ResourceType     string `json:"resource_type,omitempty"`
	DepositRichness  string `json:"deposit_richness,omitempty"`
	ExtractionMethod string `json:"extraction_method,omitempty"`
	EconomicValue    string `json:"economic_value,omitempty"`

	// Starships and wrecks
	ShipClass       string `json:"ship_class,omitempty"`
	HullCondition   string `json:"hull_condition,omitempty"`
	SalvageableTech string `json:"salvageable_tech,omitempty"`
	PilotStatus     string `json:"pilot_status,omitempty"`

	// Hazards and anomalies
	HazardType         string `json:"hazard_type,omitempty"`
	SeverityLevel      string `json:"severity_level,omitempty"`
	DurationFrequency  string `json:"duration_frequency,omitempty"`
	ProtectionRequired string `json:"protection_required,omitempty"`

	// Game updates
	UpdateName       string `json:"update_name,omitempty"`
	FeatureCategory  string `json:"feature_category,omitempty"`
	GameplayImpact   string `json:"gameplay_impact,omitempty"`
	FirstImpressions string `json:"first_impressions,omitempty"`

	// Lore and community stories
	StoryType         string `json:"story_type,omitempty"`
	LoreConnections   string `json:"lore_connections,omitempty"`
	CreativeElements  string `json:"creative_elements,omitempty"`
	CollaborativeWork string `json:"collaborative_work,omitempty"`
}

type categoryColumn struct {
	name  string
	field func(*CategoryFields) *string
}

// categoryColumns is the column order used by every INSERT and SELECT.
var categoryColumns = []categoryColumn{
	{"species_type", func(c *CategoryFields) *string { return &c.SpeciesType }},
	{"size_scale", func(c *CategoryFields) *string { return &c.SizeScale }},
	{"preservation_quality", func(c *CategoryFields) *string { return &c.PreservationQuality }},
	{"estimated_age", func(c *CategoryFields) *string { return &c.EstimatedAge }},
	{"language_status", func(c *CategoryFields) *string { return &c.LanguageStatus }},
	{"completeness", func(c *CategoryFields) *string { return &c.Completeness }},
	{"author_origin", func(c *CategoryFields) *string { return &c.AuthorOrigin }},
	{"key_excerpt", func(c *CategoryFields) *string { return &c.KeyExcerpt }},
	{"structure_type", func(c *CategoryFields) *string { return &c.StructureType }},
	{"architectural_style", func(c *CategoryFields) *string { return &c.ArchitecturalStyle }},
	{"structural_integrity", func(c *CategoryFields) *string { return &c.StructuralIntegrity }},
	{"purpose_function", func(c *CategoryFields) *string { return &c.PurposeFunction }},
	{"tech_category", func(c *CategoryFields) *string { return &c.TechCategory }},
	{"operational_status", func(c *CategoryFields) *string { return &c.OperationalStatus }},
	{"power_source", func(c *CategoryFields) *string { return &c.PowerSource }},
	{"reverse_engineering", func(c *CategoryFields) *string { return &c.ReverseEngineering }},
	{"species_name", func(c *CategoryFields) *string { return &c.SpeciesName }},
	{"behavioral_notes", func(c *CategoryFields) *string { return &c.BehavioralNotes }},
	{"habitat_biome", func(c *CategoryFields) *string { return &c.HabitatBiome }},
	{"threat_level", func(c *CategoryFields) *string { return &c.ThreatLevel }},
	{"resource_type", func(c *CategoryFields) *string { return &c.ResourceType }},
	{"deposit_richness", func(c *CategoryFields) *string { return &c.DepositRichness }},
	{"extraction_method", func(c *CategoryFields) *string { return &c.ExtractionMethod }},
	{"economic_value", func(c *CategoryFields) *string { return &c.EconomicValue }},
	{"ship_class", func(c *CategoryFields) *string { return &c.ShipClass }},
	{"hull_condition", func(c *CategoryFields) *string { return &c.HullCondition }},
	{"salvageable_tech", func(c *CategoryFields) *string { return &c.SalvageableTech }},
	{"pilot_status", func(c *CategoryFields) *string { return &c.PilotStatus }},
	{"hazard_type", func(c *CategoryFields) *string { return &c.HazardType }},
	{"severity_level", func(c *CategoryFields) *string { return &c.SeverityLevel }},
	{"duration_frequency", func(c *CategoryFields) *string { return &c.DurationFrequency }},
	{"protection_required", func(c *CategoryFields) *string { return &c.ProtectionRequired }},
	{"update_name", func(c *CategoryFields) *string { return &c.UpdateName }},
	{"feature_category", func(c *CategoryFields) *string { return &c.FeatureCategory }},
	{"gameplay_impact", func(c *CategoryFields) *string { return &c.GameplayImpact }},
	{"first_impressions", func(c *CategoryFields) *string { return &c.FirstImpressions }},
	{"story_type", func(c *CategoryFields) *string { return &c.StoryType }},
	{"lore_connections", func(c *CategoryFields) *string { return &c.LoreConnections }},
	{"creative_elements", func(c *CategoryFields) *string { return &c.CreativeElements }},
	{"collaborative_work", func(c *CategoryFields) *string { return &c.CollaborativeWork }},
}

// CategoryColumnNames returns the category column names in storage order.
func CategoryColumnNames() []string {
	names := make([]string, len(categoryColumns))
	for i, col := range categoryColumns {
		names[i] = col.name
	}
	return names
}

// Values returns the category values in storage order, with empty strings
// as nil so they are stored as NULL.
func (c *CategoryFields) Values() []any {
	out := make([]any, len(categoryColumns))
	for i, col := range categoryColumns {
		out[i] = NullIfEmpty(*col.field(c))
	}
	return out
}

// Set assigns the named category field. It reports false for unknown names.
func (c *CategoryFields) Set(name, value string) bool {
	for _, col := range categoryColumns {
		if col.name == name {
			*col.field(c) = value
			return true
		}
	}
	return false
}

// Populated returns the names of non-empty fields, mostly for logging.
func (c *CategoryFields) Populated() []string {
	var names []string
	for _, col := range categoryColumns {
		if *col.field(c) != "" {
			names = append(names, col.name)
		}
	}
	return names
}

// CategoryFieldsFromMetadata pulls the category attributes out of a
// discovery's metadata map. Non-string values are rendered as text.
func CategoryFieldsFromMetadata(metadata map[string]any) CategoryFields {
	var c CategoryFields
	for _, col := range categoryColumns {
		if v, ok := metadata[col.name]; ok {
			*col.field(&c) = metadataString(v)
		}
	}
	return c
}

func metadataString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// NullIfEmpty maps "" to nil for nullable text columns.
func NullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
