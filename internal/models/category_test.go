// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package models

import (
	"reflect"
	"testing"
)

func TestCategoryColumns_CoverEveryField(t *testing.T) {
	t.Parallel()

	names := CategoryColumnNames()
	if len(names) != 40 {
		t.Fatalf("got %d category columns, want 40", len(names))
	}

	typ := reflect.TypeOf(CategoryFields{})
	if typ.NumField() != len(names) {
		t.Fatalf("struct has %d fields, table has %d", typ.NumField(), len(names))
	}

	tags := map[string]bool{}
	for i := 0; i < typ.NumField(); i++ {
		tag := typ.Field(i).Tag.Get("json")
		tags[tag[:len(tag)-len(",omitempty")]] = true
	}
	seen := map[string]bool{}
	for _, n := range names {
		if seen[n] {
			t.Errorf("duplicate column %q", n)
		}
		seen[n] = true
		if !tags[n] {
			t.Errorf("column %q has no matching json tag", n)
		}
	}
}

func TestCategoryFields_SetAndValues(t *testing.T) {
	t.Parallel()

	var c CategoryFields
	if !c.Set("ship_class", "Hauler") {
		t.Fatal("Set(ship_class) = false")
	}
	if c.Set("not_a_column", "x") {
		t.Error("Set(unknown) = true")
	}

	vals := c.Values()
	nonNil := 0
	for i, v := range vals {
		if v == nil {
			continue
		}
		nonNil++
		if CategoryColumnNames()[i] != "ship_class" || v != "Hauler" {
			t.Errorf("unexpected value %v at %s", v, CategoryColumnNames()[i])
		}
	}
	if nonNil != 1 {
		t.Errorf("got %d non-nil values, want 1", nonNil)
	}
	if got := c.Populated(); len(got) != 1 || got[0] != "ship_class" {
		t.Errorf("Populated() = %v", got)
	}
}

func TestCategoryFieldsFromMetadata_Coercion(t *testing.T) {
	t.Parallel()

	c := CategoryFieldsFromMetadata(map[string]any{
		"threat_level":     float64(3),
		"species_name":     "Gek",
		"habitat_biome":    nil,
		"lore_connections": []any{"Atlas", "Sentinels"},
	})
	if c.ThreatLevel != "3" {
		t.Errorf("threat_level = %q", c.ThreatLevel)
	}
	if c.SpeciesName != "Gek" {
		t.Errorf("species_name = %q", c.SpeciesName)
	}
	if c.HabitatBiome != "" {
		t.Errorf("habitat_biome = %q", c.HabitatBiome)
	}
	if c.LoreConnections != `["Atlas","Sentinels"]` {
		t.Errorf("lore_connections = %q", c.LoreConnections)
	}
}

func TestNullIfEmpty(t *testing.T) {
	t.Parallel()
	if NullIfEmpty("") != nil {
		t.Error("empty should be nil")
	}
	if NullIfEmpty("x") != "x" {
		t.Error("non-empty should pass through")
	}
}
