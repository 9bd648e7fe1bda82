// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package validation

import (
	"strings"
	"testing"
)

type sample struct {
	Type     string  `json:"type" validate:"required,max=50"`
	Tier     int     `json:"mystery_tier" validate:"gte=0,lte=5"`
	Evidence string  `json:"evidence_url" validate:"omitempty,url"`
	Status   string  `json:"analysis_status" validate:"omitempty,oneof=pending analyzed"`
	Note     *string `json:"-" validate:"omitempty,min=2"`
}

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()
	if v1 == nil || v1 != v2 {
		t.Error("GetValidator() should return one non-nil instance")
	}
}

func TestValidateStruct_Valid(t *testing.T) {
	s := sample{Type: "ruins", Tier: 3, Evidence: "https://img.example/a.png", Status: "pending"}
	if err := ValidateStruct(&s); err != nil {
		t.Errorf("ValidateStruct() = %v, want nil", err)
	}
}

func TestValidateStruct_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		input     sample
		wantField string
		wantMsg   string
	}{
		{"missing type", sample{}, "type", "type is required"},
		{"tier too high", sample{Type: "x", Tier: 9}, "mystery_tier", "mystery_tier must be less than or equal to 5"},
		{"bad url", sample{Type: "x", Evidence: "not a url"}, "evidence_url", "evidence_url must be a valid URL"},
		{"bad status", sample{Type: "x", Status: "done"}, "analysis_status", "analysis_status must be one of: pending analyzed"},
		{"long type", sample{Type: strings.Repeat("a", 51)}, "type", "type must be at most 50 characters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(&tt.input)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if len(err.Fields) != 1 {
				t.Fatalf("got %d field errors, want 1: %v", len(err.Fields), err)
			}
			if err.Fields[0].Field != tt.wantField {
				t.Errorf("Field = %q, want %q", err.Fields[0].Field, tt.wantField)
			}
			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestValidateStruct_MultipleErrorsJoined(t *testing.T) {
	err := ValidateStruct(&sample{Tier: -1})
	if err == nil {
		t.Fatal("expected errors")
	}
	if len(err.Fields) != 2 {
		t.Fatalf("got %d errors, want 2", len(err.Fields))
	}
	if !strings.Contains(err.Error(), "; ") {
		t.Errorf("expected joined message, got %q", err.Error())
	}
}
