// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package target

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/havensync/internal/database"
	"github.com/tomtom215/havensync/internal/models"
)

const testAPIKey = "companion-secret"

// newCompanion starts a companion server over a seeded SQLite store and
// returns a remote adapter pointed at its /api prefix.
func newCompanion(t *testing.T) (*RemoteAdapter, *DirectAdapter) {
	t.Helper()
	store := newTestDirect(t, database.DriverSQLite)
	seedTenex(t, store)

	srv := httptest.NewServer(NewServer(store, testAPIKey).Handler())
	t.Cleanup(srv.Close)

	remote, err := NewRemoteAdapter(RemoteConfig{
		BaseURL: srv.URL + "/api",
		APIKey:  testAPIKey,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewRemoteAdapter() error = %v", err)
	}
	return remote, store
}

// ============================================================================
// Round Trip Through The Companion
// ============================================================================

func TestRemoteWrite_RoundTrip(t *testing.T) {
	remote, store := newCompanion(t)
	ctx := context.Background()

	res, err := remote.Write(ctx, sampleTarget("Tenex", models.LocationPlanet, "NoSuchPlanet"))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if res.SystemID == nil {
		t.Error("SystemID = nil, want Tenex id")
	}
	if res.PlanetID != nil {
		t.Errorf("PlanetID = %d, want nil", *res.PlanetID)
	}

	got, err := store.Discovery(ctx, res.DiscoveryID)
	if err != nil {
		t.Fatalf("Discovery() error = %v", err)
	}
	if got.StructureType != "Spire" {
		t.Errorf("StructureType = %q, want Spire", got.StructureType)
	}
}

func TestRemoteWrite_SameLinkageAsDirect(t *testing.T) {
	remote, store := newCompanion(t)
	ctx := context.Background()

	d := sampleTarget("Tenex", models.LocationMoon, "Lumen Moon")
	viaRemote, err := remote.Write(ctx, d)
	if err != nil {
		t.Fatalf("remote Write() error = %v", err)
	}
	viaDirect, err := store.Write(ctx, d)
	if err != nil {
		t.Fatalf("direct Write() error = %v", err)
	}

	same := func(a, b *int64) bool {
		if a == nil || b == nil {
			return a == b
		}
		return *a == *b
	}
	if !same(viaRemote.SystemID, viaDirect.SystemID) ||
		!same(viaRemote.PlanetID, viaDirect.PlanetID) ||
		!same(viaRemote.MoonID, viaDirect.MoonID) {
		t.Errorf("remote linkage %+v differs from direct %+v", viaRemote, viaDirect)
	}
}

func TestRemoteSystems(t *testing.T) {
	remote, _ := newCompanion(t)
	ctx := context.Background()

	systems, err := remote.Systems(ctx)
	if err != nil {
		t.Fatalf("Systems() error = %v", err)
	}
	if _, ok := systems["Tenex"]; !ok {
		t.Errorf("Systems() = %v, want Tenex", systems)
	}

	sys, err := remote.System(ctx, "Tenex")
	if err != nil {
		t.Fatalf("System() error = %v", err)
	}
	if len(sys.Planets) != 1 || sys.Planets[0].Name != "Tenex Prime" {
		t.Errorf("planets = %+v", sys.Planets)
	}

	if _, err := remote.System(ctx, "No Such System"); !errors.Is(err, ErrSystemNotFound) {
		t.Errorf("System(missing) error = %v, want ErrSystemNotFound", err)
	}
}

func TestRemotePing(t *testing.T) {
	remote, _ := newCompanion(t)
	if err := remote.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

// ============================================================================
// Error Classification
// ============================================================================

func TestRemoteWrite_BadKeyIsRetryable(t *testing.T) {
	store := newTestDirect(t, database.DriverSQLite)
	srv := httptest.NewServer(NewServer(store, testAPIKey).Handler())
	defer srv.Close()

	remote, err := NewRemoteAdapter(RemoteConfig{BaseURL: srv.URL + "/api", APIKey: "wrong"})
	if err != nil {
		t.Fatalf("NewRemoteAdapter() error = %v", err)
	}
	_, err = remote.Write(context.Background(), sampleTarget("Tenex", models.LocationSpace, ""))
	if !errors.Is(err, ErrUnreachable) || errors.Is(err, ErrRejected) {
		t.Fatalf("Write() error = %v, want ErrUnreachable only", err)
	}
	if !IsRetryable(err) {
		t.Error("a wrong API key must not fail entries permanently")
	}
	if !strings.Contains(err.Error(), "unauthorized") {
		t.Errorf("error %q should mention unauthorized", err)
	}
}

func TestRemoteWrite_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantKind  error
		wantInMsg string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{"error":"disk full"}`, wantKind: ErrUnreachable, wantInMsg: "disk full"},
		{name: "bad gateway", status: http.StatusBadGateway, body: "upstream down", wantKind: ErrUnreachable, wantInMsg: "upstream down"},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":"slow down"}`, wantKind: ErrUnreachable},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"discovery_type is required"}`, wantKind: ErrRejected, wantInMsg: "discovery_type"},
		{name: "unprocessable", status: http.StatusUnprocessableEntity, body: `{"error":"constraint"}`, wantKind: ErrRejected},
		{name: "too large", status: http.StatusRequestEntityTooLarge, wantKind: ErrRejected},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"Unauthorized"}`, wantKind: ErrUnreachable, wantInMsg: "check API key"},
		{name: "forbidden", status: http.StatusForbidden, wantKind: ErrUnreachable, wantInMsg: "check API key"},
		{name: "wrong base url", status: http.StatusNotFound, body: "404 page not found", wantKind: ErrUnreachable, wantInMsg: "target.remote.url"},
		{name: "method not allowed", status: http.StatusMethodNotAllowed, wantKind: ErrUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			remote, err := NewRemoteAdapter(RemoteConfig{BaseURL: srv.URL, APIKey: "k"})
			if err != nil {
				t.Fatalf("NewRemoteAdapter() error = %v", err)
			}
			_, err = remote.Write(context.Background(), sampleTarget("Tenex", models.LocationSpace, ""))
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("Write() error = %v, want %v", err, tt.wantKind)
			}
			if tt.wantInMsg != "" && !strings.Contains(err.Error(), tt.wantInMsg) {
				t.Errorf("error %q should contain %q", err, tt.wantInMsg)
			}
		})
	}
}

func TestRemoteWrite_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	remote, err := NewRemoteAdapter(RemoteConfig{BaseURL: url, APIKey: "k", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewRemoteAdapter() error = %v", err)
	}
	_, err = remote.Write(context.Background(), sampleTarget("Tenex", models.LocationSpace, ""))
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("Write() error = %v, want ErrUnreachable", err)
	}
}

func TestRemoteWrite_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	remote, err := NewRemoteAdapter(RemoteConfig{BaseURL: srv.URL, APIKey: "k", Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewRemoteAdapter() error = %v", err)
	}
	_, err = remote.Write(context.Background(), sampleTarget("Tenex", models.LocationSpace, ""))
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("Write() error = %v, want ErrUnreachable", err)
	}
}

func TestRemoteWrite_SendsKeyAndPayload(t *testing.T) {
	var gotKey, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(APIKeyHeader)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotType, _ = body["discovery_type"].(string)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true,"discovery_id":7,"system_id":null,"planet_id":null,"moon_id":null}`))
	}))
	defer srv.Close()

	remote, err := NewRemoteAdapter(RemoteConfig{BaseURL: srv.URL + "/", APIKey: "abc"})
	if err != nil {
		t.Fatalf("NewRemoteAdapter() error = %v", err)
	}
	res, err := remote.Write(context.Background(), sampleTarget("Tenex", models.LocationSpace, ""))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if res.DiscoveryID != 7 {
		t.Errorf("DiscoveryID = %d, want 7", res.DiscoveryID)
	}
	if gotKey != "abc" {
		t.Errorf("API key header = %q, want abc", gotKey)
	}
	if gotType != "Ruins" {
		t.Errorf("discovery_type = %q, want Ruins", gotType)
	}
}

func TestRemoteWrite_RateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true,"discovery_id":1}`))
	}))
	defer srv.Close()

	remote, err := NewRemoteAdapter(RemoteConfig{BaseURL: srv.URL, APIKey: "k", RateLimit: 1, Burst: 1})
	if err != nil {
		t.Fatalf("NewRemoteAdapter() error = %v", err)
	}

	if _, err := remote.Write(context.Background(), sampleTarget("Tenex", models.LocationSpace, "")); err != nil {
		t.Fatalf("first Write() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = remote.Write(ctx, sampleTarget("Tenex", models.LocationSpace, ""))
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("paced Write() error = %v, want ErrUnreachable", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1", got)
	}
}

func TestNewRemoteAdapter_InvalidURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "/relative"} {
		if _, err := NewRemoteAdapter(RemoteConfig{BaseURL: raw}); err == nil {
			t.Errorf("NewRemoteAdapter(%q) error = nil, want error", raw)
		}
	}
}
