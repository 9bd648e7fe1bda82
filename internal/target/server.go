// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package target

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	json "github.com/goccy/go-json"

	"github.com/tomtom215/havensync/internal/logging"
	"github.com/tomtom215/havensync/internal/middleware"
	"github.com/tomtom215/havensync/internal/models"
)

// maxRequestBody bounds a POST /api/discoveries payload.
const maxRequestBody = 1 << 20

// Server is the companion API that runs next to the authoritative store and
// serves RemoteAdapter requests from a DirectAdapter.
type Server struct {
	store  *DirectAdapter
	apiKey string

	// RateLimit caps /api requests per minute per client IP; zero disables it.
	RateLimit int
}

// NewServer returns a companion server. Every /api route compares X-API-Key
// against apiKey; an empty apiKey rejects every request.
func NewServer(store *DirectAdapter, apiKey string) *Server {
	return &Server{store: store, apiKey: apiKey}
}

// createRequest accepts the mapped payload, plus "type" as an alias for
// discovery_type as sent by older keeper builds.
type createRequest struct {
	models.TargetDiscovery
	Type string `json:"type,omitempty"`
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)
		if s.RateLimit > 0 {
			r.Use(httprate.LimitByIP(s.RateLimit, time.Minute))
		}
		r.Use(middleware.RequireAPIKey(s.apiKey, middleware.RejectEmptyKey()))

		r.Get("/systems", s.handleSystems)
		r.Get("/systems/{name}", s.handleSystem)
		r.Post("/discoveries", s.handleCreateDiscovery)
		r.Get("/discoveries/{id}", s.handleGetDiscovery)
		r.Get("/stats", s.handleStats)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	accessible := s.store.Ping(r.Context()) == nil
	status := "healthy"
	code := http.StatusOK
	if !accessible {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	middleware.WriteJSON(w, code, map[string]any{
		"status":              status,
		"database_accessible": accessible,
		"timestamp":           time.Now().UTC(),
	})
}

func (s *Server) handleSystems(w http.ResponseWriter, r *http.Request) {
	systems, err := s.store.Systems(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("Failed to list systems")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list systems")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"systems": systems})
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	system, err := s.store.System(r.Context(), name)
	if errors.Is(err, ErrSystemNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "System not found")
		return
	}
	if err != nil {
		logging.Error().Err(err).Str("system", name).Msg("Failed to load system")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load system")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"system": system})
}

func (s *Server) handleCreateDiscovery(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	d := req.TargetDiscovery
	if d.DiscoveryType == "" {
		d.DiscoveryType = req.Type
	}
	if d.LocationType == "" {
		d.LocationType = models.LocationSpace
		if d.LocationName != "" {
			d.LocationType = models.LocationPlanet
		}
	}
	if err := d.Validate(); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.store.Write(r.Context(), &d)
	if err != nil {
		logging.Error().Err(err).Str("type", d.DiscoveryType).Msg("Companion write failed")
		status := http.StatusInternalServerError
		if errors.Is(err, ErrRejected) {
			status = http.StatusUnprocessableEntity
		}
		middleware.WriteError(w, status, err.Error())
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, map[string]any{
		"success":      true,
		"discovery_id": res.DiscoveryID,
		"system_id":    res.SystemID,
		"planet_id":    res.PlanetID,
		"moon_id":      res.MoonID,
	})
}

func (s *Server) handleGetDiscovery(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid discovery id")
		return
	}
	d, err := s.store.Discovery(r.Context(), id)
	if errors.Is(err, ErrDiscoveryNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Discovery not found")
		return
	}
	if err != nil {
		logging.Error().Err(err).Int64("discovery_id", id).Msg("Failed to read discovery")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read discovery")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"discovery": d})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("Failed to count rows")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read stats")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, stats)
}
