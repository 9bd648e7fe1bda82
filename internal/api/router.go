// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/havensync/internal/config"
	"github.com/tomtom215/havensync/internal/middleware"
	"github.com/tomtom215/havensync/internal/websocket"
)

// Router wires handlers to routes and middleware.
type Router struct {
	handler *Handler
	cfg     config.APIConfig
	events  *websocket.Hub
}

// NewRouter creates a Router.
func NewRouter(handler *Handler, cfg config.APIConfig) *Router {
	return &Router{handler: handler, cfg: cfg}
}

// WithEventStream serves hub on GET /sync/events. Without it the route
// reports 503.
func (router *Router) WithEventStream(hub *websocket.Hub) *Router {
	router.events = hub
	return router
}

// Setup builds the chi handler for the Status API.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// ========================
	// Global Middleware Stack
	// ========================
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.cors())
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
	})

	// ========================
	// Health and Metrics
	// ========================
	r.With(middleware.PrometheusMetrics).Get("/health", router.handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	// ========================
	// Sync Endpoints
	// ========================
	r.Route("/sync", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)
		r.Use(router.rateLimit())
		r.Use(middleware.RequireAPIKey(router.cfg.APIKey))

		r.Get("/status", router.handler.SyncStatus)
		r.Get("/statistics", router.handler.SyncStatistics)
		r.Get("/failed", router.handler.FailedItems)
		r.Post("/retry/{queue_id}", router.handler.RetryItem)
		r.Post("/discoveries/{discovery_id}", router.handler.SyncDiscovery)
		r.Get("/events", router.eventStream())
	})

	return r
}

func (router *Router) eventStream() http.HandlerFunc {
	if router.events == nil {
		return func(w http.ResponseWriter, r *http.Request) {
			respondError(w, r, http.StatusServiceUnavailable, "Event stream not enabled", nil)
		}
	}
	return websocket.Handler(router.events, router.cfg.CORSOrigins)
}

func (router *Router) cors() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: router.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", middleware.APIKeyHeader, middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         86400,
	})
}

// rateLimit limits /sync per client IP. A non-positive request count
// disables limiting.
func (router *Router) rateLimit() func(http.Handler) http.Handler {
	if router.cfg.RateLimitReqs <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	window := router.cfg.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	return httprate.Limit(
		router.cfg.RateLimitReqs,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			respondError(w, r, http.StatusTooManyRequests, "Too many requests", nil)
		}),
	)
}
