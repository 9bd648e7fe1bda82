// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

/*
Package middleware provides the HTTP middleware shared by the Status API and the
companion API.

Components:

  - RequestID: UUID request ids propagated into the logging context
  - PrometheusMetrics: request count, latency and in-flight instrumentation
  - RequireAPIKey: constant-time X-API-Key check for protected route groups
  - WriteJSON, WriteError: the JSON body and {"error"} envelope both APIs use

All middleware has the func(http.Handler) http.Handler shape so it can be
mounted with chi's Use and With:

	r.Use(middleware.RequestID)
	r.Route("/sync", func(r chi.Router) {
	    r.Use(middleware.PrometheusMetrics)
	    r.Use(middleware.RequireAPIKey(cfg.API.APIKey))
	    r.Get("/status", h.SyncStatus)
	})

Metrics are labelled with the chi route pattern rather than the raw path, so
/sync/retry/17 and /sync/retry/18 share one series.
*/
package middleware
