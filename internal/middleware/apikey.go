// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/tomtom215/havensync/internal/logging"
)

// APIKeyHeader is the header protected routes read the key from.
const APIKeyHeader = "X-API-Key"

type apiKeyOptions struct {
	rejectEmpty bool
}

// APIKeyOption adjusts RequireAPIKey.
type APIKeyOption func(*apiKeyOptions)

// RejectEmptyKey makes an unconfigured key reject every request instead of
// disabling the check.
func RejectEmptyKey() APIKeyOption {
	return func(o *apiKeyOptions) { o.rejectEmpty = true }
}

// RequireAPIKey rejects requests whose X-API-Key does not match key with
// 401 {"error": "Unauthorized"}. An empty key disables the check unless
// RejectEmptyKey is given.
func RequireAPIKey(key string, opts ...APIKeyOption) func(http.Handler) http.Handler {
	var o apiKeyOptions
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		if key == "" && !o.rejectEmpty {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(APIKeyHeader)
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				logging.Ctx(r.Context()).Warn().
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Msg("Rejected request with missing or invalid API key")
				WriteError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
