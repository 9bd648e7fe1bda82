// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tomtom215/havensync/internal/logging"
	"github.com/tomtom215/havensync/internal/middleware"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse = middleware.ErrorResponse

// respondJSON writes v as JSON with the given status.
func respondJSON(w http.ResponseWriter, status int, v any) {
	middleware.WriteJSON(w, status, v)
}

// respondError writes {"error": message}. A non-nil err is logged with the
// request's correlation fields but never sent to the client.
func respondError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	if err != nil {
		logging.Ctx(r.Context()).Error().
			Str("path", sanitizeLogValue(r.URL.Path)).
			Int("status", status).
			Str("error", sanitizeLogValue(err.Error())).
			Msg(message)
	}
	middleware.WriteError(w, status, message)
}

// sanitizeLogValue escapes control characters so request data cannot forge
// log lines.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&b, "\\x%02x", r)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
