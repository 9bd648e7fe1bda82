// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package websocket

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/havensync/internal/logging"
)

// Handler upgrades the request and attaches the connection to hub.
//
// Browser origins are checked against allowedOrigins, where "*" allows any.
// Requests without an Origin header come from non-browser clients, which the
// API key middleware already authenticated, and are accepted.
func Handler(hub *Hub, allowedOrigins []string) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			logging.Ctx(r.Context()).Warn().Err(err).Msg("Event stream upgrade failed")
			return
		}
		NewClient(hub, conn).Start()
	}
}

func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	logging.Warn().Str("origin", sanitizeOrigin(origin)).Msg("Event stream rejected from unlisted origin")
	return false
}

func sanitizeOrigin(s string) string {
	s = strings.NewReplacer("\n", "", "\r", "").Replace(s)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
