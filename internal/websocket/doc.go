// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

/*
Package websocket streams live sync events to connected clients.

The sync worker publishes one event per processed entry and one per
completed batch. The Hub fans those events out to every client connected
to GET /sync/events on the Status API.

	┌──────────┐      Publish       ┌─────────┐
	│  worker  │ ─────────────────> │   Hub   │
	└──────────┘                    └────┬────┘
	                                     │
	                     ┌───────────────┼───────────────┐
	                     │               │               │
	                  Client          Client          Client

Each client runs a read pump (answers ping messages, tracks pong deadlines)
and a write pump (drains its send buffer, sends keepalive pings). A client
whose buffer is full is dropped rather than slowing the publisher.

The Hub implements suture.Service through Serve and runs in the API layer
of the supervisor tree. Shutting it down closes every client.

Message format:

	{"type": "entry_processed", "data": {"queue_id": 17, "discovery_id": 42, "result": "synced"}}
	{"type": "batch_completed", "data": {"due": 3, "synced": 2, "retried": 1, "terminal": 0, "skipped": 0}}
*/
package websocket
