// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/havensync/internal/logging"
)

// ShutdownReason identifies why the hub stopped.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Control message types exchanged with clients.
const (
	MessageTypePing = "ping"
	MessageTypePong = "pong"
)

const broadcastBuffer = 256

// Message is the envelope for every frame sent to clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub tracks connected clients and fans published events out to them.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*Client]struct{}
	broadcast chan Message
}

// NewHub creates an idle hub. Call Serve to start delivering events.
func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*Client]struct{}),
		broadcast: make(chan Message, broadcastBuffer),
	}
}

// Serve delivers published events until ctx is canceled, then closes every
// client. It implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		// Shutdown wins over pending broadcasts.
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		}
	}
}

// String names the hub in supervisor logs.
func (h *Hub) String() string {
	return "websocket-hub"
}

// Publish queues an event for every connected client. It never blocks; when
// the queue is full the event is dropped.
func (h *Hub) Publish(eventType string, data any) {
	select {
	case h.broadcast <- Message{Type: eventType, Data: data}:
	default:
		logging.Warn().Str("message_type", eventType).Msg("Broadcast channel full, dropping event")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	logging.Info().Uint64("client_id", c.id).Int("total_clients", n).Msg("Event stream client connected")
}

// unregister is safe to call for a client the hub already dropped.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		logging.Info().Uint64("client_id", c.id).Int("total_clients", n).Msg("Event stream client disconnected")
	}
}

// sortedClients must be called with mu held.
func (h *Hub) sortedClients() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	return clients
}

// broadcastToClients delivers msg in client id order and drops clients whose
// buffer is full.
func (h *Hub) broadcastToClients(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.sortedClients() {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			close(c.send)
			logging.Warn().Uint64("client_id", c.id).Msg("Dropping slow event stream client")
		}
	}
}

func (h *Hub) closeAllClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.sortedClients()
	for _, c := range clients {
		close(c.send)
		delete(h.clients, c)
	}
	return len(clients)
}

// logGracefulShutdown closes all clients and logs the stop. Cancellation is
// the normal path, so it is not logged as an error.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	closed := h.closeAllClients()
	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", closed).
		Msg("Event stream hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	if ctx.Err() == context.DeadlineExceeded {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

// MarshalMessage encodes msg as it is sent on the wire.
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
