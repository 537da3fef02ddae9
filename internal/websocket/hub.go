// Vigilium - Audit Logging, Risk Scoring, and Suspicious Activity Detection
// Copyright 2026 M. Kessler (mkessl)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mkessl/vigilium

// Package websocket provides the live alert stream: connected clients
// receive suspicious and high-risk records as they pass through the
// pipeline.
package websocket

import (
	"context"
	"sync"

	"github.com/mkessl/vigilium/internal/detection"
	"github.com/mkessl/vigilium/internal/logging"
	"github.com/mkessl/vigilium/internal/metrics"
)

// Message types for the alert stream.
const (
	MessageTypeAlert = "audit_alert"
	MessageTypePing  = "ping"
	MessageTypePong  = "pong"
)

// Message is one frame on the alert stream.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub maintains the set of active clients and broadcasts alerts to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a Hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// BroadcastAlert queues an alert for delivery to all connected clients.
// Never blocks the pipeline; when the queue is full the alert is dropped
// for the stream (it is still persisted and visible to queries).
func (h *Hub) BroadcastAlert(alert *detection.Alert) {
	msg := Message{Type: MessageTypeAlert, Data: alert}
	select {
	case h.broadcast <- msg:
		metrics.AlertsDelivered.WithLabelValues("websocket", "ok").Inc()
	default:
		metrics.AlertsDelivered.WithLabelValues("websocket", "dropped").Inc()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RunWithContext runs the hub until the context is canceled, then closes
// all clients. Designed for suture supervision. Lifecycle events take
// priority over broadcasts so client state is consistent before a
// message fans out.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Priority 1: shutdown
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return ctx.Err()
		default:
		}

		// Priority 2: lifecycle events
		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		// Priority 3: broadcasts, or block until any event
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.broadcastToClients(msg)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebsocketClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("Alert stream client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebsocketClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("Alert stream client disconnected")
}

// broadcastToClients fans a message out. Slow clients are disconnected
// rather than allowed to stall the hub.
func (h *Hub) broadcastToClients(msg Message) {
	h.mu.RLock()
	var stalled []*Client
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			stalled = append(stalled, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stalled {
		h.removeClient(client)
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	count := len(h.clients)
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	metrics.WebsocketClients.Set(0)
	logging.Info().Int("clients_closed", count).Str("component", "websocket-hub").
		Msg("Alert stream hub shut down")
}

// String implements suture's friendly naming.
func (h *Hub) String() string { return "websocket-hub" }
