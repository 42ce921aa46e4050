// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

// Package websocket fans analytics updates out to connected dashboard
// clients, over websocket connections and server-sent-event streams.
package websocket

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/waymark-analytics/waymark/internal/collector"
	"github.com/waymark-analytics/waymark/internal/events"
	"github.com/waymark-analytics/waymark/internal/logging"
	"github.com/waymark-analytics/waymark/internal/metrics"
)

// Message types pushed to dashboard clients.
const (
	MessageTypeEvent         = "analytics_event"
	MessageTypeMetricUpdate  = "metric_update"
	MessageTypeJourneyUpdate = "journey_update"
	MessageTypeLeadUpdate    = "lead_update"
	MessageTypePing          = "ping"
	MessageTypePong          = "pong"
)

// Message is one realtime payload.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub maintains the set of connected clients and broadcasts messages to
// them. Websocket clients register through Register/Unregister; SSE
// streams attach with SubscribeAll.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client

	mu       sync.RWMutex
	watchers map[uint64]chan Message
	nextID   uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan Message, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		watchers:   make(map[uint64]chan Message),
	}
}

// Run dispatches lifecycle events and broadcasts until ctx is done.
// Lifecycle events take priority over pending broadcasts so client state
// is consistent before messages go out.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.dispatch(msg)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.RealtimeClients.Set(float64(n))
	logging.Info().Int("total_clients", n).Msg("realtime client connected")
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.stop()
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.RealtimeClients.Set(float64(n))
	logging.Info().Int("total_clients", n).Msg("realtime client disconnected")
}

// dispatch delivers one message to every websocket client and SSE
// watcher. Clients with a full send buffer are dropped.
func (h *Hub) dispatch(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	var stale []*Client
	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			stale = append(stale, c)
		}
	}
	for _, c := range stale {
		c.stop()
		delete(h.clients, c)
	}

	for _, ch := range h.watchers {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.clients)
	for c := range h.clients {
		c.stop()
		delete(h.clients, c)
	}
	for id, ch := range h.watchers {
		close(ch)
		delete(h.watchers, id)
	}
	metrics.RealtimeClients.Set(0)
	logging.Info().
		Str("component", "websocket-hub").
		Int("clients_closed", n).
		Msg("realtime hub stopped")
}

// SubscribeAll attaches a watcher receiving every broadcast, for SSE
// streams. The returned cancel detaches and drains the watcher.
func (h *Hub) SubscribeAll() (<-chan Message, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	ch := make(chan Message, 64)
	h.watchers[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.watchers[id]; ok {
			delete(h.watchers, id)
			close(ch)
		}
	}
}

// ClientCount returns the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues one message, dropping it when the hub is backed up.
func (h *Hub) Broadcast(msgType string, data any) {
	select {
	case h.broadcast <- Message{Type: msgType, Data: data}:
	default:
		logging.Warn().Str("message_type", msgType).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastEvent pushes one accepted analytics event.
func (h *Hub) BroadcastEvent(e *events.AnalyticsEvent) {
	h.Broadcast(MessageTypeEvent, e)
}

// MetricUpdateData is the payload of a metric_update message.
type MetricUpdateData struct {
	Timestamp string               `json:"timestamp"`
	Metrics   []collector.Snapshot `json:"metrics"`
}

// BroadcastMetrics pushes one aggregated snapshot set.
func (h *Hub) BroadcastMetrics(snaps []collector.Snapshot) {
	h.Broadcast(MessageTypeMetricUpdate, MetricUpdateData{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Metrics:   snaps,
	})
}

// JourneyUpdateData is the payload of a journey_update message.
type JourneyUpdateData struct {
	UserID                string  `json:"user_id"`
	Stage                 string  `json:"stage"`
	ProgressionScore      float64 `json:"progression_score"`
	ConversionProbability float64 `json:"conversion_probability"`
}

// BroadcastJourneyUpdate pushes a journey stage/score change.
func (h *Hub) BroadcastJourneyUpdate(userID, stage string, progression, probability float64) {
	h.Broadcast(MessageTypeJourneyUpdate, JourneyUpdateData{
		UserID:                userID,
		Stage:                 stage,
		ProgressionScore:      progression,
		ConversionProbability: probability,
	})
}
