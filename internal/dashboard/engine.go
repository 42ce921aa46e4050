// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

// Package dashboard maintains the realtime channel to the analytics
// backend and the local pub/sub registry that fans incoming channel
// messages and locally computed metric updates out to subscribers.
//
// Connection lifecycle: Disconnected -> Connecting (websocket, SSE
// fallback) -> Connected -> on failure Reconnecting with fixed backoff
// scaled by attempt count -> after the attempt cap, Disconnected for good.
package dashboard

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/waymark-analytics/waymark/internal/clock"
	"github.com/waymark-analytics/waymark/internal/collector"
	"github.com/waymark-analytics/waymark/internal/logging"
	"github.com/waymark-analytics/waymark/internal/metrics"
)

// State is the realtime connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// TopicConnectionStatus is the reserved topic notified on every
// connection-state transition.
const TopicConnectionStatus = "connection_status"

// Message is one dashboard update, incoming or locally produced.
type Message struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Callback receives messages for a subscribed type.
type Callback func(Message)

// ErrNotConnected is returned by SendEvent when neither the socket nor
// the HTTP fallback delivered.
var ErrNotConnected = errors.New("dashboard: not connected")

// Config carries the engine's endpoints and retry policy.
type Config struct {
	WebSocketURL         string
	SSEURL               string
	EventPostURL         string
	ReconnectBackoff     time.Duration
	MaxReconnectAttempts int
}

// Engine is the realtime client. Construct with NewEngine, register
// subscribers, then Run.
type Engine struct {
	cfg    Config
	clk    clock.Clock
	dial   dialFunc
	client *http.Client

	mu      sync.Mutex
	state   State
	subs    map[string]map[int]Callback
	nextID  int
	current stream
}

// Option configures an Engine.
type Option func(*Engine)

// withDialFunc overrides stream dialing, for tests.
func withDialFunc(fn dialFunc) Option {
	return func(e *Engine) { e.dial = fn }
}

// NewEngine creates a dashboard engine in the Disconnected state.
func NewEngine(cfg Config, clk clock.Clock, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		clk:    clk,
		client: &http.Client{Timeout: 10 * time.Second},
		subs:   make(map[string]map[int]Callback),
	}
	e.dial = defaultDial(cfg.WebSocketURL, cfg.SSEURL, e.client)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscribe registers a callback for a message type and returns the
// subscription id used to unsubscribe.
func (e *Engine) Subscribe(msgType string, cb Callback) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	if e.subs[msgType] == nil {
		e.subs[msgType] = make(map[int]Callback)
	}
	e.subs[msgType][id] = cb
	return id
}

// Unsubscribe removes a subscription.
func (e *Engine) Unsubscribe(msgType string, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subs[msgType], id)
}

// Publish dispatches a message to all subscribers of its type. Locally
// computed metric updates enter the registry through here.
func (e *Engine) Publish(msg Message) {
	e.mu.Lock()
	cbs := make([]Callback, 0, len(e.subs[msg.Type]))
	for _, cb := range e.subs[msg.Type] {
		cbs = append(cbs, cb)
	}
	e.mu.Unlock()
	for _, cb := range cbs {
		cb(msg)
	}
}

// State returns the current connection state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SendEvent delivers an event upstream: over the socket when connected,
// otherwise one HTTP POST. Failures are logged, never retried here.
func (e *Engine) SendEvent(ctx context.Context, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	e.mu.Lock()
	s := e.current
	connected := e.state == StateConnected
	e.mu.Unlock()

	if connected && s != nil {
		if err := s.write(payload); err == nil {
			return nil
		} else if !errors.Is(err, errSSEWriteUnsupported) {
			logging.Debug().Err(err).Msg("socket send failed, falling back to post")
		}
	}
	return e.postEvent(ctx, payload)
}

func (e *Engine) postEvent(ctx context.Context, payload []byte) error {
	if e.cfg.EventPostURL == "" {
		return ErrNotConnected
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.EventPostURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		logging.Warn().Err(err).Msg("event post failed")
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		resp.Body.Close()              //nolint:errcheck
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.Warn().Int("status", resp.StatusCode).Msg("event post rejected")
		return ErrNotConnected
	}
	return nil
}

// AttachCollector subscribes the engine to collector ticks, republishing
// every snapshot set as a metric_update message.
func (e *Engine) AttachCollector(c *collector.Collector) {
	c.OnUpdate(func(snaps []collector.Snapshot) {
		for _, snap := range snaps {
			e.Publish(Message{
				Type: "metric_update",
				Data: map[string]any{
					"name":      snap.Name,
					"value":     snap.Value,
					"change":    snap.Change,
					"trend":     string(snap.Trend),
					"sparkline": snap.Sparkline,
				},
			})
		}
	})
}

// Run drives the connection state machine until ctx ends or the attempt
// cap is reached. Reaching the cap is terminal: the engine reports a
// final disconnected status and returns nil.
func (e *Engine) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			e.setState(StateDisconnected, attempt)
			return ctx.Err()
		}

		e.setState(StateConnecting, attempt)
		s, err := e.dial(ctx)
		if err == nil {
			attempt = 0
			e.adopt(s)
			e.setState(StateConnected, attempt)
			e.readLoop(ctx, s)
			e.drop(s)
			if ctx.Err() != nil {
				e.setState(StateDisconnected, attempt)
				return ctx.Err()
			}
			// Connection lost: redial immediately with a fresh attempt
			// budget. Only failed dials consume attempts.
			continue
		}

		logging.Debug().Err(err).Int("attempt", attempt+1).Msg("realtime connect failed")
		attempt++
		metrics.RealtimeReconnects.Inc()
		if attempt >= e.cfg.MaxReconnectAttempts {
			e.setState(StateDisconnected, attempt)
			logging.Warn().Int("attempts", attempt).Msg("realtime reconnect cap reached, giving up")
			return nil
		}
		e.setState(StateReconnecting, attempt)

		select {
		case <-ctx.Done():
			e.setState(StateDisconnected, attempt)
			return ctx.Err()
		case <-e.clk.After(e.cfg.ReconnectBackoff * time.Duration(attempt)):
		}
	}
}

// readLoop dispatches incoming stream messages until the stream fails.
func (e *Engine) readLoop(ctx context.Context, s stream) {
	for {
		payload, err := s.read()
		if err != nil {
			if ctx.Err() == nil {
				logging.Debug().Err(err).Msg("realtime stream closed")
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			logging.Debug().Err(err).Msg("discarding malformed realtime message")
			continue
		}
		e.Publish(msg)
	}
}

func (e *Engine) adopt(s stream) {
	e.mu.Lock()
	e.current = s
	e.mu.Unlock()
}

func (e *Engine) drop(s stream) {
	s.close() //nolint:errcheck
	e.mu.Lock()
	if e.current == s {
		e.current = nil
	}
	e.mu.Unlock()
}

// setState records the transition and notifies the reserved topic.
func (e *Engine) setState(next State, attempt int) {
	e.mu.Lock()
	prev := e.state
	e.state = next
	e.mu.Unlock()
	if prev == next {
		return
	}

	metrics.RealtimeState.Set(float64(next))
	logging.Debug().
		Str("from", prev.String()).
		Str("to", next.String()).
		Msg("realtime connection state change")

	e.Publish(Message{
		Type: TopicConnectionStatus,
		Data: map[string]any{
			"state":     next.String(),
			"connected": next == StateConnected,
			"attempt":   attempt,
		},
	})
}
