// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

// Package client assembles the telemetry pipeline behind a single facade:
// consent gate, session lifecycle, tracker, enrichment bus, journey mapper,
// metric collector, upstream ingest transport, and the realtime dashboard
// channel. Callers track events through the facade and never touch the
// component wiring directly.
package client

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
	"golang.org/x/time/rate"

	"github.com/waymark-analytics/waymark/internal/bus"
	"github.com/waymark-analytics/waymark/internal/clock"
	"github.com/waymark-analytics/waymark/internal/collector"
	"github.com/waymark-analytics/waymark/internal/config"
	"github.com/waymark-analytics/waymark/internal/dashboard"
	"github.com/waymark-analytics/waymark/internal/enrich"
	"github.com/waymark-analytics/waymark/internal/events"
	"github.com/waymark-analytics/waymark/internal/ingest"
	"github.com/waymark-analytics/waymark/internal/journey"
	"github.com/waymark-analytics/waymark/internal/logging"
	"github.com/waymark-analytics/waymark/internal/session"
	"github.com/waymark-analytics/waymark/internal/storage"
	"github.com/waymark-analytics/waymark/internal/supervisor"
	"github.com/waymark-analytics/waymark/internal/tracker"
)

const sendTimeout = 5 * time.Second

// Client is the telemetry facade. All methods are safe for concurrent use.
type Client struct {
	cfg     *config.Config
	clk     clock.Clock
	consent *storage.ConsentGate

	sessions  *session.Manager
	tracker   *tracker.Tracker
	pipeline  *bus.Pipeline
	mapper    *journey.Mapper
	collector *collector.Collector
	engine    *dashboard.Engine
	transport ingest.Transport

	// forward caps the rate of events mirrored to the upstream realtime
	// channel. The local pipeline is never rate limited.
	forward *rate.Limiter

	mu       sync.Mutex
	userID   string
	eventCtx events.EventContext
}

// Option customizes Client construction.
type Option func(*Client)

// WithTransport replaces the ingest transport built from configuration.
func WithTransport(t ingest.Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithEventContext sets the device/page snapshot attached to every event.
func WithEventContext(ec events.EventContext) Option {
	return func(c *Client) { c.eventCtx = ec }
}

// New wires the full pipeline on top of store. Persistence is routed
// through the consent gate, so nothing is written until consent is granted.
func New(cfg *config.Config, store storage.Store, clk clock.Clock, opts ...Option) (*Client, error) {
	c := &Client{cfg: cfg, clk: clk}
	for _, opt := range opts {
		opt(c)
	}

	c.consent = storage.NewConsentGate(store)
	gated := c.consent.Gate()

	pipeline, err := bus.NewPipeline(enrich.New())
	if err != nil {
		return nil, err
	}
	c.pipeline = pipeline

	c.mapper = journey.NewMapper(gated, clk, cfg.Journey.TouchpointLimit)
	c.collector = collector.New(clk,
		cfg.Collector.AggregationInterval, cfg.Collector.BufferSize, cfg.Collector.SparklineSize)
	pipeline.OnEnriched("journey", bus.JourneyHandler(c.mapper))
	pipeline.OnEnriched("collector", bus.CollectorHandler(c.collector))

	c.sessions = session.NewManager(gated, clk,
		cfg.Session.IdleTimeout, cfg.Session.HistoryLimit, session.Options{
			Referrer: c.eventCtx.Referrer,
			DeviceInfo: session.DeviceInfo{
				DeviceType: c.eventCtx.DeviceType,
				OS:         c.eventCtx.OS,
				Browser:    c.eventCtx.Browser,
				Language:   c.eventCtx.Language,
			},
		})

	if c.transport == nil {
		if cfg.Ingest.URL != "" {
			c.transport = ingest.NewHTTPTransport(cfg.Ingest.URL)
		} else {
			c.transport = discardTransport{}
		}
	}
	c.tracker = tracker.New(trackerConfig(cfg.Tracker), clk, c.transport, c.sessions.ID)

	c.engine = dashboard.NewEngine(dashboard.Config{
		WebSocketURL:         cfg.Dashboard.RealtimeURL,
		SSEURL:               cfg.Dashboard.StreamURL,
		EventPostURL:         cfg.Dashboard.EventsURL,
		ReconnectBackoff:     cfg.Dashboard.ReconnectBackoff,
		MaxReconnectAttempts: cfg.Dashboard.MaxReconnectAttempts,
	}, clk)
	c.engine.AttachCollector(c.collector)
	c.forward = rate.NewLimiter(rate.Limit(cfg.Dashboard.ForwardRate), cfg.Dashboard.ForwardBurst)

	// Restore a previously linked identity. Key absence is the normal
	// anonymous case.
	if v, err := gated.Get(storage.KeyUserID); err == nil {
		c.userID = string(v)
	}
	return c, nil
}

func trackerConfig(tc config.TrackerConfig) tracker.Config {
	rates := make(map[events.EventType]float64, len(tc.SampleRates))
	for t, r := range tc.SampleRates {
		rates[events.EventType(t)] = r
	}
	return tracker.Config{
		MaxBatchSize:      tc.MaxBatchSize,
		FlushInterval:     tc.FlushInterval,
		DedupWindow:       tc.DedupWindow,
		DedupRetention:    tc.DedupRetention,
		AggregateWindow:   tc.AggregateWindow,
		DefaultSampleRate: tc.DefaultSampleRate,
		SampleRates:       rates,
	}
}

// Register adds every long-running component to the supervision tree.
// The realtime engine is only supervised when an upstream URL is set; its
// local pub/sub works without a connection.
func (c *Client) Register(tree *supervisor.Tree) {
	tree.AddPipelineService(supervisor.Func{Name: "pipeline", Fn: c.pipeline.Run})
	tree.AddPipelineService(supervisor.Func{Name: "tracker", Fn: c.tracker.Run})
	tree.AddPipelineService(supervisor.Func{Name: "collector", Fn: c.collector.Run})
	tree.AddPipelineService(supervisor.Func{Name: "sessions", Fn: c.sessions.Run})
	if c.cfg.Dashboard.RealtimeURL != "" {
		tree.AddRealtimeService(supervisor.Func{Name: "dashboard-engine", Fn: func(ctx context.Context) error {
			// No network activity before consent, the upstream dial included.
			if err := c.waitForConsent(ctx); err != nil {
				return err
			}
			if err := c.engine.Run(ctx); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Reconnect budget exhausted: terminal disconnect, no restart.
			return suture.ErrDoNotRestart
		}})
	}
}

func (c *Client) waitForConsent(ctx context.Context) error {
	for !c.consent.Granted() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clk.After(time.Second):
		}
	}
	return nil
}

// GrantConsent enables tracking and persistence.
func (c *Client) GrantConsent() error {
	return c.consent.Grant(c.clk.Now())
}

// RevokeConsent disables tracking, purges all persisted state, and
// discards any buffered events so they are never delivered.
func (c *Client) RevokeConsent() error {
	if err := c.consent.Revoke(); err != nil {
		return err
	}
	if n := c.tracker.Drop(); n > 0 {
		logging.Info().Int("events", n).Msg("discarded buffered events on consent revocation")
	}
	c.mu.Lock()
	c.userID = ""
	c.mu.Unlock()
	return nil
}

// ConsentGranted reports whether tracking consent is currently granted.
func (c *Client) ConsentGranted() bool {
	return c.consent.Granted()
}

// Track records one event: the session is touched, the event enters the
// batching tracker, and the enrichment pipeline fans it out to journey
// mapping, metric aggregation, and realtime subscribers. Returns
// storage.ErrNoConsent when consent has not been granted.
func (c *Client) Track(props events.Properties, revenueImpact float64) error {
	if !c.consent.Granted() {
		return storage.ErrNoConsent
	}
	t := props.Kind()
	c.recordSession(t, props)

	c.mu.Lock()
	userID := c.userID
	ec := c.eventCtx
	c.mu.Unlock()

	e := events.New(t, props, c.sessions.ID(), ec, c.clk.Now())
	e.UserID = userID
	e.RevenueImpact = revenueImpact

	c.tracker.Track(e)
	// The bus is a non-persistent gochannel: fan-out to the journey and
	// collector handlers only happens once the supervised router is
	// running. The tracker above captures the event regardless.
	if err := c.pipeline.PublishEvent(context.Background(), e); err != nil {
		logging.Warn().Err(err).Str("event_type", string(t)).Msg("pipeline publish failed")
	}
	c.mirror(e)
	return nil
}

// recordSession folds the event into session bookkeeping by type.
func (c *Client) recordSession(t events.EventType, props events.Properties) {
	switch t {
	case events.TypePageView:
		page, _ := props.Map()["page"].(string)
		c.sessions.RecordPageView(page)
	case events.TypeScrollDepth:
		depth, _ := props.Map()["depth"].(float64)
		c.sessions.RecordScrollDepth(depth)
	case events.TypeConversion:
		ct, _ := props.Map()["conversion_type"].(string)
		c.sessions.RecordConversion(ct)
	case events.TypeErrorEncounter:
		c.sessions.Touch()
	default:
		c.sessions.RecordInteraction()
	}
}

// mirror forwards the event to the upstream realtime channel, rate limited
// and best effort. Local processing never waits on it.
func (c *Client) mirror(e *events.AnalyticsEvent) {
	if c.cfg.Dashboard.RealtimeURL == "" && c.cfg.Dashboard.EventsURL == "" {
		return
	}
	if !c.forward.Allow() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := c.engine.SendEvent(ctx, e); err != nil {
			logging.Debug().Err(err).Str("event_id", e.EventID).Msg("realtime forward failed")
		}
	}()
}

// TrackPageView records a page_view event.
func (c *Client) TrackPageView(page, title string) error {
	c.mu.Lock()
	ref := c.eventCtx.Referrer
	c.mu.Unlock()
	return c.Track(events.PageViewProps{Page: page, Title: title, Referrer: ref}, 0)
}

// TrackProductView records a product_view event.
func (c *Client) TrackProductView(p events.ProductViewProps) error {
	return c.Track(p, 0)
}

// TrackQuizInteraction records a quiz_interaction event.
func (c *Client) TrackQuizInteraction(q events.QuizProps) error {
	return c.Track(q, 0)
}

// TrackConversion records a conversion_event carrying revenue impact.
func (c *Client) TrackConversion(conversionType string, value float64) error {
	return c.Track(events.ConversionProps{ConversionType: conversionType, Value: value}, value)
}

// TrackError records an error_encounter event.
func (c *Client) TrackError(message, code, page string) error {
	return c.Track(events.ErrorProps{Message: message, Code: code, Page: page}, 0)
}

// SetUserID links the anonymous journey to a known identity and persists
// the mapping. Events recorded so far under the session identity are
// merged into the user's journey.
func (c *Client) SetUserID(id string) error {
	if !c.consent.Granted() {
		return storage.ErrNoConsent
	}
	c.mu.Lock()
	prev := c.userID
	c.userID = id
	c.mu.Unlock()

	if prev == "" {
		prev = c.sessions.ID()
	}
	if prev != id {
		c.mapper.Merge(prev, id)
	}
	if err := c.consent.Gate().Set(storage.KeyUserID, []byte(id)); err != nil {
		logging.Warn().Err(err).Msg("failed to persist user id")
	}
	return nil
}

// UpdateLeadScore awards externally determined points to the current
// identity's journey and returns the new total.
func (c *Client) UpdateLeadScore(points int) (int, error) {
	if !c.consent.Granted() {
		return 0, storage.ErrNoConsent
	}
	total := c.mapper.AddLeadScore(c.identity(), points)
	if err := c.consent.Gate().Set(storage.KeyLeadScore, []byte(strconv.Itoa(total))); err != nil {
		logging.Warn().Err(err).Msg("failed to persist lead score")
	}
	return total, nil
}

// UpdateJourneyStage moves the current identity's journey to stage.
// Only the immediate next stage is accepted.
func (c *Client) UpdateJourneyStage(stage string) (bool, error) {
	if !c.consent.Granted() {
		return false, storage.ErrNoConsent
	}
	s, ok := journey.ParseStage(stage)
	if !ok {
		return false, fmt.Errorf("unknown journey stage %q", stage)
	}
	return c.mapper.UpdateStage(c.identity(), s), nil
}

// identity returns the journey key: the linked user ID when known,
// otherwise the session ID.
func (c *Client) identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID != "" {
		return c.userID
	}
	return c.sessions.ID()
}

// Journey returns the current identity's journey, if one exists.
func (c *Client) Journey() (journey.Journey, bool) {
	return c.mapper.Get(c.identity())
}

// SessionMetrics returns derived metrics for the active session.
func (c *Client) SessionMetrics() (session.Metrics, error) {
	if !c.consent.Granted() {
		return session.Metrics{}, storage.ErrNoConsent
	}
	return c.sessions.Metrics(), nil
}

// Subscribe registers a realtime callback for a message type and returns
// a subscription id for Unsubscribe.
func (c *Client) Subscribe(msgType string, cb dashboard.Callback) int {
	return c.engine.Subscribe(msgType, cb)
}

// Unsubscribe removes a realtime subscription.
func (c *Client) Unsubscribe(msgType string, id int) {
	c.engine.Unsubscribe(msgType, id)
}

// Flush forces delivery of everything currently buffered.
func (c *Client) Flush(ctx context.Context) {
	c.tracker.Flush(ctx)
}

// Close flushes and releases pipeline resources. The store is owned by
// the caller and is not closed here.
func (c *Client) Close() error {
	c.tracker.Close()
	if err := c.transport.Close(); err != nil {
		logging.Warn().Err(err).Msg("transport close failed")
	}
	return c.pipeline.Close()
}

// Sessions exposes the session manager to the reporting surface.
func (c *Client) Sessions() *session.Manager { return c.sessions }

// Mapper exposes the journey mapper to the reporting surface.
func (c *Client) Mapper() *journey.Mapper { return c.mapper }

// Collector exposes the metric collector to the reporting surface.
func (c *Client) Collector() *collector.Collector { return c.collector }

// Pipeline exposes the enrichment pipeline for additional handlers.
func (c *Client) Pipeline() *bus.Pipeline { return c.pipeline }

// Engine exposes the realtime dashboard engine.
func (c *Client) Engine() *dashboard.Engine { return c.engine }

// discardTransport drops batches when no ingest endpoint is configured.
// The local pipeline still runs; only upstream delivery is disabled.
type discardTransport struct{}

func (discardTransport) Send(_ context.Context, b *events.Batch) error {
	logging.Debug().Int("raw_events", len(b.RawEvents)).Msg("ingest disabled, batch discarded")
	return nil
}

func (discardTransport) Close() error { return nil }
