// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

// Package bus is the in-process event pipeline: tracked events enter on
// the raw topic, an enricher handler scores them, and downstream handlers
// (journey, collector, dashboard) consume the enriched topic. Built on
// Watermill's gochannel transport with panic recovery and bounded retry.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/waymark-analytics/waymark/internal/enrich"
	"github.com/waymark-analytics/waymark/internal/events"
)

// Topics carried by the pipeline.
const (
	TopicRaw      = "telemetry.raw"
	TopicEnriched = "telemetry.enriched"
)

// EnrichedEvent is the enriched-topic payload: the original event plus
// the enrichment verdict.
type EnrichedEvent struct {
	Event          *events.AnalyticsEvent `json:"event"`
	Enriched       map[string]any         `json:"enriched,omitempty"`
	LeadScore      int                    `json:"lead_score"`
	HighIntent     bool                   `json:"high_intent"`
	SalesQualified bool                   `json:"sales_qualified"`
}

// Handler consumes one enriched event. A returned error triggers the
// router's bounded retry; after that the message is dropped.
type Handler func(ctx context.Context, ev *EnrichedEvent) error

// Pipeline owns the pub/sub channel and router. Construct, register
// handlers with OnEnriched, then Run.
type Pipeline struct {
	pubsub    *gochannel.GoChannel
	router    *message.Router
	processor *enrich.Processor
}

// NewPipeline builds the pipeline around the given enrichment processor.
func NewPipeline(processor *enrich.Processor) (*Pipeline, error) {
	logger := newWatermillLogger()

	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, logger)

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 10 * time.Second,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	router.AddMiddleware(middleware.Recoverer)
	retry := middleware.Retry{
		MaxRetries:      2,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
		Logger:          logger,
	}
	router.AddMiddleware(retry.Middleware)

	p := &Pipeline{
		pubsub:    pubsub,
		router:    router,
		processor: processor,
	}

	router.AddHandler(
		"enricher",
		TopicRaw,
		pubsub,
		TopicEnriched,
		pubsub,
		p.enrichHandler,
	)
	return p, nil
}

// PublishEvent puts a tracked event onto the raw topic.
func (p *Pipeline) PublishEvent(ctx context.Context, e *events.AnalyticsEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := message.NewMessage(e.EventID, payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("event_type", string(e.Type))
	return p.pubsub.Publish(TopicRaw, msg)
}

// OnEnriched registers a named consumer of the enriched topic.
func (p *Pipeline) OnEnriched(name string, h Handler) {
	p.router.AddNoPublisherHandler(
		name,
		TopicEnriched,
		p.pubsub,
		func(msg *message.Message) error {
			var ev EnrichedEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				// Malformed payloads cannot succeed on retry.
				return nil
			}
			return h(msg.Context(), &ev)
		},
	)
}

// enrichHandler scores a raw event and republishes it enriched.
func (p *Pipeline) enrichHandler(msg *message.Message) ([]*message.Message, error) {
	var e events.AnalyticsEvent
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return nil, nil
	}

	res := p.processor.Process(&e)
	e.LeadScoreImpact = res.LeadScore

	out := EnrichedEvent{
		Event:          &e,
		Enriched:       res.Enriched,
		LeadScore:      res.LeadScore,
		HighIntent:     res.HighIntent,
		SalesQualified: res.SalesQualified,
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode enriched event: %w", err)
	}

	next := message.NewMessage(watermill.NewUUID(), payload)
	next.Metadata.Set("event_type", string(e.Type))
	return []*message.Message{next}, nil
}

// Run starts the router and blocks until ctx is done.
func (p *Pipeline) Run(ctx context.Context) error {
	return p.router.Run(ctx)
}

// Running unblocks once the router is consuming.
func (p *Pipeline) Running() <-chan struct{} {
	return p.router.Running()
}

// Close shuts down the router and pub/sub channel.
func (p *Pipeline) Close() error {
	if err := p.router.Close(); err != nil {
		return err
	}
	return p.pubsub.Close()
}
