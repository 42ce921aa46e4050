// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

package bus

import (
	"context"

	"github.com/waymark-analytics/waymark/internal/collector"
	"github.com/waymark-analytics/waymark/internal/enrich"
	"github.com/waymark-analytics/waymark/internal/events"
	"github.com/waymark-analytics/waymark/internal/journey"
)

// JourneyHandler folds enriched events into the journey mapper.
func JourneyHandler(m *journey.Mapper) Handler {
	return func(_ context.Context, ev *EnrichedEvent) error {
		m.Record(ev.Event, enrich.Result{
			Enriched:       ev.Enriched,
			LeadScore:      ev.LeadScore,
			HighIntent:     ev.HighIntent,
			SalesQualified: ev.SalesQualified,
		})
		return nil
	}
}

// CollectorHandler feeds per-event observations into the metrics
// collector.
func CollectorHandler(c *collector.Collector) Handler {
	return func(_ context.Context, ev *EnrichedEvent) error {
		c.Observe("event_count", 1)
		if ev.LeadScore != 0 {
			c.Observe("lead_score", float64(ev.LeadScore))
		}

		e := ev.Event
		switch e.Type {
		case events.TypePageView:
			c.Observe("page_views", 1)
		case events.TypeProductView:
			c.Observe("product_views", 1)
		case events.TypeConversion:
			c.Observe("conversions", 1)
		case events.TypeFormSubmission:
			c.Observe("form_submissions", 1)
		case events.TypeQuizInteraction:
			c.Observe("quiz_starts", 1)
		case events.TypeScrollDepth:
			if d, ok := e.Properties["depth"].(float64); ok {
				c.Observe("scroll_depth", d)
			}
		}
		c.ObserveBool("error_rate", e.Type == events.TypeErrorEncounter)
		return nil
	}
}
