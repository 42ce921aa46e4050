// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

package enrich

import (
	"errors"
	"testing"
	"time"

	"github.com/waymark-analytics/waymark/internal/events"
)

func makeEvent(t events.EventType, props map[string]any) *events.AnalyticsEvent {
	return &events.AnalyticsEvent{
		SchemaVersion: events.SchemaVersion,
		EventID:       "test-event",
		Type:          t,
		Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		SessionID:     "sess-1",
		Properties:    props,
	}
}

func TestLeadScoreTable(t *testing.T) {
	tests := []struct {
		name           string
		eventType      events.EventType
		props          map[string]any
		wantScore      int
		wantHighIntent bool
		wantQualified  bool
	}{
		{"page view", events.TypePageView, map[string]any{"page": "/about"}, 1, false, false},
		{"product view standard", events.TypeProductView, map[string]any{"price": 49.0, "price_tier": "standard"}, 5, false, false},
		{"product view premium", events.TypeProductView, map[string]any{"price": 499.0, "price_tier": "premium"}, 10, false, false},
		{"product view no price", events.TypeProductView, map[string]any{}, 3, false, false},
		{"quiz early", events.TypeQuizInteraction, map[string]any{"progress": 25.0}, 8, false, false},
		{"quiz past halfway", events.TypeQuizInteraction, map[string]any{"progress": 75.0}, 12, false, false},
		{"form contact", events.TypeFormSubmission, map[string]any{"form_type": "contact"}, 15, false, false},
		{"form quote", events.TypeFormSubmission, map[string]any{"form_type": "quote"}, 30, true, false},
		{"demo request", events.TypeDemoRequest, nil, 38, true, false},
		{"quote request", events.TypeQuoteRequest, nil, 60, true, true},
		{"conversion small", events.TypeConversion, map[string]any{"value": 500.0}, 50, true, true},
		{"conversion large", events.TypeConversion, map[string]any{"value": 2500.0}, 100, true, true},
		{"error encounter", events.TypeErrorEncounter, map[string]any{"code": "E42"}, -2, false, false},
		{"unregistered type", events.TypeScrollDepth, nil, 1, false, false},
	}

	p := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Process(makeEvent(tt.eventType, tt.props))
			if res.LeadScore != tt.wantScore {
				t.Errorf("LeadScore = %d, want %d", res.LeadScore, tt.wantScore)
			}
			if res.HighIntent != tt.wantHighIntent {
				t.Errorf("HighIntent = %v, want %v", res.HighIntent, tt.wantHighIntent)
			}
			if res.SalesQualified != tt.wantQualified {
				t.Errorf("SalesQualified = %v, want %v", res.SalesQualified, tt.wantQualified)
			}
		})
	}
}

func TestPageCategory(t *testing.T) {
	tests := []struct {
		page string
		want string
	}{
		{"/", "home"},
		{"", "home"},
		{"/products/widget", "product"},
		{"/quiz/start", "quiz"},
		{"/pricing", "other"},
	}

	p := New()
	for _, tt := range tests {
		res := p.Process(makeEvent(events.TypePageView, map[string]any{"page": tt.page}))
		if got := res.Enriched["page_category"]; got != tt.want {
			t.Errorf("page %q: category = %v, want %q", tt.page, got, tt.want)
		}
	}
}

func TestProcessRecoversPanic(t *testing.T) {
	p := New()
	p.Register(events.TypePageView, func(e *events.AnalyticsEvent) (Result, error) {
		panic("boom")
	})

	res := p.Process(makeEvent(events.TypePageView, nil))
	if res.LeadScore != 1 {
		t.Errorf("LeadScore after panic = %d, want default 1", res.LeadScore)
	}
	if res.Enriched["enrichment"] != "default" {
		t.Errorf("expected default enrichment, got %v", res.Enriched)
	}
}

func TestProcessFallsBackOnError(t *testing.T) {
	p := New()
	p.Register(events.TypeConversion, func(e *events.AnalyticsEvent) (Result, error) {
		return Result{}, errors.New("lookup failed")
	})

	res := p.Process(makeEvent(events.TypeConversion, map[string]any{"value": 2500.0}))
	if res.LeadScore != 1 {
		t.Errorf("LeadScore after error = %d, want default 1", res.LeadScore)
	}
}

func TestConversionValueFromRevenueImpact(t *testing.T) {
	e := makeEvent(events.TypeConversion, map[string]any{})
	e.RevenueImpact = 5000

	res := New().Process(e)
	if res.LeadScore != 100 {
		t.Errorf("LeadScore = %d, want 100 for revenue impact over 1000", res.LeadScore)
	}
}

func TestRegisterReplaces(t *testing.T) {
	p := New()
	p.Register(events.TypeErrorEncounter, func(e *events.AnalyticsEvent) (Result, error) {
		return Result{Enriched: map[string]any{}, LeadScore: -10}, nil
	})

	res := p.Process(makeEvent(events.TypeErrorEncounter, nil))
	if res.LeadScore != -10 {
		t.Errorf("LeadScore = %d, want -10 from replaced func", res.LeadScore)
	}
}

func TestIntPropsCoerced(t *testing.T) {
	res := New().Process(makeEvent(events.TypeQuizInteraction, map[string]any{"progress": 80}))
	if res.LeadScore != 12 {
		t.Errorf("LeadScore = %d, want 12 for int progress past halfway", res.LeadScore)
	}
}
