// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

// Package enrich provides stateless per-event-type enrichment: each event
// type maps to a function that derives insights from the event and assigns
// the lead-score weight consumed by the journey mapper and metrics
// collector downstream.
package enrich

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/waymark-analytics/waymark/internal/events"
	"github.com/waymark-analytics/waymark/internal/logging"
	"github.com/waymark-analytics/waymark/internal/metrics"
)

// Result is the output of one enrichment pass.
type Result struct {
	// Enriched holds derived properties merged over the event's own.
	Enriched map[string]any

	// LeadScore is the per-event lead-score contribution.
	LeadScore int

	// HighIntent marks events that signal near-term purchase intent.
	HighIntent bool

	// SalesQualified marks events that qualify the lead for sales outreach.
	SalesQualified bool
}

// Func enriches a single event. Funcs must be pure given the event.
// An error (or panic) never reaches the caller: the processor substitutes
// the default enrichment and records the event anyway.
type Func func(e *events.AnalyticsEvent) (Result, error)

// Processor is a registry mapping event type to enrichment function.
type Processor struct {
	mu       sync.RWMutex
	registry map[events.EventType]Func
	fallback Func
}

// New creates a Processor preloaded with the built-in enrichment functions.
func New() *Processor {
	p := &Processor{
		registry: make(map[events.EventType]Func),
		fallback: enrichDefault,
	}
	p.Register(events.TypePageView, enrichPageView)
	p.Register(events.TypeProductView, enrichProductView)
	p.Register(events.TypeQuizInteraction, enrichQuiz)
	p.Register(events.TypeFormSubmission, enrichForm)
	p.Register(events.TypeDemoRequest, enrichDemoRequest)
	p.Register(events.TypeQuoteRequest, enrichQuoteRequest)
	p.Register(events.TypeConversion, enrichConversion)
	p.Register(events.TypeErrorEncounter, enrichError)
	return p
}

// Register installs (or replaces) the enrichment function for an event type.
func (p *Processor) Register(t events.EventType, fn Func) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registry[t] = fn
}

// Process enriches the event. Enrichment failures fall back to the default
// function and are logged; Process never returns an error.
func (p *Processor) Process(e *events.AnalyticsEvent) Result {
	p.mu.RLock()
	fn, ok := p.registry[e.Type]
	p.mu.RUnlock()
	if !ok {
		fn = p.fallback
	}

	res, err := p.run(fn, e)
	if err != nil {
		metrics.EnrichmentFallbacks.WithLabelValues(string(e.Type)).Inc()
		logging.Warn().Err(err).Str("event_type", string(e.Type)).Msg("enrichment failed, using default")
		res, err = p.run(p.fallback, e)
		if err != nil {
			// The default never fails, but a registered replacement might.
			res = Result{Enriched: map[string]any{}, LeadScore: 1}
		}
	}
	return res
}

// run invokes fn with panic recovery.
func (p *Processor) run(fn Func, e *events.AnalyticsEvent) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("enrichment panic: %v", r)
		}
	}()
	return fn(e)
}

func prop[T any](e *events.AnalyticsEvent, key string) (T, bool) {
	var zero T
	raw, ok := e.Properties[key]
	if !ok {
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}

func propFloat(e *events.AnalyticsEvent, key string) float64 {
	switch v := e.Properties[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// enrichDefault handles unregistered event types: minimal weight, no
// derived insight beyond the raw interaction count.
func enrichDefault(e *events.AnalyticsEvent) (Result, error) {
	return Result{
		Enriched:  map[string]any{"enrichment": "default"},
		LeadScore: 1,
	}, nil
}

// enrichPageView tags the page category: home, product, quiz, or other.
func enrichPageView(e *events.AnalyticsEvent) (Result, error) {
	page, _ := prop[string](e, "page")
	if page == "" {
		page = e.Context.Page
	}

	category := "other"
	switch {
	case page == "/" || page == "":
		category = "home"
	case strings.HasPrefix(page, "/product"):
		category = "product"
	case strings.HasPrefix(page, "/quiz"):
		category = "quiz"
	}

	return Result{
		Enriched:  map[string]any{"page_category": category},
		LeadScore: 1,
	}, nil
}

// enrichProductView scores 3-10: base 5, doubled for premium-tier products,
// floored at 3 when no price information is present.
func enrichProductView(e *events.AnalyticsEvent) (Result, error) {
	score := 5
	tier, _ := prop[string](e, "price_tier")
	if tier == "premium" {
		score *= 2
	} else if propFloat(e, "price") == 0 {
		score = 3
	}

	return Result{
		Enriched: map[string]any{
			"price_tier": tier,
			"browsing":   true,
		},
		LeadScore: score,
	}, nil
}

// enrichQuiz scores 8-12: base 8, x1.5 past the halfway mark.
func enrichQuiz(e *events.AnalyticsEvent) (Result, error) {
	base := 8.0
	progress := propFloat(e, "progress")
	if progress > 50 {
		base *= 1.5
	}

	return Result{
		Enriched: map[string]any{
			"quiz_progress": progress,
			"engaged":       progress > 0,
		},
		LeadScore: int(math.Round(base)),
	}, nil
}

// enrichForm scores 15-30: base 15, doubled for quote forms.
func enrichForm(e *events.AnalyticsEvent) (Result, error) {
	score := 15
	formType, _ := prop[string](e, "form_type")
	if formType == "quote" {
		score *= 2
	}

	return Result{
		Enriched:   map[string]any{"form_type": formType},
		LeadScore:  score,
		HighIntent: formType == "quote",
	}, nil
}

// enrichDemoRequest applies the fixed 1.5x multiplier (25 -> 38) and marks
// the event high-intent.
func enrichDemoRequest(e *events.AnalyticsEvent) (Result, error) {
	return Result{
		Enriched:   map[string]any{"intent": "high"},
		LeadScore:  int(math.Round(25 * 1.5)),
		HighIntent: true,
	}, nil
}

// enrichQuoteRequest applies the fixed 2x multiplier (30 -> 60) and marks
// the lead sales-qualified.
func enrichQuoteRequest(e *events.AnalyticsEvent) (Result, error) {
	return Result{
		Enriched:       map[string]any{"intent": "sales_qualified"},
		LeadScore:      30 * 2,
		HighIntent:     true,
		SalesQualified: true,
	}, nil
}

// enrichConversion scores 50-100: base 50, doubled for values over 1000.
func enrichConversion(e *events.AnalyticsEvent) (Result, error) {
	score := 50
	value := propFloat(e, "value")
	if value == 0 {
		value = e.RevenueImpact
	}
	if value > 1000 {
		score *= 2
	}

	return Result{
		Enriched: map[string]any{
			"conversion_value": value,
			"major":            value > 1000,
		},
		LeadScore:      score,
		HighIntent:     true,
		SalesQualified: true,
	}, nil
}

// enrichError is the one negative signal in the table.
func enrichError(e *events.AnalyticsEvent) (Result, error) {
	code, _ := prop[string](e, "code")
	return Result{
		Enriched:  map[string]any{"error_code": code},
		LeadScore: -2,
	}, nil
}
