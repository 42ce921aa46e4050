// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/waymark-analytics/waymark/internal/enrich"
	"github.com/waymark-analytics/waymark/internal/events"
)

func startPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := NewPipeline(enrich.New())
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func runPipeline(t *testing.T, p *Pipeline) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = p.Run(ctx)
	}()
	select {
	case <-p.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
	return cancel
}

func makeEvent(id string, typ events.EventType, props map[string]any) *events.AnalyticsEvent {
	return &events.AnalyticsEvent{
		SchemaVersion: events.SchemaVersion,
		EventID:       id,
		Type:          typ,
		Timestamp:     time.Now().UTC(),
		SessionID:     "sess-1",
		Properties:    props,
	}
}

func TestEventFlowsThroughEnricher(t *testing.T) {
	p := startPipeline(t)

	got := make(chan *EnrichedEvent, 1)
	p.OnEnriched("capture", func(_ context.Context, ev *EnrichedEvent) error {
		select {
		case got <- ev:
		default:
		}
		return nil
	})

	cancel := runPipeline(t, p)
	defer cancel()
	defer p.Close() //nolint:errcheck

	e := makeEvent("ev-1", events.TypeQuoteRequest, map[string]any{})
	if err := p.PublishEvent(context.Background(), e); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	select {
	case ev := <-got:
		if ev.Event.EventID != "ev-1" {
			t.Errorf("event id = %q, want ev-1", ev.Event.EventID)
		}
		if ev.LeadScore != 60 {
			t.Errorf("lead score = %d, want 60", ev.LeadScore)
		}
		if !ev.SalesQualified {
			t.Error("quote request should be sales qualified")
		}
		if ev.Event.LeadScoreImpact != 60 {
			t.Errorf("event lead score impact = %d, want 60", ev.Event.LeadScoreImpact)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("enriched event never arrived")
	}
}

func TestMultipleConsumersEachReceive(t *testing.T) {
	p := startPipeline(t)

	var wg sync.WaitGroup
	wg.Add(2)
	seen := make([]bool, 2)
	var once1, once2 sync.Once
	p.OnEnriched("journey", func(_ context.Context, ev *EnrichedEvent) error {
		once1.Do(func() { seen[0] = true; wg.Done() })
		return nil
	})
	p.OnEnriched("collector", func(_ context.Context, ev *EnrichedEvent) error {
		once2.Do(func() { seen[1] = true; wg.Done() })
		return nil
	})

	cancel := runPipeline(t, p)
	defer cancel()
	defer p.Close() //nolint:errcheck

	if err := p.PublishEvent(context.Background(), makeEvent("ev-2", events.TypePageView, nil)); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("consumers did not all receive: %v", seen)
	}
}

func TestHandlerErrorRetried(t *testing.T) {
	p := startPipeline(t)

	attempts := make(chan int, 8)
	var count int
	var mu sync.Mutex
	p.OnEnriched("flaky", func(_ context.Context, ev *EnrichedEvent) error {
		mu.Lock()
		count++
		n := count
		mu.Unlock()
		attempts <- n
		if n == 1 {
			return errors.New("transient")
		}
		return nil
	})

	cancel := runPipeline(t, p)
	defer cancel()
	defer p.Close() //nolint:errcheck

	if err := p.PublishEvent(context.Background(), makeEvent("ev-3", events.TypePageView, nil)); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case n := <-attempts:
			if n >= 2 {
				return
			}
		case <-deadline:
			t.Fatal("handler was not retried")
		}
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	p := startPipeline(t)

	var mu sync.Mutex
	var attempts int
	got := make(chan struct{}, 1)
	p.OnEnriched("panicky", func(_ context.Context, ev *EnrichedEvent) error {
		mu.Lock()
		attempts++
		first := attempts == 1
		mu.Unlock()
		if first {
			panic("handler exploded")
		}
		select {
		case got <- struct{}{}:
		default:
		}
		return nil
	})

	cancel := runPipeline(t, p)
	defer cancel()
	defer p.Close() //nolint:errcheck

	if err := p.PublishEvent(context.Background(), makeEvent("boom", events.TypePageView, nil)); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not survive handler panic")
	}
}
