// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/waymark-analytics/waymark/internal/clock"
	"github.com/waymark-analytics/waymark/internal/events"
)

type captureTransport struct {
	mu      sync.Mutex
	batches []*events.Batch
	err     error
}

func (c *captureTransport) Send(_ context.Context, b *events.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
	return c.err
}

func (c *captureTransport) Close() error { return nil }

func (c *captureTransport) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func (c *captureTransport) last() *events.Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.batches) == 0 {
		return nil
	}
	return c.batches[len(c.batches)-1]
}

func testConfig() Config {
	return Config{
		MaxBatchSize:      50,
		FlushInterval:     10 * time.Second,
		DedupWindow:       5 * time.Second,
		DedupRetention:    60 * time.Second,
		AggregateWindow:   5 * time.Minute,
		DefaultSampleRate: 0.1,
		SampleRates:       map[events.EventType]float64{},
	}
}

func newTestTracker(cfg Config, clk clock.Clock, tp *captureTransport, draw float64) *Tracker {
	return New(cfg, clk, tp, func() string { return "sess-1" },
		WithRandom(func() float64 { return draw }))
}

func makeEvent(t events.EventType, props map[string]any) *events.AnalyticsEvent {
	return &events.AnalyticsEvent{
		SchemaVersion: events.SchemaVersion,
		EventID:       "ev",
		Type:          t,
		SessionID:     "sess-1",
		Properties:    props,
	}
}

func TestHighValueAlwaysCaptured(t *testing.T) {
	// A draw of 0.99 samples out every non-high-value type at any
	// configured rate below 0.99.
	tr := newTestTracker(testConfig(), clock.NewFake(), &captureTransport{}, 0.99)

	if !tr.Track(makeEvent(events.TypeConversion, map[string]any{"value": 10.0})) {
		t.Error("conversion must always be captured")
	}
	if !tr.Track(makeEvent(events.TypeQuizInteraction, map[string]any{"progress": 10.0})) {
		t.Error("quiz interaction must always be captured")
	}
	if tr.Track(makeEvent(events.TypePageView, map[string]any{"page": "/"})) {
		t.Error("page view should be sampled out at draw 0.99")
	}
	if tr.Pending() != 2 {
		t.Errorf("pending = %d, want 2", tr.Pending())
	}
}

func TestSamplingIncludesWhenDrawBelowRate(t *testing.T) {
	cfg := testConfig()
	cfg.SampleRates[events.TypePageView] = 0.5
	tr := newTestTracker(cfg, clock.NewFake(), &captureTransport{}, 0.4)

	if !tr.Track(makeEvent(events.TypePageView, map[string]any{"page": "/"})) {
		t.Error("draw 0.4 below rate 0.5 should be captured")
	}
}

func TestDedupWindow(t *testing.T) {
	clk := clock.NewFake()
	tr := newTestTracker(testConfig(), clk, &captureTransport{}, 0.0)

	props := map[string]any{"page": "/pricing"}
	if !tr.Track(makeEvent(events.TypePageView, props)) {
		t.Fatal("first event should be captured")
	}
	if tr.Track(makeEvent(events.TypePageView, props)) {
		t.Error("identical event within dedup window should be dropped")
	}
	if tr.Pending() != 1 {
		t.Errorf("pending = %d, want 1", tr.Pending())
	}

	clk.Advance(6 * time.Second)
	if !tr.Track(makeEvent(events.TypePageView, props)) {
		t.Error("identical event after dedup window should be captured")
	}
}

func TestDedupDistinguishesPayload(t *testing.T) {
	tr := newTestTracker(testConfig(), clock.NewFake(), &captureTransport{}, 0.0)

	tr.Track(makeEvent(events.TypePageView, map[string]any{"page": "/a"}))
	if !tr.Track(makeEvent(events.TypePageView, map[string]any{"page": "/b"})) {
		t.Error("different payload should not be deduplicated")
	}
}

func TestBatchCapSignalsFlush(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchSize = 3
	tr := newTestTracker(cfg, clock.NewFake(), &captureTransport{}, 0.0)

	for i := 0; i < 3; i++ {
		tr.Track(makeEvent(events.TypePageView, map[string]any{"i": i}))
	}
	select {
	case <-tr.FlushSignal():
	default:
		t.Fatal("expected flush signal at batch cap")
	}
}

func TestFlushCapturesAndClearsAtomically(t *testing.T) {
	tp := &captureTransport{}
	tr := newTestTracker(testConfig(), clock.NewFake(), tp, 0.0)

	tr.Track(makeEvent(events.TypePageView, map[string]any{"page": "/"}))
	tr.Track(makeEvent(events.TypeConversion, map[string]any{"value": 1.0}))

	tr.Flush(context.Background())
	if tp.count() != 1 {
		t.Fatalf("batches sent = %d, want 1", tp.count())
	}
	batch := tp.last()
	if len(batch.RawEvents) != 2 {
		t.Errorf("raw events = %d, want 2", len(batch.RawEvents))
	}
	if len(batch.Aggregates) != 2 {
		t.Errorf("aggregates = %d, want 2", len(batch.Aggregates))
	}
	if batch.SessionID != "sess-1" {
		t.Errorf("session id = %q", batch.SessionID)
	}

	// Nothing left behind: a second flush sends nothing.
	tr.Flush(context.Background())
	if tp.count() != 1 {
		t.Errorf("empty flush should not send, got %d batches", tp.count())
	}
}

func TestFlushNotRetriedOnFailure(t *testing.T) {
	tp := &captureTransport{err: errors.New("endpoint down")}
	tr := newTestTracker(testConfig(), clock.NewFake(), tp, 0.0)

	tr.Track(makeEvent(events.TypePageView, map[string]any{"page": "/"}))
	tr.Flush(context.Background())
	if tp.count() != 1 {
		t.Fatalf("attempts = %d, want 1", tp.count())
	}
	// State was cleared despite the failure.
	tr.Flush(context.Background())
	if tp.count() != 1 {
		t.Errorf("failed batch must not be resent, got %d attempts", tp.count())
	}
}

func TestSampledOutEventsStillAggregate(t *testing.T) {
	clk := clock.NewFake()
	tp := &captureTransport{}
	tr := newTestTracker(testConfig(), clk, tp, 0.99)

	tr.Track(makeEvent(events.TypePageView, map[string]any{"page": "/"}))
	tr.Flush(context.Background())

	batch := tp.last()
	if batch == nil {
		t.Fatal("expected a batch carrying aggregates only")
	}
	if len(batch.RawEvents) != 0 {
		t.Errorf("raw events = %d, want 0", len(batch.RawEvents))
	}
	if len(batch.Aggregates) != 1 {
		t.Fatalf("aggregates = %d, want 1", len(batch.Aggregates))
	}
	if batch.Aggregates[0].Count != 1 {
		t.Errorf("aggregate count = %d, want 1", batch.Aggregates[0].Count)
	}
}

func TestAggregateMergeLastWriteWins(t *testing.T) {
	clk := clock.NewFake()
	tp := &captureTransport{}
	tr := newTestTracker(testConfig(), clk, tp, 0.0)

	tr.Track(makeEvent(events.TypePageView, map[string]any{"page": "/a", "x": 1}))
	tr.Track(makeEvent(events.TypePageView, map[string]any{"page": "/b"}))
	tr.Flush(context.Background())

	batch := tp.last()
	if len(batch.Aggregates) != 1 {
		t.Fatalf("aggregates = %d, want 1 bucket", len(batch.Aggregates))
	}
	agg := batch.Aggregates[0]
	if agg.Count != 2 {
		t.Errorf("count = %d, want 2", agg.Count)
	}
	if agg.Data["page"] != "/b" {
		t.Errorf("page = %v, want last-write /b", agg.Data["page"])
	}
	if agg.Data["x"] != 1 {
		t.Errorf("x = %v, want retained 1", agg.Data["x"])
	}
	if agg.Data["_count"] != 2 {
		t.Errorf("_count = %v, want 2", agg.Data["_count"])
	}
}

func TestAggregateWindowKeys(t *testing.T) {
	clk := clock.NewFake()
	tp := &captureTransport{}
	tr := newTestTracker(testConfig(), clk, tp, 0.0)

	tr.Track(makeEvent(events.TypePageView, map[string]any{"page": "/a"}))
	clk.Advance(6 * time.Minute)
	tr.Track(makeEvent(events.TypePageView, map[string]any{"page": "/a"}))
	tr.Flush(context.Background())

	if got := len(tp.last().Aggregates); got != 2 {
		t.Errorf("aggregates = %d, want 2 windows", got)
	}
}

func TestCloseFlushesAndStopsAccepting(t *testing.T) {
	tp := &captureTransport{}
	tr := newTestTracker(testConfig(), clock.NewFake(), tp, 0.0)

	tr.Track(makeEvent(events.TypeConversion, map[string]any{"value": 5.0}))
	tr.Close()

	if tp.count() != 1 {
		t.Fatalf("close should flush pending events, got %d batches", tp.count())
	}
	if tr.Track(makeEvent(events.TypePageView, map[string]any{"page": "/"})) {
		t.Error("closed tracker must not accept events")
	}
}

func TestDropDiscardsBacklog(t *testing.T) {
	tp := &captureTransport{}
	cfg := testConfig()
	cfg.DefaultSampleRate = 1.0
	tr := newTestTracker(cfg, clock.NewFake(), tp, 0.0)

	e := makeEvent(events.TypePageView, map[string]any{"page": "/"})
	if !tr.Track(e) {
		t.Fatal("event not enqueued")
	}
	if n := tr.Drop(); n != 1 {
		t.Fatalf("Drop = %d, want 1", n)
	}
	if tr.Pending() != 0 {
		t.Errorf("Pending = %d after Drop, want 0", tr.Pending())
	}

	// Nothing survives: a flush after Drop must not call the transport.
	tr.Flush(context.Background())
	if tp.count() != 0 {
		t.Errorf("batches after Drop+Flush = %d, want 0", tp.count())
	}

	// The dedup window was cleared, so the same event is accepted again.
	if !tr.Track(e) {
		t.Error("event rejected after Drop cleared dedup state")
	}
}
