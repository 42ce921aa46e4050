// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

// Package tracker owns event capture: sampling with an always-capture
// guarantee for high-value types, a short dedup window against UI event
// storms, per-window aggregate buckets, and batched best-effort delivery.
package tracker

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/waymark-analytics/waymark/internal/clock"
	"github.com/waymark-analytics/waymark/internal/events"
	"github.com/waymark-analytics/waymark/internal/ingest"
	"github.com/waymark-analytics/waymark/internal/logging"
	"github.com/waymark-analytics/waymark/internal/metrics"
)

// Config carries the capture and flush tuning knobs.
type Config struct {
	MaxBatchSize      int
	FlushInterval     time.Duration
	DedupWindow       time.Duration
	DedupRetention    time.Duration
	AggregateWindow   time.Duration
	DefaultSampleRate float64
	SampleRates       map[events.EventType]float64
}

// Tracker buffers accepted events and aggregates, flushing them as one
// compressed batch. All methods are safe for concurrent use. Flush
// atomically captures and clears state before any I/O, so an event is
// never included in two batches.
type Tracker struct {
	cfg       Config
	clk       clock.Clock
	transport ingest.Transport
	sessionID func() string
	rng       func() float64

	mu         sync.Mutex
	queue      []*events.AnalyticsEvent
	aggregates map[string]*events.AggregateRecord
	dedup      map[uint64]time.Time
	flushDue   chan struct{}
	closed     bool
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithRandom overrides the sampling random source, for tests.
func WithRandom(fn func() float64) Option {
	return func(t *Tracker) { t.rng = fn }
}

// New creates a Tracker. sessionID is consulted at flush time so batches
// always carry the current session.
func New(cfg Config, clk clock.Clock, transport ingest.Transport, sessionID func() string, opts ...Option) *Tracker {
	t := &Tracker{
		cfg:        cfg,
		clk:        clk,
		transport:  transport,
		sessionID:  sessionID,
		rng:        rand.Float64,
		aggregates: make(map[string]*events.AggregateRecord),
		dedup:      make(map[uint64]time.Time),
		flushDue:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track applies dedup, aggregation, and sampling to one event. It returns
// true when the event was enqueued as a raw event.
func (t *Tracker) Track(e *events.AnalyticsEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}

	now := t.clk.Now()
	h := eventHash(e)
	if seen, ok := t.dedup[h]; ok && now.Sub(seen) < t.cfg.DedupWindow {
		metrics.EventsDeduplicated.WithLabelValues(string(e.Type)).Inc()
		return false
	}
	t.dedup[h] = now

	t.aggregateLocked(e, now)

	if !e.Type.HighValue() && t.rng() >= t.sampleRate(e.Type) {
		metrics.EventsSampledOut.WithLabelValues(string(e.Type)).Inc()
		return false
	}

	t.queue = append(t.queue, e)
	metrics.EventsTracked.WithLabelValues(string(e.Type)).Inc()
	if len(t.queue) >= t.cfg.MaxBatchSize {
		t.signalFlushLocked()
	}
	return true
}

// Flush captures and clears the current queue and aggregates, then
// attempts delivery. Delivery failure is logged, never retried.
func (t *Tracker) Flush(ctx context.Context) {
	batch := t.capture()
	if batch == nil {
		return
	}

	start := time.Now()
	err := t.transport.Send(ctx, batch)
	metrics.FlushDuration.Observe(time.Since(start).Seconds())
	metrics.FlushBatchSize.Observe(float64(len(batch.RawEvents)))
	if err != nil {
		logging.Debug().Err(err).
			Int("events", len(batch.RawEvents)).
			Int("aggregates", len(batch.Aggregates)).
			Msg("batch delivery failed, dropping")
		return
	}
	logging.Debug().
		Int("events", len(batch.RawEvents)).
		Int("aggregates", len(batch.Aggregates)).
		Msg("batch flushed")
}

// capture atomically snapshots and clears the tracker state. It also
// prunes expired dedup hashes, bounding the hash set between flushes.
func (t *Tracker) capture() *events.Batch {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clk.Now()
	for h, seen := range t.dedup {
		if now.Sub(seen) > t.cfg.DedupRetention {
			delete(t.dedup, h)
		}
	}

	if len(t.queue) == 0 && len(t.aggregates) == 0 {
		return nil
	}

	batch := &events.Batch{
		SessionID: t.sessionID(),
		Timestamp: now,
		RawEvents: t.queue,
	}
	for _, agg := range t.aggregates {
		batch.Aggregates = append(batch.Aggregates, *agg)
	}

	t.queue = nil
	t.aggregates = make(map[string]*events.AggregateRecord)
	return batch
}

// Pending returns the current raw-queue length.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Run drives the flush loop: a single-shot interval timer, rearmed only
// after each flush completes, plus immediate flushes when the queue hits
// the batch cap. Returns after a final synchronous flush when ctx ends.
func (t *Tracker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			t.Close()
			return ctx.Err()
		case <-t.flushDue:
			t.Flush(ctx)
		case <-t.clk.After(t.cfg.FlushInterval):
			t.Flush(ctx)
		}
	}
}

// Close performs the final synchronous flush and stops accepting events.
// Mirrors the page-hide/unload path: best effort, no retry.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.Flush(ctx)
}

// Drop discards all buffered events and aggregates without sending them.
// Used on consent revocation, where delivering the backlog would leak data
// the visitor just asked us to stop collecting. Returns the number of raw
// events discarded.
func (t *Tracker) Drop() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.queue)
	t.queue = nil
	t.aggregates = make(map[string]*events.AggregateRecord)
	t.dedup = make(map[uint64]time.Time)
	return n
}

func (t *Tracker) signalFlushLocked() {
	select {
	case t.flushDue <- struct{}{}:
	default:
	}
}

// FlushSignal exposes the batch-cap flush trigger for owners that drive
// flushing themselves instead of calling Run.
func (t *Tracker) FlushSignal() <-chan struct{} {
	return t.flushDue
}

func (t *Tracker) sampleRate(typ events.EventType) float64 {
	if r, ok := t.cfg.SampleRates[typ]; ok {
		return r
	}
	return t.cfg.DefaultSampleRate
}

// aggregateLocked folds the event into its (type, window) bucket:
// last-write-wins property merge plus a _count of merges.
func (t *Tracker) aggregateLocked(e *events.AnalyticsEvent, now time.Time) {
	window := now.Truncate(t.cfg.AggregateWindow)
	key := fmt.Sprintf("%s:%d", e.Type, window.Unix())

	agg, ok := t.aggregates[key]
	if !ok {
		agg = &events.AggregateRecord{
			Key:        key,
			Data:       make(map[string]any),
			SampleRate: t.sampleRate(e.Type),
		}
		t.aggregates[key] = agg
	}
	agg.Count++
	for k, v := range e.Properties {
		agg.Data[k] = v
	}
	if n, ok := agg.Data["_count"].(int); ok {
		agg.Data["_count"] = n + 1
	} else {
		agg.Data["_count"] = 1
	}
}

// eventHash is an FNV-1a hash of the event type and its canonical
// property encoding. Property maps encode with sorted keys, so equal
// payloads hash equally.
func eventHash(e *events.AnalyticsEvent) uint64 {
	h := fnv.New64a()
	h.Write([]byte(e.Type))          //nolint:errcheck
	h.Write([]byte{0})               //nolint:errcheck
	if raw, err := json.Marshal(e.Properties); err == nil {
		h.Write(raw) //nolint:errcheck
	}
	return h.Sum64()
}
