// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

// Package collector aggregates raw metric observations into dashboard
// series: one bounded ring buffer per named metric, a fixed aggregation
// tick, and per-metric-type aggregation rules with change/trend tracking
// and a capped sparkline.
package collector

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/waymark-analytics/waymark/internal/clock"
	"github.com/waymark-analytics/waymark/internal/logging"
)

// MetricType selects the aggregation rule for a metric.
type MetricType string

const (
	// Counter metrics sum their window (page views, event counts).
	Counter MetricType = "counter"
	// Gauge metrics average their window (durations, scores, depths).
	Gauge MetricType = "gauge"
	// Rate metrics are 0/1 observations aggregated as percentage.
	Rate MetricType = "rate"
)

// Trend classifies the change since the previous aggregation.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// trendThreshold is the |change %| below which a metric reads as stable.
const trendThreshold = 5.0

// metricTypes assigns aggregation rules to the well-known metric names.
// Unknown metrics default to Counter.
var metricTypes = map[string]MetricType{
	"page_views":       Counter,
	"product_views":    Counter,
	"event_count":      Counter,
	"conversions":      Counter,
	"quiz_starts":      Counter,
	"form_submissions": Counter,
	"session_duration": Gauge,
	"engagement_score": Gauge,
	"scroll_depth":     Gauge,
	"lead_score":       Gauge,
	"time_on_page":     Gauge,
	"bounce_rate":      Rate,
	"error_rate":       Rate,
}

// TypeFor returns the aggregation rule for a metric name.
func TypeFor(name string) MetricType {
	if t, ok := metricTypes[name]; ok {
		return t
	}
	return Counter
}

// Snapshot is one aggregated metric as shown on a dashboard.
type Snapshot struct {
	Name      string     `json:"name"`
	Type      MetricType `json:"type"`
	Value     float64    `json:"value"`
	Change    float64    `json:"change"`
	Trend     Trend      `json:"trend"`
	Sparkline []float64  `json:"sparkline"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type metricState struct {
	typ       MetricType
	buf       *ring
	value     float64
	change    float64
	trend     Trend
	sparkline []float64
	updatedAt time.Time
	ticked    bool
}

// UpdateFunc receives the full snapshot set after each aggregation tick.
type UpdateFunc func([]Snapshot)

// Collector owns the per-metric ring buffers and the aggregation loop.
// All methods are safe for concurrent use.
type Collector struct {
	clk           clock.Clock
	interval      time.Duration
	bufferSize    int
	sparklineSize int

	mu      sync.Mutex
	metrics map[string]*metricState
	onTick  []UpdateFunc
}

// New creates a Collector. interval is the aggregation tick period,
// bufferSize the per-metric ring capacity, sparklineSize the history cap.
func New(clk clock.Clock, interval time.Duration, bufferSize, sparklineSize int) *Collector {
	return &Collector{
		clk:           clk,
		interval:      interval,
		bufferSize:    bufferSize,
		sparklineSize: sparklineSize,
		metrics:       make(map[string]*metricState),
	}
}

// OnUpdate registers a callback invoked with all snapshots after each
// aggregation tick.
func (c *Collector) OnUpdate(fn UpdateFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTick = append(c.onTick, fn)
}

// Observe records one raw observation for the named metric.
func (c *Collector) Observe(name string, value float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateLocked(name).buf.push(value, c.clk.Now())
}

// ObserveBool records a 0/1 observation, for rate metrics.
func (c *Collector) ObserveBool(name string, hit bool) {
	v := 0.0
	if hit {
		v = 1.0
	}
	c.Observe(name, v)
}

// Run drives the aggregation loop until ctx is done.
func (c *Collector) Run(ctx context.Context) error {
	logging.Debug().Dur("interval", c.interval).Msg("metrics collector started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clk.After(c.interval):
			c.Tick()
		}
	}
}

// Tick runs one aggregation pass and notifies subscribers. Exposed so the
// owner can force a pass outside the timer.
func (c *Collector) Tick() {
	c.mu.Lock()
	now := c.clk.Now()
	cutoff := now.Add(-c.interval)
	for _, st := range c.metrics {
		c.aggregateLocked(st, cutoff, now)
	}
	snaps := c.snapshotsLocked()
	callbacks := append([]UpdateFunc(nil), c.onTick...)
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn(snaps)
	}
}

// Snapshots returns the current aggregated state of every metric.
func (c *Collector) Snapshots() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotsLocked()
}

// Snapshot returns one metric's aggregated state.
func (c *Collector) Snapshot(name string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.metrics[name]
	if !ok || !st.ticked {
		return Snapshot{}, false
	}
	return snapshotOf(name, st), true
}

func (c *Collector) stateLocked(name string) *metricState {
	st, ok := c.metrics[name]
	if !ok {
		st = &metricState{
			typ:   TypeFor(name),
			buf:   newRing(c.bufferSize),
			trend: TrendStable,
		}
		c.metrics[name] = st
	}
	return st
}

// aggregateLocked applies the metric's rule over the current window and
// updates change, trend, and sparkline.
func (c *Collector) aggregateLocked(st *metricState, cutoff, now time.Time) {
	window := st.buf.window(cutoff)
	value := aggregate(st.typ, window)

	prev := st.value
	st.change = changePercent(prev, value, st.ticked)
	st.trend = trendOf(st.change)
	st.value = value
	st.updatedAt = now
	st.ticked = true

	st.sparkline = append(st.sparkline, value)
	if len(st.sparkline) > c.sparklineSize {
		st.sparkline = st.sparkline[len(st.sparkline)-c.sparklineSize:]
	}
}

func (c *Collector) snapshotsLocked() []Snapshot {
	out := make([]Snapshot, 0, len(c.metrics))
	for name, st := range c.metrics {
		if !st.ticked {
			continue
		}
		out = append(out, snapshotOf(name, st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func snapshotOf(name string, st *metricState) Snapshot {
	return Snapshot{
		Name:      name,
		Type:      st.typ,
		Value:     st.value,
		Change:    st.change,
		Trend:     st.trend,
		Sparkline: append([]float64(nil), st.sparkline...),
		UpdatedAt: st.updatedAt,
	}
}

func aggregate(t MetricType, window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	switch t {
	case Gauge:
		return sum / float64(len(window))
	case Rate:
		return sum / float64(len(window)) * 100
	default:
		return sum
	}
}

// changePercent computes the percentage delta from previous. A zero (or
// never-aggregated) baseline reads as 100% when the current value is
// positive, 0% otherwise.
func changePercent(prev, current float64, hadPrev bool) float64 {
	if !hadPrev || prev == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return (current - prev) / prev * 100
}

func trendOf(change float64) Trend {
	if math.Abs(change) < trendThreshold {
		return TrendStable
	}
	if change > 0 {
		return TrendUp
	}
	return TrendDown
}
