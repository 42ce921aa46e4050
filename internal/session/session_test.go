// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

package session

import (
	"errors"
	"testing"
	"time"

	"github.com/waymark-analytics/waymark/internal/clock"
	"github.com/waymark-analytics/waymark/internal/storage"
)

const (
	testIdleTimeout  = 30 * time.Minute
	testHistoryLimit = 10
)

func newTestManager(store storage.Store, clk clock.Clock) *Manager {
	return NewManager(store, clk, testIdleTimeout, testHistoryLimit, Options{})
}

func TestNewSessionWhenNothingPersisted(t *testing.T) {
	m := newTestManager(storage.NewMemoryStore(), clock.NewFake())
	if m.ID() == "" {
		t.Fatal("expected non-empty session id")
	}
	if got := m.Metrics(); got.ReturningVisitor {
		t.Error("first session should not be marked returning")
	}
}

func TestRestoreWithinIdleTimeout(t *testing.T) {
	store := storage.NewMemoryStore()
	clk := clock.NewFake()

	first := newTestManager(store, clk)
	id := first.ID()

	clk.Advance(10 * time.Minute)
	second := newTestManager(store, clk)
	if second.ID() != id {
		t.Errorf("session id = %q, want restored %q", second.ID(), id)
	}
}

func TestRestoreAfterIdleTimeoutCreatesNewSession(t *testing.T) {
	store := storage.NewMemoryStore()
	clk := clock.NewFake()

	first := newTestManager(store, clk)
	first.RecordPageView("/")
	id := first.ID()

	clk.Advance(31 * time.Minute)
	second := newTestManager(store, clk)
	if second.ID() == id {
		t.Error("expected a new session id after 31 minutes idle")
	}

	hist := second.History()
	if len(hist) != 1 {
		t.Fatalf("history length = %d, want 1", len(hist))
	}
	if hist[0].ID != id {
		t.Errorf("archived session id = %q, want %q", hist[0].ID, id)
	}
	if hist[0].PageViews != 1 {
		t.Errorf("archived page views = %d, want 1", hist[0].PageViews)
	}
}

func TestIdleRotationMidSession(t *testing.T) {
	store := storage.NewMemoryStore()
	clk := clock.NewFake()

	m := newTestManager(store, clk)
	id := m.ID()
	m.RecordPageView("/")

	clk.Advance(31 * time.Minute)
	m.RecordPageView("/pricing")

	if m.ID() == id {
		t.Error("expected rotation to a new session after idle timeout")
	}
	if got := m.Metrics(); !got.ReturningVisitor {
		t.Error("rotated session should be marked returning")
	}
	if snap := m.Snapshot(); snap.PageViews != 1 {
		t.Errorf("new session page views = %d, want 1", snap.PageViews)
	}
}

func TestRecordPageViewBackfillsTimeOnPage(t *testing.T) {
	clk := clock.NewFake()
	m := newTestManager(storage.NewMemoryStore(), clk)

	m.RecordPageView("/")
	clk.Advance(45 * time.Second)
	m.RecordPageView("/products")

	snap := m.Snapshot()
	if len(snap.PagesVisited) != 2 {
		t.Fatalf("pages visited = %d, want 2", len(snap.PagesVisited))
	}
	if snap.PagesVisited[0].TimeOnPage != 45*time.Second {
		t.Errorf("first visit time on page = %v, want 45s", snap.PagesVisited[0].TimeOnPage)
	}
	if snap.PagesVisited[1].TimeOnPage != 0 {
		t.Errorf("current visit time on page = %v, want 0", snap.PagesVisited[1].TimeOnPage)
	}
}

func TestLastActivityMonotonic(t *testing.T) {
	clk := clock.NewFake()
	m := newTestManager(storage.NewMemoryStore(), clk)

	m.Touch()
	before := m.Snapshot().LastActivity
	clk.Advance(time.Minute)
	m.Touch()
	after := m.Snapshot().LastActivity

	if after.Before(before) {
		t.Errorf("last_activity went backwards: %v -> %v", before, after)
	}
	if after.Sub(before) != time.Minute {
		t.Errorf("last_activity delta = %v, want 1m", after.Sub(before))
	}
}

func TestEngagementScoreBounds(t *testing.T) {
	tests := []struct {
		name         string
		duration     time.Duration
		pageViews    int
		interactions int
		want         int
	}{
		{"empty session", 0, 0, 0, 0},
		{"max everything", time.Hour, 100, 100, 100},
		{"duration only", 5 * time.Minute, 0, 0, 30},
		{"half duration", 150 * time.Second, 0, 0, 15},
		{"page views capped", 0, 10, 0, 30},
		{"interactions capped", 0, 0, 50, 40},
		{"typical", 2 * time.Minute, 3, 5, 52},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engagementScore(tt.duration, tt.pageViews, tt.interactions)
			if got != tt.want {
				t.Errorf("engagementScore(%v, %d, %d) = %d, want %d",
					tt.duration, tt.pageViews, tt.interactions, got, tt.want)
			}
			if got < 0 || got > 100 {
				t.Errorf("score %d outside [0,100]", got)
			}
		})
	}
}

func TestBounceRate(t *testing.T) {
	clk := clock.NewFake()
	m := newTestManager(storage.NewMemoryStore(), clk)

	m.RecordPageView("/")
	if got := m.Metrics().BounceRate; got != 100 {
		t.Errorf("bounce rate with 1 page view = %v, want 100", got)
	}
	m.RecordPageView("/products")
	if got := m.Metrics().BounceRate; got != 0 {
		t.Errorf("bounce rate with 2 page views = %v, want 0", got)
	}
}

func TestHistoryBounded(t *testing.T) {
	store := storage.NewMemoryStore()
	clk := clock.NewFake()
	m := newTestManager(store, clk)

	for i := 0; i < 15; i++ {
		clk.Advance(31 * time.Minute)
		m.Touch()
	}

	hist := m.History()
	if len(hist) != testHistoryLimit {
		t.Errorf("history length = %d, want %d", len(hist), testHistoryLimit)
	}
}

func TestScrollDepthKeepsMaximum(t *testing.T) {
	clk := clock.NewFake()
	m := newTestManager(storage.NewMemoryStore(), clk)

	m.RecordPageView("/")
	m.RecordScrollDepth(60)
	m.RecordScrollDepth(30)

	snap := m.Snapshot()
	if got := snap.PagesVisited[0].ScrollDepth; got != 60 {
		t.Errorf("scroll depth = %v, want 60", got)
	}
	if snap.InteractionCount != 2 {
		t.Errorf("interaction count = %d, want 2", snap.InteractionCount)
	}
}

func TestPersistWriteThrough(t *testing.T) {
	store := storage.NewMemoryStore()
	clk := clock.NewFake()
	m := newTestManager(store, clk)

	m.RecordPageView("/")
	if _, err := store.Get(storage.KeySession); err != nil {
		t.Fatalf("session not persisted after page view: %v", err)
	}
}

func TestPersistErrorDoesNotPanic(t *testing.T) {
	store := storage.NewMemoryStore()
	clk := clock.NewFake()
	m := newTestManager(store, clk)

	store.SetWriteError(errors.New("store full"))
	m.RecordPageView("/")

	if m.Snapshot().PageViews != 1 {
		t.Error("in-memory state should advance despite persist failure")
	}
}
