// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

// Package session owns the visitor session lifecycle: creation, restore
// across process restarts, activity tracking, idle expiry into a bounded
// history, and the engagement score derived from a session's shape.
package session

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/waymark-analytics/waymark/internal/clock"
	"github.com/waymark-analytics/waymark/internal/logging"
	"github.com/waymark-analytics/waymark/internal/metrics"
	"github.com/waymark-analytics/waymark/internal/storage"
)

// PageVisit is one entry in a session's ordered page trail. TimeOnPage is
// backfilled when the next page view arrives.
type PageVisit struct {
	Page        string        `json:"page"`
	Timestamp   time.Time     `json:"timestamp"`
	ScrollDepth float64       `json:"scroll_depth"`
	TimeOnPage  time.Duration `json:"time_on_page"`
}

// DeviceInfo describes the client environment captured at session start.
type DeviceInfo struct {
	DeviceType string `json:"device_type,omitempty"`
	OS         string `json:"os,omitempty"`
	Browser    string `json:"browser,omitempty"`
	Language   string `json:"language,omitempty"`
}

// Session is the live per-process session record. It is persisted
// write-through after every mutation.
type Session struct {
	ID               string            `json:"id"`
	StartTime        time.Time         `json:"start_time"`
	LastActivity     time.Time         `json:"last_activity"`
	PageViews        int               `json:"page_views"`
	PagesVisited     []PageVisit       `json:"pages_visited"`
	Referrer         string            `json:"referrer,omitempty"`
	UTMParameters    map[string]string `json:"utm_parameters,omitempty"`
	DeviceInfo       DeviceInfo        `json:"device_info"`
	ConversionEvents []string          `json:"conversion_events,omitempty"`
	InteractionCount int               `json:"interaction_count"`
}

// Summary is the archived shape of an expired session.
type Summary struct {
	ID              string        `json:"id"`
	StartTime       time.Time     `json:"start_time"`
	Duration        time.Duration `json:"duration"`
	PageViews       int           `json:"page_views"`
	EngagementScore int           `json:"engagement_score"`
	ConversionCount int           `json:"conversion_count"`
}

// Metrics is a read-only snapshot of the current session for reporting.
type Metrics struct {
	SessionID        string        `json:"session_id"`
	Duration         time.Duration `json:"duration"`
	PageViews        int           `json:"page_views"`
	InteractionCount int           `json:"interaction_count"`
	EngagementScore  int           `json:"engagement_score"`
	BounceRate       float64       `json:"bounce_rate"`
	ReturningVisitor bool          `json:"returning_visitor"`
}

// Options seeds acquisition context for freshly created sessions.
type Options struct {
	Referrer      string
	UTMParameters map[string]string
	DeviceInfo    DeviceInfo
}

const engagementDurationCap = 5 * time.Minute

// Manager owns one active session at a time. All methods are safe for
// concurrent use. On idle expiry the active session is archived and a
// fresh one takes its place.
type Manager struct {
	store       storage.Store
	clk         clock.Clock
	idleTimeout time.Duration
	histLimit   int
	opts        Options

	mu        sync.Mutex
	current   *Session
	returning bool
}

// NewManager restores the persisted session if its start_time is still
// within the idle timeout of now, otherwise starts a new one.
func NewManager(store storage.Store, clk clock.Clock, idleTimeout time.Duration, historyLimit int, opts Options) *Manager {
	m := &Manager{
		store:       store,
		clk:         clk,
		idleTimeout: idleTimeout,
		histLimit:   historyLimit,
		opts:        opts,
	}

	if _, err := store.Get(storage.KeyVisitor); err == nil {
		m.returning = true
	}

	now := clk.Now()
	if restored := m.restore(now); restored != nil {
		m.current = restored
		logging.Debug().Str("session_id", restored.ID).Msg("session restored")
	} else {
		m.current = m.newSession(now)
	}
	m.persistLocked()
	if err := store.Set(storage.KeyVisitor, []byte("1")); err != nil {
		logging.Warn().Err(err).Msg("failed to persist visitor flag")
	}
	return m
}

// restore loads the persisted session and validates its age.
func (m *Manager) restore(now time.Time) *Session {
	raw, err := m.store.Get(storage.KeySession)
	if err != nil {
		return nil
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		logging.Warn().Err(err).Msg("discarding unreadable persisted session")
		return nil
	}
	if now.Sub(s.StartTime) >= m.idleTimeout {
		m.archive(&s, now)
		return nil
	}
	return &s
}

func (m *Manager) newSession(now time.Time) *Session {
	metrics.SessionsCreated.Inc()
	return &Session{
		ID:            uuid.NewString(),
		StartTime:     now,
		LastActivity:  now,
		Referrer:      m.opts.Referrer,
		UTMParameters: m.opts.UTMParameters,
		DeviceInfo:    m.opts.DeviceInfo,
	}
}

// ID returns the current session id.
func (m *Manager) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotateIfIdleLocked(m.clk.Now())
	return m.current.ID
}

// Touch records an activity signal: it resets the idle clock and persists
// the session write-through.
func (m *Manager) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clk.Now()
	m.rotateIfIdleLocked(now)
	m.touchLocked(now)
	m.persistLocked()
}

// RecordInteraction counts a depth-of-engagement signal (click, scroll,
// key press) against the current session.
func (m *Manager) RecordInteraction() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clk.Now()
	m.rotateIfIdleLocked(now)
	m.current.InteractionCount++
	m.touchLocked(now)
	m.persistLocked()
}

// RecordPageView appends a page visit, backfills the previous visit's
// time on page, and bumps the page-view counter.
func (m *Manager) RecordPageView(page string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clk.Now()
	m.rotateIfIdleLocked(now)

	if n := len(m.current.PagesVisited); n > 0 {
		prev := &m.current.PagesVisited[n-1]
		prev.TimeOnPage = now.Sub(prev.Timestamp)
	}
	m.current.PagesVisited = append(m.current.PagesVisited, PageVisit{
		Page:      page,
		Timestamp: now,
	})
	m.current.PageViews++
	m.touchLocked(now)
	m.persistLocked()
}

// RecordScrollDepth updates the current page visit's maximum scroll depth.
func (m *Manager) RecordScrollDepth(depth float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clk.Now()
	m.rotateIfIdleLocked(now)
	if n := len(m.current.PagesVisited); n > 0 {
		if v := &m.current.PagesVisited[n-1]; depth > v.ScrollDepth {
			v.ScrollDepth = depth
		}
	}
	m.current.InteractionCount++
	m.touchLocked(now)
	m.persistLocked()
}

// RecordConversion tags the session with a conversion event type.
func (m *Manager) RecordConversion(conversionType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clk.Now()
	m.rotateIfIdleLocked(now)
	m.current.ConversionEvents = append(m.current.ConversionEvents, conversionType)
	m.touchLocked(now)
	m.persistLocked()
}

// Snapshot returns a deep copy of the current session.
func (m *Manager) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rotateIfIdleLocked(m.clk.Now())
	s := *m.current
	s.PagesVisited = append([]PageVisit(nil), m.current.PagesVisited...)
	s.ConversionEvents = append([]string(nil), m.current.ConversionEvents...)
	return s
}

// Metrics computes the reporting snapshot for the current session.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clk.Now()
	m.rotateIfIdleLocked(now)
	s := m.current
	return Metrics{
		SessionID:        s.ID,
		Duration:         now.Sub(s.StartTime),
		PageViews:        s.PageViews,
		InteractionCount: s.InteractionCount,
		EngagementScore:  engagementScore(s.LastActivity.Sub(s.StartTime), s.PageViews, s.InteractionCount),
		BounceRate:       bounceRate(s.PageViews),
		ReturningVisitor: m.returning,
	}
}

// EngagementScore returns the current session's engagement score.
func (m *Manager) EngagementScore() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.current
	return engagementScore(s.LastActivity.Sub(s.StartTime), s.PageViews, s.InteractionCount)
}

// History returns the archived session summaries, newest last.
func (m *Manager) History() []Summary {
	raw, err := m.store.Get(storage.KeySessionHistory)
	if err != nil {
		return nil
	}
	var hist []Summary
	if err := json.Unmarshal(raw, &hist); err != nil {
		logging.Warn().Err(err).Msg("unreadable session history")
		return nil
	}
	return hist
}

// Run expires idle sessions proactively so archival does not wait for the
// next tracked interaction. It returns when ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.idleTimeout / 2
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clk.After(interval):
			m.mu.Lock()
			m.rotateIfIdleLocked(m.clk.Now())
			m.mu.Unlock()
		}
	}
}

// touchLocked keeps last_activity monotonically non-decreasing.
func (m *Manager) touchLocked(now time.Time) {
	if now.After(m.current.LastActivity) {
		m.current.LastActivity = now
	}
}

// rotateIfIdleLocked archives the current session and starts a fresh one
// when the idle timeout has elapsed.
func (m *Manager) rotateIfIdleLocked(now time.Time) {
	if now.Sub(m.current.LastActivity) < m.idleTimeout {
		return
	}
	m.archive(m.current, now)
	m.current = m.newSession(now)
	m.returning = true
	m.persistLocked()
}

// archive appends the summarized session to the bounded history list.
func (m *Manager) archive(s *Session, now time.Time) {
	metrics.SessionsExpired.Inc()
	sum := Summary{
		ID:              s.ID,
		StartTime:       s.StartTime,
		Duration:        s.LastActivity.Sub(s.StartTime),
		PageViews:       s.PageViews,
		EngagementScore: engagementScore(s.LastActivity.Sub(s.StartTime), s.PageViews, s.InteractionCount),
		ConversionCount: len(s.ConversionEvents),
	}

	hist := m.History()
	hist = append(hist, sum)
	if len(hist) > m.histLimit {
		hist = hist[len(hist)-m.histLimit:]
	}
	raw, err := json.Marshal(hist)
	if err != nil {
		logging.Error().Err(err).Msg("failed to encode session history")
		return
	}
	if err := m.store.Set(storage.KeySessionHistory, raw); err != nil {
		logging.Warn().Err(err).Msg("failed to persist session history")
	}
	logging.Info().
		Str("session_id", s.ID).
		Int("page_views", s.PageViews).
		Int("engagement_score", sum.EngagementScore).
		Msg("session expired")
}

func (m *Manager) persistLocked() {
	raw, err := json.Marshal(m.current)
	if err != nil {
		logging.Error().Err(err).Msg("failed to encode session")
		return
	}
	if err := m.store.Set(storage.KeySession, raw); err != nil {
		logging.Warn().Err(err).Msg("failed to persist session")
	}
}

// engagementScore blends recency (capped at 5 minutes, worth 30), breadth
// (page views, worth 30) and depth (interactions, worth 40) into [0,100].
func engagementScore(duration time.Duration, pageViews, interactions int) int {
	durPart := math.Min(float64(duration)/float64(engagementDurationCap), 1) * 30
	pagePart := math.Min(float64(pageViews)*10, 30)
	interPart := math.Min(float64(interactions)*2, 40)
	score := int(math.Round(durPart + pagePart + interPart))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// bounceRate is binary: a single-page session is a bounce.
func bounceRate(pageViews int) float64 {
	if pageViews == 1 {
		return 100
	}
	return 0
}
