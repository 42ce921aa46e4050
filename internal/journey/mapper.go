// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

package journey

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/waymark-analytics/waymark/internal/clock"
	"github.com/waymark-analytics/waymark/internal/enrich"
	"github.com/waymark-analytics/waymark/internal/events"
	"github.com/waymark-analytics/waymark/internal/logging"
	"github.com/waymark-analytics/waymark/internal/metrics"
	"github.com/waymark-analytics/waymark/internal/storage"
)

// highIntentBoostCap bounds the conversion-probability credit earned from
// high-intent events.
const highIntentBoostCap = 20

// Mapper owns all journeys in the process, keyed by effective user id.
// Journeys are persisted write-through as a single map.
type Mapper struct {
	store           storage.Store
	clk             clock.Clock
	touchpointLimit int

	mu       sync.Mutex
	journeys map[string]*Journey
}

// NewMapper restores the persisted journey map, discarding it if
// unreadable.
func NewMapper(store storage.Store, clk clock.Clock, touchpointLimit int) *Mapper {
	m := &Mapper{
		store:           store,
		clk:             clk,
		touchpointLimit: touchpointLimit,
		journeys:        make(map[string]*Journey),
	}
	raw, err := store.Get(storage.KeyJourneyMap)
	if err == nil {
		if err := json.Unmarshal(raw, &m.journeys); err != nil {
			logging.Warn().Err(err).Msg("discarding unreadable journey map")
			m.journeys = make(map[string]*Journey)
		}
	}
	return m
}

// Record folds an enriched event into the journey for the event's
// effective user id, advancing the stage when the event qualifies and
// recomputing both scores.
func (m *Mapper) Record(e *events.AnalyticsEvent, res enrich.Result) *Journey {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	j := m.journeyLocked(e.EffectiveUserID(), now)
	idle := now.Sub(j.LastActivity)

	j.Events = append(j.Events, JourneyEvent{
		Type:      e.Type,
		Page:      e.Context.Page,
		Timestamp: e.Timestamp,
		Impact:    res.LeadScore,
	})
	if len(j.Events) > recentEventCap {
		j.Events = j.Events[len(j.Events)-recentEventCap:]
	}
	j.TotalEvents++
	j.EventCounts[e.Type]++
	j.LeadScore += res.LeadScore
	if res.HighIntent {
		j.HighIntentEvents++
	}
	j.ActiveDays[now.UTC().Format("2006-01-02")] = true

	m.recordTouchpointLocked(j, e, now)
	m.recordPathLocked(j, e)
	m.advanceLocked(j, e.Type, now)

	j.ProgressionScore = progressionScore(j)
	j.ConversionProbability = conversionProbability(j, idle)
	if now.After(j.LastActivity) {
		j.LastActivity = now
	}

	m.persistLocked()
	cp := *j
	return &cp
}

// UpdateStage applies an externally requested stage change. The request is
// honored only when it names the immediate next stage; anything backward
// or skipping is ignored.
func (m *Mapper) UpdateStage(userID string, stage Stage) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	j := m.journeyLocked(userID, now)
	if StageIndex(stage) != StageIndex(j.CurrentStage)+1 {
		logging.Warn().
			Str("user_id", userID).
			Str("current", string(j.CurrentStage)).
			Str("requested", string(stage)).
			Msg("ignoring non-sequential stage update")
		return false
	}
	m.setStageLocked(j, stage, now)
	j.ProgressionScore = progressionScore(j)
	j.ConversionProbability = conversionProbability(j, 0)
	m.persistLocked()
	return true
}

// AddLeadScore folds externally awarded points into a journey's lead score
// and returns the new total.
func (m *Mapper) AddLeadScore(userID string, points int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.journeyLocked(userID, m.clk.Now())
	j.LeadScore += points
	m.persistLocked()
	return j.LeadScore
}

// Get returns a copy of the journey for userID, if one exists.
func (m *Mapper) Get(userID string) (Journey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.journeys[userID]
	if !ok {
		return Journey{}, false
	}
	return *j, true
}

// Merge reassigns the journey recorded under fromID (typically a session
// id) to toID (an identified user), keeping the richer of the two when
// both exist.
func (m *Mapper) Merge(fromID, toID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.journeys[fromID]
	if !ok {
		return
	}
	dst, exists := m.journeys[toID]
	if !exists || src.TotalEvents > dst.TotalEvents {
		src.UserID = toID
		m.journeys[toID] = src
	}
	delete(m.journeys, fromID)
	m.persistLocked()
}

// All returns copies of every journey, ordered by user id.
func (m *Mapper) All() []Journey {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Journey, 0, len(m.journeys))
	for _, j := range m.journeys {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UserID < out[k].UserID })
	return out
}

func (m *Mapper) journeyLocked(userID string, now time.Time) *Journey {
	if j, ok := m.journeys[userID]; ok {
		return j
	}
	j := &Journey{
		UserID:         userID,
		StartDate:      now,
		LastActivity:   now,
		CurrentStage:   StageAwareness,
		StageEnteredAt: now,
		EventCounts:    make(map[events.EventType]int),
		ActiveDays:     make(map[string]bool),
	}
	m.journeys[userID] = j
	logging.Debug().Str("user_id", userID).Msg("journey created")
	return j
}

// recordTouchpointLocked appends a touchpoint derived from the event's
// acquisition context and keeps the trail bounded.
func (m *Mapper) recordTouchpointLocked(j *Journey, e *events.AnalyticsEvent, now time.Time) {
	ch := channelFor(e)
	j.Touchpoints = append(j.Touchpoints, Touchpoint{
		Channel:   ch,
		Page:      e.Context.Page,
		Timestamp: now,
	})
	if len(j.Touchpoints) > m.touchpointLimit {
		j.Touchpoints = j.Touchpoints[len(j.Touchpoints)-m.touchpointLimit:]
	}

	if j.Attribution.FirstTouch == "" {
		j.Attribution.FirstTouch = ch
	}
	j.Attribution.LastTouch = ch
	if !containsString(j.Attribution.MultiTouch, ch) {
		j.Attribution.MultiTouch = append(j.Attribution.MultiTouch, ch)
	}
}

// recordPathLocked appends the event's page to the conversion path,
// deduping consecutive repeats only.
func (m *Mapper) recordPathLocked(j *Journey, e *events.AnalyticsEvent) {
	page := e.Context.Page
	if page == "" {
		return
	}
	if n := len(j.ConversionPath); n > 0 && j.ConversionPath[n-1] == page {
		return
	}
	j.ConversionPath = append(j.ConversionPath, page)
}

// advanceLocked moves the journey exactly one stage forward when the event
// type is in the current stage's advancement set.
func (m *Mapper) advanceLocked(j *Journey, t events.EventType, now time.Time) {
	def, ok := stageDefinitions[j.CurrentStage]
	if !ok || !def.Advancement[t] {
		return
	}
	idx := StageIndex(j.CurrentStage)
	if idx < 0 || idx >= len(stageOrder)-1 {
		return
	}
	m.setStageLocked(j, stageOrder[idx+1], now)
}

func (m *Mapper) setStageLocked(j *Journey, stage Stage, now time.Time) {
	from := j.CurrentStage
	j.CurrentStage = stage
	j.StageEnteredAt = now
	metrics.JourneyStageAdvances.WithLabelValues(string(stage)).Inc()
	logging.Info().
		Str("user_id", j.UserID).
		Str("from", string(from)).
		Str("to", string(stage)).
		Msg("journey stage advanced")

	raw, err := json.Marshal(j.CurrentStage)
	if err == nil {
		if err := m.store.Set(storage.KeyJourneyStage, raw); err != nil {
			logging.Warn().Err(err).Msg("failed to persist journey stage")
		}
	}
}

func (m *Mapper) persistLocked() {
	raw, err := json.Marshal(m.journeys)
	if err != nil {
		logging.Error().Err(err).Msg("failed to encode journey map")
		return
	}
	if err := m.store.Set(storage.KeyJourneyMap, raw); err != nil {
		logging.Warn().Err(err).Msg("failed to persist journey map")
	}
}

// channelFor derives the touchpoint channel: explicit UTM source first,
// then referrer class, then the event type itself.
func channelFor(e *events.AnalyticsEvent) string {
	if src, ok := e.Properties["utm_source"].(string); ok && src != "" {
		return "utm:" + src
	}
	if ref := e.Context.Referrer; ref != "" {
		return "referral"
	}
	return string(e.Type)
}

// engagementMultiplier scales scores by activity volume, touchpoint
// diversity, and multi-day presence. Range [1.0, 1.6].
func engagementMultiplier(j *Journey) float64 {
	mult := 1.0

	switch {
	case j.TotalEvents >= 50:
		mult += 0.3
	case j.TotalEvents >= 25:
		mult += 0.2
	case j.TotalEvents >= 10:
		mult += 0.1
	}

	channels := make(map[string]bool)
	for _, tp := range j.Touchpoints {
		channels[tp.Channel] = true
	}
	switch {
	case len(channels) >= 5:
		mult += 0.2
	case len(channels) >= 3:
		mult += 0.1
	}

	switch {
	case len(j.ActiveDays) >= 5:
		mult += 0.1
	case len(j.ActiveDays) >= 2:
		mult += 0.05
	}

	return mult
}

// progressionScore is stage depth scaled by engagement, capped at 100.
func progressionScore(j *Journey) float64 {
	idx := StageIndex(j.CurrentStage)
	if idx < 0 {
		idx = 0
	}
	base := float64(idx+1) / float64(len(stageOrder)) * 100
	return math.Min(base*engagementMultiplier(j), 100)
}

// conversionProbability starts from the stage-indexed base, adds the
// high-intent boost, scales by engagement, decays with idle time, and
// clamps to [0,100].
func conversionProbability(j *Journey, idle time.Duration) float64 {
	idx := StageIndex(j.CurrentStage)
	if idx < 0 {
		idx = 0
	}
	p := conversionBase[idx]
	p += math.Min(float64(j.HighIntentEvents)*5, highIntentBoostCap)
	p *= engagementMultiplier(j)

	switch {
	case idle > 7*24*time.Hour:
		p *= 0.7
	case idle > 3*24*time.Hour:
		p *= 0.9
	}

	return math.Max(0, math.Min(p, 100))
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
