// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

// Package journey maintains the per-user customer-journey state machine:
// six ordered stages, bounded touchpoint history, attribution, and the
// progression and conversion-probability scores recomputed on every event.
package journey

import (
	"time"

	"github.com/waymark-analytics/waymark/internal/events"
)

// Stage is one of the six ordered journey stages.
type Stage string

const (
	StageAwareness     Stage = "awareness"
	StageInterest      Stage = "interest"
	StageConsideration Stage = "consideration"
	StageDecision      Stage = "decision"
	StageCustomer      Stage = "customer"
	StageAdvocate      Stage = "advocate"
)

// stageOrder fixes the total order over stages. Transitions only ever move
// forward, one stage at a time.
var stageOrder = []Stage{
	StageAwareness,
	StageInterest,
	StageConsideration,
	StageDecision,
	StageCustomer,
	StageAdvocate,
}

// conversionBase is the stage-indexed base conversion probability.
var conversionBase = []float64{5, 15, 35, 70, 100, 100}

// StageIndex returns the position of s in the fixed order, or -1.
func StageIndex(s Stage) int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Stages returns the fixed stage order.
func Stages() []Stage {
	return append([]Stage(nil), stageOrder...)
}

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, bool) {
	st := Stage(s)
	return st, StageIndex(st) >= 0
}

// StageDefinition describes what keeps a journey in a stage and what moves
// it out. Triggers and MinEvents describe expected in-stage activity;
// MaxDwell bounds how long a journey can sit in the stage before it is
// reported as stalled; Advancement lists the event types that move the
// journey to the next stage.
type StageDefinition struct {
	Triggers    []events.EventType
	MinEvents   int
	MaxDwell    time.Duration
	Advancement map[events.EventType]bool
}

// stageDefinitions encodes the funnel: browsing advances awareness,
// evaluation signals advance interest, sales-contact signals advance
// consideration, a conversion closes decision, and a repeat conversion
// promotes a customer to advocate.
var stageDefinitions = map[Stage]StageDefinition{
	StageAwareness: {
		Triggers:  []events.EventType{events.TypePageView},
		MinEvents: 1,
		MaxDwell:  7 * 24 * time.Hour,
		Advancement: map[events.EventType]bool{
			events.TypeProductView:     true,
			events.TypeQuizInteraction: true,
		},
	},
	StageInterest: {
		Triggers:  []events.EventType{events.TypeProductView, events.TypeQuizInteraction},
		MinEvents: 2,
		MaxDwell:  14 * 24 * time.Hour,
		Advancement: map[events.EventType]bool{
			events.TypeFormSubmission: true,
			events.TypeDemoRequest:    true,
			events.TypeQuoteRequest:   true,
		},
	},
	StageConsideration: {
		Triggers:  []events.EventType{events.TypeFormSubmission, events.TypeProductView},
		MinEvents: 1,
		MaxDwell:  21 * 24 * time.Hour,
		Advancement: map[events.EventType]bool{
			events.TypeDemoRequest:  true,
			events.TypeQuoteRequest: true,
		},
	},
	StageDecision: {
		Triggers:  []events.EventType{events.TypeDemoRequest, events.TypeQuoteRequest},
		MinEvents: 1,
		MaxDwell:  30 * 24 * time.Hour,
		Advancement: map[events.EventType]bool{
			events.TypeConversion: true,
		},
	},
	StageCustomer: {
		Triggers:  []events.EventType{events.TypeConversion},
		MinEvents: 1,
		MaxDwell:  90 * 24 * time.Hour,
		Advancement: map[events.EventType]bool{
			events.TypeConversion: true,
		},
	},
	StageAdvocate: {
		Triggers: []events.EventType{events.TypeConversion},
	},
}

// Definition returns the definition for a stage.
func Definition(s Stage) (StageDefinition, bool) {
	def, ok := stageDefinitions[s]
	return def, ok
}

// Touchpoint is one acquisition or interaction channel contact.
type Touchpoint struct {
	Channel   string    `json:"channel"`
	Page      string    `json:"page,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Attribution holds first-, last-, and multi-touch channel credit.
type Attribution struct {
	FirstTouch string   `json:"first_touch,omitempty"`
	LastTouch  string   `json:"last_touch,omitempty"`
	MultiTouch []string `json:"multi_touch,omitempty"`
}

// JourneyEvent is the journey-local record of one enriched event.
type JourneyEvent struct {
	Type      events.EventType `json:"type"`
	Page      string           `json:"page,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Impact    int              `json:"impact"`
}

// recentEventCap bounds the stored per-journey event trail. Counters keep
// the full totals; the trail is for inspection and reporting only.
const recentEventCap = 50

// Journey is the persisted per-user journey record.
type Journey struct {
	UserID                string                   `json:"user_id"`
	StartDate             time.Time                `json:"start_date"`
	LastActivity          time.Time                `json:"last_activity"`
	CurrentStage          Stage                    `json:"current_stage"`
	StageEnteredAt        time.Time                `json:"stage_entered_at"`
	Events                []JourneyEvent           `json:"events"`
	TotalEvents           int                      `json:"total_events"`
	EventCounts           map[events.EventType]int `json:"event_counts"`
	HighIntentEvents      int                      `json:"high_intent_events"`
	Touchpoints           []Touchpoint             `json:"touchpoints"`
	Attribution           Attribution              `json:"attribution"`
	ConversionPath        []string                 `json:"conversion_path"`
	ActiveDays            map[string]bool          `json:"active_days"`
	LeadScore             int                      `json:"lead_score"`
	ProgressionScore      float64                  `json:"progression_score"`
	ConversionProbability float64                  `json:"conversion_probability"`
}

// Stalled reports whether the journey has sat in its current stage longer
// than the stage's dwell bound.
func (j *Journey) Stalled(now time.Time) bool {
	def, ok := stageDefinitions[j.CurrentStage]
	if !ok || def.MaxDwell == 0 {
		return false
	}
	return now.Sub(j.StageEnteredAt) > def.MaxDwell
}
