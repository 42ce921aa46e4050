// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

// Package events defines the canonical analytics event model shared by the
// tracker, enrichment, journey, and dashboard components.
package events

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the current event schema version.
// Increment this when making breaking changes to AnalyticsEvent.
const SchemaVersion = 1

// EventType identifies the kind of interaction an event records.
type EventType string

// Event type constants.
const (
	TypePageView        EventType = "page_view"
	TypeProductView     EventType = "product_view"
	TypeQuizInteraction EventType = "quiz_interaction"
	TypeFormSubmission  EventType = "form_submission"
	TypeDemoRequest     EventType = "demo_request"
	TypeQuoteRequest    EventType = "quote_request"
	TypeConversion      EventType = "conversion_event"
	TypeErrorEncounter  EventType = "error_encounter"
	TypeInteraction     EventType = "interaction"
	TypeScrollDepth     EventType = "scroll_depth"
	TypeSearch          EventType = "search"
)

// HighValue reports whether events of this type must always be captured,
// bypassing sampling. Conversions and quiz interactions are hard guarantees.
func (t EventType) HighValue() bool {
	return t == TypeConversion || t == TypeQuizInteraction
}

// EventContext is a device/page snapshot captured at event-creation time.
// It is copied per event, never shared by reference, so a later mutation of
// the live context can never alter an event already queued for delivery.
type EventContext struct {
	Page       string `json:"page,omitempty"`
	Referrer   string `json:"referrer,omitempty"`
	DeviceType string `json:"device_type,omitempty"` // desktop, mobile, tablet
	OS         string `json:"os,omitempty"`
	Browser    string `json:"browser,omitempty"`
	Language   string `json:"language,omitempty"`
	UserAgent  string `json:"user_agent,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`
}

// AnalyticsEvent is an immutable record of a single tracked interaction.
// Created once per Track call and never mutated afterwards; ownership passes
// to whichever component currently holds it in a queue.
type AnalyticsEvent struct {
	SchemaVersion int `json:"schema_version,omitempty"`

	EventID   string    `json:"event_id"`
	Type      EventType `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id,omitempty"`

	Properties map[string]any `json:"properties,omitempty"`
	Context    EventContext   `json:"context"`

	RevenueImpact         float64 `json:"revenue_impact,omitempty"`
	LeadScoreImpact       int     `json:"lead_score_impact,omitempty"`
	ConversionProbability float64 `json:"conversion_probability,omitempty"`
}

// New creates an event with a unique ID, the given timestamp, and a deep
// copy of the supplied properties and context.
func New(t EventType, props Properties, sessionID string, ctx EventContext, ts time.Time) *AnalyticsEvent {
	var flat map[string]any
	if props != nil {
		flat = props.Map()
	}
	return &AnalyticsEvent{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.New().String(),
		Type:          t,
		Timestamp:     ts.UTC(),
		SessionID:     sessionID,
		Properties:    flat,
		Context:       ctx, // value copy; callers never retain a pointer
	}
}

// Validate checks required fields.
func (e *AnalyticsEvent) Validate() error {
	if e.EventID == "" {
		return &ValidationError{Field: "event_id", Message: "required"}
	}
	if e.Type == "" {
		return &ValidationError{Field: "event_type", Message: "required"}
	}
	if e.SessionID == "" {
		return &ValidationError{Field: "session_id", Message: "required"}
	}
	if e.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "required"}
	}
	return nil
}

// EffectiveUserID returns the identity a journey is keyed on: the user ID
// when known, otherwise the session ID for anonymous visitors.
func (e *AnalyticsEvent) EffectiveUserID() string {
	if e.UserID != "" {
		return e.UserID
	}
	return e.SessionID
}

// Topic returns the pipeline subject for this event.
// Format: telemetry.<event_type>, e.g. telemetry.page_view.
func (e *AnalyticsEvent) Topic() string {
	return "telemetry." + string(e.Type)
}

// ValidationError represents a field validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// AggregateRecord is the flushed form of one aggregate bucket: many raw
// events of one type within one five-minute window collapsed into a single
// summarized record.
type AggregateRecord struct {
	Key        string         `json:"key"` // "<event_type>:<window_unix>"
	Count      int            `json:"count"`
	Data       map[string]any `json:"data,omitempty"`
	SampleRate float64        `json:"sample_rate"`
}

// Batch is the ingest envelope: everything one flush carries upstream.
type Batch struct {
	SessionID  string            `json:"session_id"`
	Timestamp  time.Time         `json:"timestamp"`
	RawEvents  []*AnalyticsEvent `json:"raw_events"`
	Aggregates []AggregateRecord `json:"aggregates"`
}
