// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

package events

import (
	"testing"
	"time"
)

func TestNew_AssignsUniqueIDs(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		e := New(TypePageView, PageViewProps{Page: "/"}, "sess-1", EventContext{}, ts)
		if seen[e.EventID] {
			t.Fatalf("duplicate event id %s", e.EventID)
		}
		seen[e.EventID] = true
	}
}

func TestNew_CopiesContextByValue(t *testing.T) {
	ctx := EventContext{Page: "/pricing", DeviceType: "desktop"}
	e := New(TypePageView, PageViewProps{Page: "/pricing"}, "sess-1", ctx, time.Now())

	ctx.Page = "/mutated"
	if e.Context.Page != "/pricing" {
		t.Errorf("event context mutated after creation: %q", e.Context.Page)
	}
}

func TestEventType_HighValue(t *testing.T) {
	tests := []struct {
		typ  EventType
		want bool
	}{
		{TypeConversion, true},
		{TypeQuizInteraction, true},
		{TypePageView, false},
		{TypeProductView, false},
		{TypeErrorEncounter, false},
	}
	for _, tt := range tests {
		if got := tt.typ.HighValue(); got != tt.want {
			t.Errorf("%s.HighValue() = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := New(TypePageView, nil, "sess-1", EventContext{}, time.Now())
	if err := valid.Validate(); err != nil {
		t.Errorf("valid event failed validation: %v", err)
	}

	missing := &AnalyticsEvent{Type: TypePageView, SessionID: "s", Timestamp: time.Now()}
	if err := missing.Validate(); err == nil {
		t.Error("event without id should fail validation")
	}

	noSession := New(TypePageView, nil, "", EventContext{}, time.Now())
	if err := noSession.Validate(); err == nil {
		t.Error("event without session should fail validation")
	}
}

func TestEffectiveUserID(t *testing.T) {
	e := New(TypePageView, nil, "sess-1", EventContext{}, time.Now())
	if got := e.EffectiveUserID(); got != "sess-1" {
		t.Errorf("anonymous effective id = %q, want session id", got)
	}

	e.UserID = "user-9"
	if got := e.EffectiveUserID(); got != "user-9" {
		t.Errorf("identified effective id = %q, want user-9", got)
	}
}

func TestProperties_MapIsFresh(t *testing.T) {
	p := ProductViewProps{ProductID: "p1", Price: 99, PriceTier: "premium"}
	m1 := p.Map()
	m1["product_id"] = "tampered"

	m2 := p.Map()
	if m2["product_id"] != "p1" {
		t.Errorf("Map() aliases internal state: %v", m2["product_id"])
	}
}

func TestProperties_ExtraDoesNotShadowFields(t *testing.T) {
	p := PageViewProps{
		Page:  "/home",
		Extra: map[string]any{"page": "/evil", "campaign": "spring"},
	}
	m := p.Map()
	if m["page"] != "/home" {
		t.Errorf("extra overrode dedicated field: %v", m["page"])
	}
	if m["campaign"] != "spring" {
		t.Errorf("extra passthrough missing: %v", m["campaign"])
	}
}

func TestTopic(t *testing.T) {
	e := New(TypeQuizInteraction, nil, "s", EventContext{}, time.Now())
	if got := e.Topic(); got != "telemetry.quiz_interaction" {
		t.Errorf("Topic() = %q", got)
	}
}
