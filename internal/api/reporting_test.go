// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/waymark-analytics/waymark/internal/client"
	"github.com/waymark-analytics/waymark/internal/enrich"
	"github.com/waymark-analytics/waymark/internal/events"
)

func seedJourneys(t *testing.T, cl *client.Client) {
	t.Helper()
	record := func(userID, page string, typ events.EventType, score int) {
		e := &events.AnalyticsEvent{
			EventID:   "e-" + userID + "-" + page,
			Type:      typ,
			SessionID: "s-" + userID,
			UserID:    userID,
			Timestamp: time.Now(),
			Context:   events.EventContext{Page: page},
		}
		cl.Mapper().Record(e, enrich.Result{LeadScore: score})
	}
	record("u1", "/pricing", events.TypePageView, 1)
	record("u1", "/pricing", events.TypePageView, 1)
	record("u1", "/quiz", events.TypeQuizInteraction, 8)
	record("u2", "/pricing", events.TypePageView, 1)
}

func authedGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	creds, _ := json.Marshal(map[string]string{"username": "admin", "password": testPassword})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(creds)))
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d", rec.Code)
	}
	token := decodeResponse(t, rec).Data.(map[string]any)["token"].(string)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestFunnelCountsStages(t *testing.T) {
	s, cl, _ := newTestServer(t)
	seedJourneys(t, cl)

	rec := authedGet(t, s.Routes(), "/api/v1/reporting/funnel")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	data := decodeResponse(t, rec).Data.(map[string]any)
	if data["total"].(float64) != 2 {
		t.Errorf("total journeys = %v, want 2", data["total"])
	}
	stages := data["stages"].([]any)
	if len(stages) != 6 {
		t.Fatalf("funnel stages = %d, want 6", len(stages))
	}
	// u1's quiz interaction advanced it to interest; u2 stayed in awareness.
	first := stages[0].(map[string]any)
	if first["stage"] != "awareness" || first["count"].(float64) != 1 {
		t.Errorf("first stage = %v, want awareness count 1", first)
	}
	second := stages[1].(map[string]any)
	if second["stage"] != "interest" || second["count"].(float64) != 1 {
		t.Errorf("second stage = %v, want interest count 1", second)
	}
}

func TestTopPagesRanked(t *testing.T) {
	s, cl, _ := newTestServer(t)
	seedJourneys(t, cl)

	rec := authedGet(t, s.Routes(), "/api/v1/reporting/top-pages?limit=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	pages := decodeResponse(t, rec).Data.([]any)
	if len(pages) != 1 {
		t.Fatalf("pages = %d, want 1", len(pages))
	}
	top := pages[0].(map[string]any)
	if top["page"] != "/pricing" || top["count"].(float64) != 3 {
		t.Errorf("top page = %v, want /pricing count 3", top)
	}

	rec = authedGet(t, s.Routes(), "/api/v1/reporting/top-pages?limit=0")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", rec.Code)
	}
}

func TestLeadScoresHottestFirst(t *testing.T) {
	s, cl, _ := newTestServer(t)
	seedJourneys(t, cl)

	rec := authedGet(t, s.Routes(), "/api/v1/reporting/leads")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	leads := decodeResponse(t, rec).Data.([]any)
	if len(leads) != 2 {
		t.Fatalf("leads = %d, want 2", len(leads))
	}
	first := leads[0].(map[string]any)
	if first["user_id"] != "u1" {
		t.Errorf("hottest lead = %v, want u1", first["user_id"])
	}
}
