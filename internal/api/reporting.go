// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/waymark-analytics/waymark/internal/journey"
)

// FunnelStage is one row of the conversion funnel report.
type FunnelStage struct {
	Stage string `json:"stage"`
	Count int    `json:"count"`
}

// handleFunnel reports how many journeys currently sit in each stage, in
// stage order, so a dashboard can render the drop-off between stages.
func (s *Server) handleFunnel(w http.ResponseWriter, _ *http.Request) {
	counts := make(map[journey.Stage]int)
	journeys := s.client.Mapper().All()
	for _, j := range journeys {
		counts[j.CurrentStage]++
	}

	funnel := make([]FunnelStage, 0, len(journey.Stages()))
	for _, stage := range journey.Stages() {
		funnel = append(funnel, FunnelStage{Stage: string(stage), Count: counts[stage]})
	}
	writeData(w, map[string]any{
		"total":  len(journeys),
		"stages": funnel,
	})
}

// PageCount is one row of the top-pages report.
type PageCount struct {
	Page  string `json:"page"`
	Count int    `json:"count"`
}

// handleTopPages ranks pages by how often they appear in journey event
// trails. ?limit= caps the result, default 10.
func (s *Server) handleTopPages(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, codeBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	counts := make(map[string]int)
	for _, j := range s.client.Mapper().All() {
		for _, e := range j.Events {
			if e.Page != "" {
				counts[e.Page]++
			}
		}
	}

	pages := make([]PageCount, 0, len(counts))
	for page, count := range counts {
		pages = append(pages, PageCount{Page: page, Count: count})
	}
	sort.Slice(pages, func(i, k int) bool {
		if pages[i].Count != pages[k].Count {
			return pages[i].Count > pages[k].Count
		}
		return pages[i].Page < pages[k].Page
	})
	if len(pages) > limit {
		pages = pages[:limit]
	}
	writeList(w, pages, len(pages))
}

// LeadScore is one row of the lead-score report.
type LeadScore struct {
	UserID     string  `json:"user_id"`
	Score      int     `json:"score"`
	Stage      string  `json:"stage"`
	HighIntent int     `json:"high_intent_events"`
	Conversion float64 `json:"conversion_probability"`
}

// handleLeadScores ranks identities by lead score, hottest first.
func (s *Server) handleLeadScores(w http.ResponseWriter, _ *http.Request) {
	journeys := s.client.Mapper().All()
	leads := make([]LeadScore, 0, len(journeys))
	for _, j := range journeys {
		leads = append(leads, LeadScore{
			UserID:     j.UserID,
			Score:      j.LeadScore,
			Stage:      string(j.CurrentStage),
			HighIntent: j.HighIntentEvents,
			Conversion: j.ConversionProbability,
		})
	}
	sort.Slice(leads, func(i, k int) bool {
		if leads[i].Score != leads[k].Score {
			return leads[i].Score > leads[k].Score
		}
		return leads[i].UserID < leads[k].UserID
	})
	writeList(w, leads, len(leads))
}
