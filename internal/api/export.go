// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

package api

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/waymark-analytics/waymark/internal/journey"
	"github.com/waymark-analytics/waymark/internal/logging"
)

// handleExport downloads the journey map as a file. Formats: json
// (default) and csv. The CSV form flattens each journey to one row for
// spreadsheet import.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	journeys := s.client.Mapper().All()

	var (
		data        []byte
		err         error
		contentType string
		filename    string
	)
	switch r.URL.Query().Get("format") {
	case "csv":
		data, err = journeysCSV(journeys)
		contentType = "text/csv"
		filename = "journeys.csv"
	case "", "json":
		data, err = json.MarshalIndent(journeys, "", "  ")
		contentType = "application/json"
		filename = "journeys.json"
	default:
		writeError(w, http.StatusBadRequest, codeBadRequest, "unknown export format")
		return
	}
	if err != nil {
		logging.Error().Err(err).Msg("journey export failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "export failed")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		logging.Debug().Err(err).Msg("export write aborted")
	}
}

var csvHeader = []string{
	"user_id", "current_stage", "start_date", "last_activity",
	"total_events", "high_intent_events", "lead_score",
	"progression_score", "conversion_probability", "conversion_path",
}

func journeysCSV(journeys []journey.Journey) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, j := range journeys {
		row := []string{
			j.UserID,
			string(j.CurrentStage),
			j.StartDate.UTC().Format("2006-01-02T15:04:05Z"),
			j.LastActivity.UTC().Format("2006-01-02T15:04:05Z"),
			strconv.Itoa(j.TotalEvents),
			strconv.Itoa(j.HighIntentEvents),
			strconv.Itoa(j.LeadScore),
			strconv.FormatFloat(j.ProgressionScore, 'f', 1, 64),
			strconv.FormatFloat(j.ConversionProbability, 'f', 1, 64),
			strings.Join(j.ConversionPath, " > "),
		}
		if err := cw.Write(row); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	return buf.Bytes(), cw.Error()
}
