// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/waymark-analytics/waymark/internal/auth"
	"github.com/waymark-analytics/waymark/internal/events"
	"github.com/waymark-analytics/waymark/internal/ingest"
	"github.com/waymark-analytics/waymark/internal/logging"
	"github.com/waymark-analytics/waymark/internal/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, map[string]any{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "malformed login request")
		return
	}
	token, err := s.authn.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrBadCredentials) {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "invalid credentials")
			return
		}
		logging.Error().Err(err).Msg("login failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "login failed")
		return
	}
	writeData(w, map[string]string{"token": token})
}

// handleIngest accepts one compressed batch, the same envelope the client
// transport sends. Accepted events are replayed through the enrichment
// pipeline and mirrored to realtime subscribers.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !strings.Contains(r.Header.Get("Content-Encoding"), "gzip") {
		writeError(w, http.StatusBadRequest, codeBadRequest, "batch must be gzip encoded")
		return
	}
	batch, err := ingest.Decode(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "undecodable batch")
		return
	}

	accepted := 0
	for _, e := range batch.RawEvents {
		if err := e.Validate(); err != nil {
			logging.Warn().Err(err).Str("event_id", e.EventID).Msg("rejected event in batch")
			continue
		}
		if err := s.client.Pipeline().PublishEvent(r.Context(), e); err != nil {
			logging.Warn().Err(err).Str("event_id", e.EventID).Msg("pipeline publish failed")
			continue
		}
		s.hub.BroadcastEvent(e)
		accepted++
	}
	writeData(w, map[string]any{
		"accepted":   accepted,
		"rejected":   len(batch.RawEvents) - accepted,
		"aggregates": len(batch.Aggregates),
	})
}

// handleEvent accepts one uncompressed event, the keepalive-style fallback
// for clients that cannot batch.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var e events.AnalyticsEvent
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "malformed event")
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := e.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	if err := s.client.Pipeline().PublishEvent(r.Context(), &e); err != nil {
		logging.Error().Err(err).Str("event_id", e.EventID).Msg("pipeline publish failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "event not accepted")
		return
	}
	s.hub.BroadcastEvent(&e)
	writeData(w, map[string]string{"event_id": e.EventID})
}

func (s *Server) handleConsentStatus(w http.ResponseWriter, _ *http.Request) {
	writeData(w, map[string]any{"granted": s.client.ConsentGranted()})
}

func (s *Server) handleConsentGrant(w http.ResponseWriter, _ *http.Request) {
	if err := s.client.GrantConsent(); err != nil {
		logging.Error().Err(err).Msg("consent grant failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "consent not recorded")
		return
	}
	writeData(w, map[string]any{"granted": true})
}

func (s *Server) handleConsentRevoke(w http.ResponseWriter, _ *http.Request) {
	if err := s.client.RevokeConsent(); err != nil {
		logging.Error().Err(err).Msg("consent revoke failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "consent not revoked")
		return
	}
	writeData(w, map[string]any{"granted": false})
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	m, err := s.client.SessionMetrics()
	if err != nil {
		if errors.Is(err, storage.ErrNoConsent) {
			writeError(w, http.StatusForbidden, codeNoConsent, "tracking consent not granted")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternal, "session metrics unavailable")
		return
	}
	writeData(w, m)
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, _ *http.Request) {
	history := s.client.Sessions().History()
	writeList(w, history, len(history))
}

func (s *Server) handleJourneys(w http.ResponseWriter, _ *http.Request) {
	journeys := s.client.Mapper().All()
	writeList(w, journeys, len(journeys))
}

func (s *Server) handleJourney(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	j, ok := s.client.Mapper().Get(userID)
	if !ok {
		writeError(w, http.StatusNotFound, codeNotFound, "no journey for user")
		return
	}
	writeData(w, j)
}

func (s *Server) handleMetricSnapshots(w http.ResponseWriter, _ *http.Request) {
	snaps := s.client.Collector().Snapshots()
	writeList(w, snaps, len(snaps))
}
