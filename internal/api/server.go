// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/waymark-analytics/waymark/internal/auth"
	"github.com/waymark-analytics/waymark/internal/client"
	"github.com/waymark-analytics/waymark/internal/config"
	"github.com/waymark-analytics/waymark/internal/logging"
	"github.com/waymark-analytics/waymark/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

// Server owns the HTTP surface. Construct with NewServer, mount Routes,
// and supervise Run.
type Server struct {
	cfg    *config.Config
	client *client.Client
	hub    *websocket.Hub
	authn  *auth.Authenticator
	jwt    *auth.JWTManager
}

// NewServer wires the HTTP surface around an assembled pipeline client.
// The auth pair may be nil, which disables the reporting endpoints.
func NewServer(cfg *config.Config, cl *client.Client, hub *websocket.Hub, authn *auth.Authenticator, jwt *auth.JWTManager) *Server {
	return &Server{cfg: cfg, client: cl, hub: hub, authn: authn, jwt: jwt}
}

// Routes builds the router. Intake endpoints are open but rate limited;
// reporting endpoints require a bearer token.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(httpMetrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Security.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Encoding"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	if s.authn != nil {
		r.Route("/api/v1/auth", func(r chi.Router) {
			// Tight limit against credential stuffing.
			r.Use(httprate.LimitByIP(5, 5*time.Minute))
			r.Post("/login", s.handleLogin)
		})
	}

	r.Route("/api/v1/analytics", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.Security.RateLimitReqs, s.cfg.Security.RateLimitWindow))
		r.Post("/ingest", s.handleIngest)
		r.Post("/events", s.handleEvent)
		r.Get("/realtime", s.handleWebSocket)
		r.Get("/stream", s.handleSSE)
	})

	r.Route("/api/v1/consent", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.Security.RateLimitReqs, s.cfg.Security.RateLimitWindow))
		r.Get("/", s.handleConsentStatus)
		r.Post("/grant", s.handleConsentGrant)
		r.Post("/revoke", s.handleConsentRevoke)
	})

	// Reporting is only mounted when auth is configured. Exposing the
	// journey map without a token is never acceptable.
	if s.jwt == nil {
		return r
	}
	r.Route("/api/v1/reporting", func(r chi.Router) {
		r.Use(httprate.LimitByIP(s.cfg.Security.RateLimitReqs, s.cfg.Security.RateLimitWindow))
		r.Use(auth.Middleware(s.jwt))
		r.Get("/session", s.handleSession)
		r.Get("/session/history", s.handleSessionHistory)
		r.Get("/journeys", s.handleJourneys)
		r.Get("/journeys/{userID}", s.handleJourney)
		r.Get("/metrics", s.handleMetricSnapshots)
		r.Get("/funnel", s.handleFunnel)
		r.Get("/top-pages", s.handleTopPages)
		r.Get("/leads", s.handleLeadScores)
		r.Get("/export", s.handleExport)
	})

	return r
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	// No WriteTimeout: the websocket and SSE endpoints hold their
	// connections open indefinitely.
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: s.cfg.Server.Timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
