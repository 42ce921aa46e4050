// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

// Package main is the Waymark server entry point.
//
// Waymark captures customer journey telemetry: events flow from the intake
// endpoints through an enrichment pipeline into session tracking, journey
// stage mapping, and realtime metric aggregation, and fan out live to
// connected dashboard clients.
//
// The server initializes components in the following order:
//
//  1. Configuration: layered load from defaults, config file, environment (Koanf v2)
//  2. Storage: BadgerDB at WAYMARK_STORAGE_PATH, or an in-memory store when unset
//  3. Pipeline client: consent gate, sessions, tracker, enrichment bus,
//     journey mapper, metric collector, dashboard engine
//  4. WebSocket hub: realtime fan-out to dashboard clients
//  5. Authentication: JWT-protected reporting API when WAYMARK_SECURITY_ADMIN_USERNAME is set
//  6. HTTP server: intake, consent, realtime, and reporting endpoints
//
// Everything long-running is supervised by a suture tree and shut down
// gracefully on SIGINT/SIGTERM.
//
// Example:
//
//	export WAYMARK_STORAGE_PATH=/var/lib/waymark
//	export WAYMARK_INGEST_URL=https://collect.example.com/api/v1/analytics/ingest
//	export WAYMARK_SECURITY_JWT_SECRET=$(openssl rand -base64 32)
//	export WAYMARK_SECURITY_ADMIN_USERNAME=admin
//	export WAYMARK_SECURITY_ADMIN_PASSWORD='$2a$10$...'  # bcrypt hash
//	./waymark
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/waymark-analytics/waymark/internal/api"
	"github.com/waymark-analytics/waymark/internal/auth"
	"github.com/waymark-analytics/waymark/internal/bus"
	"github.com/waymark-analytics/waymark/internal/client"
	"github.com/waymark-analytics/waymark/internal/clock"
	"github.com/waymark-analytics/waymark/internal/config"
	"github.com/waymark-analytics/waymark/internal/logging"
	"github.com/waymark-analytics/waymark/internal/storage"
	"github.com/waymark-analytics/waymark/internal/supervisor"
	"github.com/waymark-analytics/waymark/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("storage_path", cfg.Storage.Path).
		Str("ingest_url", cfg.Ingest.URL).
		Msg("starting waymark")

	var store storage.Store
	if cfg.Storage.Path != "" {
		bs, err := storage.OpenBadger(cfg.Storage.Path)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to open storage")
		}
		store = bs
	} else {
		logging.Warn().Msg("no storage path configured, state will not survive restarts")
		store = storage.NewMemoryStore()
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing storage")
		}
	}()

	cl, err := client.New(cfg, store, clock.NewReal())
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to assemble pipeline")
	}

	hub := websocket.NewHub()
	cl.Collector().OnUpdate(hub.BroadcastMetrics)
	cl.Pipeline().OnEnriched("realtime", func(_ context.Context, ee *bus.EnrichedEvent) error {
		hub.BroadcastEvent(ee.Event)
		if j, ok := cl.Mapper().Get(ee.Event.EffectiveUserID()); ok {
			hub.BroadcastJourneyUpdate(j.UserID, string(j.CurrentStage),
				j.ProgressionScore, j.ConversionProbability)
		}
		return nil
	})

	var (
		jwtm  *auth.JWTManager
		authn *auth.Authenticator
	)
	if cfg.Security.AdminUsername != "" {
		jwtm, err = auth.NewJWTManager(cfg.Security)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to configure auth")
		}
		authn = auth.NewAuthenticator(cfg.Security, jwtm)
	} else {
		logging.Warn().Msg("no admin user configured, reporting endpoints are disabled")
	}

	srv := api.NewServer(cfg, cl, hub, authn, jwtm)

	tree := supervisor.NewTree(slog.New(slog.NewJSONHandler(os.Stderr, nil)), supervisor.DefaultTreeConfig())
	cl.Register(tree)
	tree.AddRealtimeService(supervisor.Func{Name: "hub", Fn: hub.Run})
	tree.AddAPIService(supervisor.Func{Name: "http", Fn: srv.Run})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor exited")
	}

	if err := cl.Close(); err != nil {
		logging.Error().Err(err).Msg("error closing pipeline")
	}
	logging.Info().Msg("waymark stopped")
}
