// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

// Package metrics exposes Prometheus instrumentation for the telemetry
// pipeline: tracker throughput, flush latency, delivery outcomes, journey
// stage movement, and realtime channel health.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracker metrics
	EventsTracked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_events_tracked_total",
			Help: "Total events accepted by the tracker",
		},
		[]string{"event_type"},
	)

	EventsSampledOut = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_events_sampled_out_total",
			Help: "Total events discarded by the sampling draw",
		},
		[]string{"event_type"},
	)

	EventsDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_events_deduplicated_total",
			Help: "Total events dropped by the 5-second dedup window",
		},
		[]string{"event_type"},
	)

	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "waymark_flush_duration_seconds",
			Help:    "Duration of batch flushes including compression and delivery",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	FlushBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "waymark_flush_batch_events",
			Help:    "Raw events carried per flush",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		},
	)

	// Delivery metrics
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_delivery_attempts_total",
			Help: "Ingest delivery attempts by transport and outcome",
		},
		[]string{"transport", "outcome"}, // transport: beacon, keepalive; outcome: success, failure
	)

	BatchesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waymark_batches_dropped_total",
			Help: "Batches dropped after both transports failed",
		},
	)

	// Session metrics
	SessionsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waymark_sessions_created_total",
			Help: "New sessions created",
		},
	)

	SessionsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waymark_sessions_expired_total",
			Help: "Sessions archived after the idle timeout",
		},
	)

	// Journey metrics
	JourneyStageAdvances = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_journey_stage_advances_total",
			Help: "Journey stage transitions by destination stage",
		},
		[]string{"stage"},
	)

	EnrichmentFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_enrichment_fallbacks_total",
			Help: "Enrichment failures recovered with the default processor",
		},
		[]string{"event_type"},
	)

	// Realtime channel metrics
	RealtimeClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "waymark_realtime_clients",
			Help: "Currently connected dashboard websocket clients",
		},
	)

	RealtimeReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "waymark_realtime_reconnects_total",
			Help: "Upstream realtime channel reconnection attempts",
		},
	)

	RealtimeState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "waymark_realtime_connection_state",
			Help: "Upstream channel state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting)",
		},
	)

	// HTTP surface metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_http_requests_total",
			Help: "HTTP requests by method, route pattern, and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "waymark_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Circuit breaker metrics
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "waymark_breaker_state",
			Help: "Ingest circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	BreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "waymark_breaker_requests_total",
			Help: "Requests through the ingest circuit breaker by result",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)
)
