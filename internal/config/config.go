// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

// Package config defines the Waymark configuration model and its koanf-based
// loader. Precedence: environment variables > YAML file > built-in defaults.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the telemetry agent.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Storage   StorageConfig   `koanf:"storage"`
	Tracker   TrackerConfig   `koanf:"tracker"`
	Session   SessionConfig   `koanf:"session"`
	Journey   JourneyConfig   `koanf:"journey"`
	Collector CollectorConfig `koanf:"collector"`
	Dashboard DashboardConfig `koanf:"dashboard"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Security  SecurityConfig  `koanf:"security"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// StorageConfig configures the persistence store.
type StorageConfig struct {
	// Path is the BadgerDB directory. Empty selects the in-memory store
	// (state lost on restart; useful for tests and ephemeral runs).
	Path string `koanf:"path"`
}

// TrackerConfig configures event capture, sampling, and flushing.
type TrackerConfig struct {
	MaxBatchSize      int           `koanf:"max_batch_size" validate:"min=1"`
	FlushInterval     time.Duration `koanf:"flush_interval" validate:"min=100ms"`
	DedupWindow       time.Duration `koanf:"dedup_window" validate:"min=100ms"`
	DedupRetention    time.Duration `koanf:"dedup_retention" validate:"min=1s"`
	AggregateWindow   time.Duration `koanf:"aggregate_window" validate:"min=1s"`
	DefaultSampleRate float64       `koanf:"default_sample_rate" validate:"min=0,max=1"`

	// SampleRates overrides the default rate per event type.
	SampleRates map[string]float64 `koanf:"sample_rates"`
}

// SessionConfig configures session lifecycle.
type SessionConfig struct {
	IdleTimeout  time.Duration `koanf:"idle_timeout" validate:"min=1m"`
	HistoryLimit int           `koanf:"history_limit" validate:"min=1"`
}

// JourneyConfig configures the journey state machine.
type JourneyConfig struct {
	TouchpointLimit int `koanf:"touchpoint_limit" validate:"min=1"`
}

// CollectorConfig configures realtime metric aggregation.
type CollectorConfig struct {
	AggregationInterval time.Duration `koanf:"aggregation_interval" validate:"min=1s"`
	BufferSize          int           `koanf:"buffer_size" validate:"min=10"`
	SparklineSize       int           `koanf:"sparkline_size" validate:"min=2"`
}

// DashboardConfig configures the upstream realtime channel.
type DashboardConfig struct {
	// RealtimeURL is the upstream websocket endpoint. Empty disables the
	// upstream channel (local subscribers still receive metric updates).
	RealtimeURL string `koanf:"realtime_url"`

	// StreamURL is the server-push (SSE) fallback endpoint.
	StreamURL string `koanf:"stream_url"`

	// EventsURL is the single-event HTTP fallback endpoint.
	EventsURL string `koanf:"events_url"`

	ReconnectBackoff     time.Duration `koanf:"reconnect_backoff" validate:"min=100ms"`
	MaxReconnectAttempts int           `koanf:"max_reconnect_attempts" validate:"min=1"`

	// ForwardRate caps events/second mirrored to the upstream channel.
	ForwardRate  float64 `koanf:"forward_rate" validate:"min=0"`
	ForwardBurst int     `koanf:"forward_burst" validate:"min=1"`
}

// IngestConfig configures batch delivery.
type IngestConfig struct {
	// URL is the upstream ingest endpoint. Empty disables delivery
	// (batches are dropped after capture; local pipeline still runs).
	URL     string        `koanf:"url"`
	Timeout time.Duration `koanf:"timeout" validate:"min=1s"`
}

// SecurityConfig configures auth for the reporting surface.
type SecurityConfig struct {
	// JWTSecret signs reporting-API tokens. Required when AdminUsername set.
	JWTSecret     string        `koanf:"jwt_secret"`
	AdminUsername string        `koanf:"admin_username"`
	AdminPassword string        `koanf:"admin_password"` // bcrypt hash
	TokenTTL      time.Duration `koanf:"token_ttl" validate:"min=1m"`

	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"min=1"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"min=1s"`

	CORSOrigins []string `koanf:"cors_origins"`
}

// Default returns a Config with production defaults. The numeric constants
// mirror the documented pipeline behavior: 30-minute idle sessions, 5-minute
// aggregate windows, 5-second dedup, 10-second aggregation ticks, 5 capped
// reconnect attempts.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8343,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Storage: StorageConfig{
			Path: "/data/waymark",
		},
		Tracker: TrackerConfig{
			MaxBatchSize:      50,
			FlushInterval:     10 * time.Second,
			DedupWindow:       5 * time.Second,
			DedupRetention:    60 * time.Second,
			AggregateWindow:   5 * time.Minute,
			DefaultSampleRate: 0.1,
			SampleRates: map[string]float64{
				"page_view":       0.5,
				"product_view":    1.0,
				"form_submission": 1.0,
				"demo_request":    1.0,
				"quote_request":   1.0,
				"error_encounter": 1.0,
				"scroll_depth":    0.1,
				"interaction":     0.1,
			},
		},
		Session: SessionConfig{
			IdleTimeout:  30 * time.Minute,
			HistoryLimit: 10,
		},
		Journey: JourneyConfig{
			TouchpointLimit: 10,
		},
		Collector: CollectorConfig{
			AggregationInterval: 10 * time.Second,
			BufferSize:          100,
			SparklineSize:       20,
		},
		Dashboard: DashboardConfig{
			RealtimeURL:          "",
			StreamURL:            "",
			EventsURL:            "",
			ReconnectBackoff:     2 * time.Second,
			MaxReconnectAttempts: 5,
			ForwardRate:          50,
			ForwardBurst:         100,
		},
		Ingest: IngestConfig{
			URL:     "",
			Timeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			JWTSecret:       "",
			AdminUsername:   "",
			AdminPassword:   "",
			TokenTTL:        24 * time.Hour,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
	}
}

// Validate checks the configuration for structural and cross-field errors.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	for name, rate := range c.Tracker.SampleRates {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("config validation: sample rate for %s out of [0,1]: %v", name, rate)
		}
	}

	if c.Security.AdminUsername != "" && c.Security.JWTSecret == "" {
		return fmt.Errorf("config validation: security.jwt_secret required when admin_username is set")
	}

	if c.Tracker.DedupRetention < c.Tracker.DedupWindow {
		return fmt.Errorf("config validation: dedup_retention must be >= dedup_window")
	}

	return nil
}
