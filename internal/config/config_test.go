// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestDefault_PipelineConstants(t *testing.T) {
	cfg := Default()

	if cfg.Session.IdleTimeout != 30*time.Minute {
		t.Errorf("idle timeout = %v, want 30m", cfg.Session.IdleTimeout)
	}
	if cfg.Tracker.DedupWindow != 5*time.Second {
		t.Errorf("dedup window = %v, want 5s", cfg.Tracker.DedupWindow)
	}
	if cfg.Tracker.AggregateWindow != 5*time.Minute {
		t.Errorf("aggregate window = %v, want 5m", cfg.Tracker.AggregateWindow)
	}
	if cfg.Collector.AggregationInterval != 10*time.Second {
		t.Errorf("aggregation interval = %v, want 10s", cfg.Collector.AggregationInterval)
	}
	if cfg.Dashboard.MaxReconnectAttempts != 5 {
		t.Errorf("max reconnect attempts = %d, want 5", cfg.Dashboard.MaxReconnectAttempts)
	}
	if cfg.Session.HistoryLimit != 10 {
		t.Errorf("history limit = %d, want 10", cfg.Session.HistoryLimit)
	}
	if cfg.Collector.SparklineSize != 20 {
		t.Errorf("sparkline size = %d, want 20", cfg.Collector.SparklineSize)
	}
}

func TestValidate_SampleRateRange(t *testing.T) {
	cfg := Default()
	cfg.Tracker.SampleRates["bogus"] = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("sample rate > 1 should fail validation")
	}
}

func TestValidate_JWTSecretRequiredWithAdmin(t *testing.T) {
	cfg := Default()
	cfg.Security.AdminUsername = "admin"
	cfg.Security.JWTSecret = ""
	if err := cfg.Validate(); err == nil {
		t.Error("admin user without jwt secret should fail validation")
	}

	cfg.Security.JWTSecret = "secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("admin user with jwt secret should validate: %v", err)
	}
}

func TestValidate_DedupRetentionOrdering(t *testing.T) {
	cfg := Default()
	cfg.Tracker.DedupWindow = 30 * time.Second
	cfg.Tracker.DedupRetention = 5 * time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("retention < window should fail validation")
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"WAYMARK_SERVER_PORT", "server.port"},
		{"WAYMARK_TRACKER_MAX_BATCH_SIZE", "tracker.max_batch_size"},
		{"WAYMARK_SESSION_IDLE_TIMEOUT", "session.idle_timeout"},
		{"WAYMARK_LOGGING_LEVEL", "logging.level"},
		{"WAYMARK_STORAGE_PATH", "storage.path"},
		{"WAYMARK_INGEST_URL", "ingest.url"},
		{"WAYMARK_SECURITY_JWT_SECRET", "security.jwt_secret"},
		{"WAYMARK_SECURITY_ADMIN_USERNAME", "security.admin_username"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "waymark.yaml")
	yaml := strings.Join([]string{
		"server:",
		"  port: 9000",
		"tracker:",
		"  max_batch_size: 25",
	}, "\n")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("WAYMARK_SERVER_PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Env wins over file; file wins over defaults.
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want env override 9100", cfg.Server.Port)
	}
	if cfg.Tracker.MaxBatchSize != 25 {
		t.Errorf("max batch size = %d, want file value 25", cfg.Tracker.MaxBatchSize)
	}
	if cfg.Session.IdleTimeout != 30*time.Minute {
		t.Errorf("idle timeout = %v, want default 30m", cfg.Session.IdleTimeout)
	}
}

func TestLoad_CORSOriginsFromEnv(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "none.yaml"))
	t.Setenv("WAYMARK_SECURITY_CORS_ORIGINS", "https://app.example.com, https://admin.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Security.CORSOrigins) != 2 {
		t.Fatalf("cors origins = %v, want 2 entries", cfg.Security.CORSOrigins)
	}
	if cfg.Security.CORSOrigins[1] != "https://admin.example.com" {
		t.Errorf("second origin = %q", cfg.Security.CORSOrigins[1])
	}
}
