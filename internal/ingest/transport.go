// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

// Package ingest delivers compressed event batches to the ingest endpoint.
// Delivery is best-effort: one primary attempt with a tight deadline, one
// keepalive fallback attempt, never a retry. A circuit breaker sheds load
// when the endpoint is unhealthy and a rate limiter bounds outbound volume.
package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/waymark-analytics/waymark/internal/events"
	"github.com/waymark-analytics/waymark/internal/logging"
	"github.com/waymark-analytics/waymark/internal/metrics"
)

// ErrRateLimited indicates the batch was shed by the local rate limiter.
var ErrRateLimited = errors.New("ingest: batch rate limited")

// Transport delivers one batch. Implementations must not retry; the
// pipeline treats every send as final.
type Transport interface {
	Send(ctx context.Context, batch *events.Batch) error
	Close() error
}

// Encode serializes and gzip-compresses a batch for the wire.
func Encode(batch *events.Batch) ([]byte, error) {
	raw, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("compress batch: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress batch: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode. Used by the server side of the ingest endpoint.
func Decode(r io.Reader) (*events.Batch, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("decompress batch: %w", err)
	}
	defer zr.Close()
	var batch events.Batch
	if err := json.NewDecoder(zr).Decode(&batch); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return &batch, nil
}

// Option configures an HTTPTransport.
type Option func(*HTTPTransport)

// WithAuthToken sets a bearer token attached to every request.
func WithAuthToken(token string) Option {
	return func(t *HTTPTransport) { t.token = token }
}

// WithRateLimit bounds outbound batches to r per second with burst b.
func WithRateLimit(r float64, b int) Option {
	return func(t *HTTPTransport) { t.limiter = rate.NewLimiter(rate.Limit(r), b) }
}

// WithClients overrides the HTTP clients, for tests.
func WithClients(primary, fallback *http.Client) Option {
	return func(t *HTTPTransport) {
		t.primary = primary
		t.fallback = fallback
	}
}

// HTTPTransport posts gzip batches to the ingest endpoint. The primary
// client carries a tight deadline so a slow endpoint never blocks the
// flush path; the fallback client tolerates slower responses and reuses
// its connection across attempts.
type HTTPTransport struct {
	endpoint string
	token    string
	primary  *http.Client
	fallback *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[any]
}

// NewHTTPTransport creates a transport for the given ingest endpoint URL.
func NewHTTPTransport(endpoint string, opts ...Option) *HTTPTransport {
	t := &HTTPTransport{
		endpoint: endpoint,
		primary:  &http.Client{Timeout: 2 * time.Second},
		fallback: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}

	t.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "ingest",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("ingest circuit breaker state change")
		},
	})
	return t
}

// Send delivers one batch: primary attempt, then keepalive fallback.
// The returned error is informational; callers must not retry.
func (t *HTTPTransport) Send(ctx context.Context, batch *events.Batch) error {
	if t.limiter != nil && !t.limiter.Allow() {
		metrics.BatchesDropped.Inc()
		return ErrRateLimited
	}

	body, err := Encode(batch)
	if err != nil {
		metrics.BatchesDropped.Inc()
		return err
	}

	_, err = t.breaker.Execute(func() (any, error) {
		if perr := t.post(ctx, t.primary, "primary", body); perr == nil {
			return nil, nil
		}
		if ferr := t.post(ctx, t.fallback, "keepalive", body); ferr != nil {
			return nil, ferr
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.BatchesDropped.Inc()
			logging.Debug().Msg("ingest breaker open, batch dropped")
			return err
		}
		metrics.BatchesDropped.Inc()
		logging.Warn().Err(err).Int("events", len(batch.RawEvents)).Msg("batch delivery failed")
	}
	return err
}

func (t *HTTPTransport) post(ctx context.Context, client *http.Client, label string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := client.Do(req)
	if err != nil {
		metrics.DeliveryAttempts.WithLabelValues(label, "error").Inc()
		return err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		resp.Body.Close()              //nolint:errcheck
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.DeliveryAttempts.WithLabelValues(label, "rejected").Inc()
		return fmt.Errorf("ingest endpoint returned %d", resp.StatusCode)
	}
	metrics.DeliveryAttempts.WithLabelValues(label, "ok").Inc()
	return nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.primary.CloseIdleConnections()
	t.fallback.CloseIdleConnections()
	return nil
}
