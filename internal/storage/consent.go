// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

package storage

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/waymark-analytics/waymark/internal/logging"
)

// ErrNoConsent is returned by components asked to track, persist, or send
// before the visitor has granted consent.
var ErrNoConsent = errors.New("storage: tracking consent not granted")

// ConsentGate guards all tracking, persistence, and network activity behind
// an explicit consent flag. Revoking consent purges every namespaced
// persisted key.
//
// The granted flag is cached in an atomic so the hot path (checked on every
// Track call) never touches the store.
type ConsentGate struct {
	store   Store
	granted atomic.Bool
}

// NewConsentGate creates a gate, restoring the persisted consent flag.
func NewConsentGate(store Store) *ConsentGate {
	g := &ConsentGate{store: store}
	if v, err := store.Get(KeyConsent); err == nil && string(v) == "granted" {
		g.granted.Store(true)
	}
	return g
}

// Granted reports whether tracking consent is currently granted.
func (g *ConsentGate) Granted() bool {
	return g.granted.Load()
}

// Grant records consent with the grant timestamp.
func (g *ConsentGate) Grant(now time.Time) error {
	if err := g.store.Set(KeyConsent, []byte("granted")); err != nil {
		return err
	}
	if err := g.store.Set(KeyConsentDate, []byte(now.UTC().Format(time.RFC3339))); err != nil {
		logging.Warn().Err(err).Msg("failed to persist consent date")
	}
	g.granted.Store(true)
	logging.Info().Msg("tracking consent granted")
	return nil
}

// Revoke clears consent and purges all namespaced persisted keys.
func (g *ConsentGate) Revoke() error {
	g.granted.Store(false)
	removed, err := g.store.PurgePrefix(Namespace)
	if err != nil {
		return err
	}
	logging.Info().Int("keys_purged", removed).Msg("tracking consent revoked")
	return nil
}

// Gate returns a Store view that silently drops writes while consent is
// not granted. Reads and deletes always pass through, so restored state
// remains visible and revocation purges work regardless of the flag.
func (g *ConsentGate) Gate() Store {
	return &gatedStore{gate: g}
}

type gatedStore struct {
	gate *ConsentGate
}

func (s *gatedStore) Get(key string) ([]byte, error) {
	return s.gate.store.Get(key)
}

func (s *gatedStore) Set(key string, value []byte) error {
	if !s.gate.Granted() {
		return nil
	}
	return s.gate.store.Set(key, value)
}

func (s *gatedStore) Delete(key string) error {
	return s.gate.store.Delete(key)
}

func (s *gatedStore) PurgePrefix(prefix string) (int, error) {
	return s.gate.store.PurgePrefix(prefix)
}

// Close is a no-op. The underlying store's owner closes it.
func (s *gatedStore) Close() error { return nil }

// GrantedAt returns the recorded consent timestamp, if any.
func (g *ConsentGate) GrantedAt() (time.Time, bool) {
	v, err := g.store.Get(KeyConsentDate)
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, string(v))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
