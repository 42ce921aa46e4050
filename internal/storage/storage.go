// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

// Package storage provides the key-value persistence port the pipeline uses
// for sessions, journeys, lead scores, and the consent flag. Production runs
// on BadgerDB; tests use the in-memory store. All keys live under a fixed
// namespace prefix so revoking consent can purge everything in one sweep.
package storage

import "errors"

// Namespace is the fixed prefix for every persisted key.
const Namespace = "waymark:"

// Persisted key names under Namespace.
const (
	KeySession        = Namespace + "session"
	KeySessionHistory = Namespace + "session_history"
	KeyJourneyMap     = Namespace + "journey_map"
	KeyLeadScore      = Namespace + "lead_score"
	KeyJourneyStage   = Namespace + "journey_stage"
	KeyConsent        = Namespace + "consent"
	KeyConsentDate    = Namespace + "consent_date"
	KeyVisitor        = Namespace + "visitor"
	KeyUserID         = Namespace + "user_id"
)

// ErrKeyNotFound is returned when a key has no stored value.
var ErrKeyNotFound = errors.New("storage: key not found")

// Store is the persistence port. Implementations must be safe for
// concurrent use. Writes are best-effort: callers log and continue
// in-memory when a write fails (a storage failure never stops tracking).
type Store interface {
	// Get returns the value for key, or ErrKeyNotFound.
	Get(key string) ([]byte, error)

	// Set stores value under key, overwriting any existing value.
	Set(key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// PurgePrefix removes every key with the given prefix and returns the
	// number of keys removed.
	PurgePrefix(prefix string) (int, error)

	// Close releases underlying resources.
	Close() error
}
