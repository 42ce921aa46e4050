// Waymark - Customer Journey Telemetry Pipeline
// Copyright 2026 Waymark Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/waymark-analytics/waymark

package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/waymark-analytics/waymark/internal/config"
	"github.com/waymark-analytics/waymark/internal/logging"
)

// ErrBadCredentials is returned for any failed login. The cause is
// deliberately not distinguished.
var ErrBadCredentials = errors.New("auth: invalid credentials")

// Authenticator validates admin credentials against the configured
// bcrypt hash and issues tokens.
type Authenticator struct {
	username string
	hash     []byte
	jwt      *JWTManager
}

// NewAuthenticator wires the configured admin account to a token issuer.
func NewAuthenticator(cfg config.SecurityConfig, jwtManager *JWTManager) *Authenticator {
	return &Authenticator{
		username: cfg.AdminUsername,
		hash:     []byte(cfg.AdminPassword),
		jwt:      jwtManager,
	}
}

// Login checks credentials and returns a signed token.
func (a *Authenticator) Login(username, password string) (string, error) {
	if a.username == "" || username != a.username {
		// Burn a comparison anyway so username probing is not cheaper
		// than password probing.
		_ = bcrypt.CompareHashAndPassword(a.hash, []byte(password))
		return "", ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		logging.Warn().Str("username", username).Msg("failed login attempt")
		return "", ErrBadCredentials
	}
	return a.jwt.GenerateToken(username, "admin")
}

// HashPassword produces a bcrypt hash for provisioning.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
