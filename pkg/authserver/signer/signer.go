// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package signer mints and verifies the bearer tokens issued by the
// authorization broker. Two implementations are provided: an HMAC signer
// for single-secret deployments and an asymmetric JWS signer that publishes
// its public keys as a JWKS document.
package signer

//go:generate mockgen -destination=mocks/mock_signer.go -package=mocks -source=signer.go Signer,JWKSProvider

import (
	"context"
	"errors"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
)

// Token use values carried in the token_use claim.
const (
	TokenUseAccess  = "access"
	TokenUseRefresh = "refresh"
)

// MinSecretLength is the minimum HMAC secret length in bytes.
const MinSecretLength = 32

// ErrInvalidToken is returned when a token fails signature, expiry, issuer,
// audience or token-use checks.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the claims embedded in an issued token.
type Claims struct {
	ClientID string
	UserID   string
	Scope    string
	Audience string
	Issuer   string
	TokenUse string
	// ID is the jti claim. A random UUID is assigned when empty.
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Signer mints and verifies tokens.
type Signer interface {
	// GenerateAccessToken signs an access token valid for ttl.
	GenerateAccessToken(ctx context.Context, claims Claims, ttl time.Duration) (string, error)

	// GenerateRefreshToken signs a refresh token valid for ttl.
	GenerateRefreshToken(ctx context.Context, claims Claims, ttl time.Duration) (string, error)

	// VerifyAccessToken checks an access token and returns its claims.
	// Refresh tokens are rejected.
	VerifyAccessToken(ctx context.Context, token string) (*Claims, error)
}

// JWKSProvider is implemented by signers with publishable public keys.
type JWKSProvider interface {
	PublicJWKS() *jose.JSONWebKeySet
}

// Option configures a signer.
type Option func(*options)

type options struct {
	now      func() time.Time
	audience string
}

// WithClock overrides the clock used for issuing and verifying tokens.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithAudience makes verification require the given aud claim.
func WithAudience(audience string) Option {
	return func(o *options) {
		o.audience = audience
	}
}

func newOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// prepare fills the time, use and ID claims for a token about to be signed.
func (o *options) prepare(c Claims, use string, ttl time.Duration) Claims {
	if c.IssuedAt.IsZero() {
		c.IssuedAt = o.now()
	}
	c.ExpiresAt = c.IssuedAt.Add(ttl)
	c.TokenUse = use
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return c
}
