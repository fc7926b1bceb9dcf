// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// hmacClaims is the JWT payload produced by HMACSigner.
type hmacClaims struct {
	jwt.RegisteredClaims
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
	TokenUse string `json:"token_use"`
}

// HMACSigner signs HS256 tokens with a shared secret.
type HMACSigner struct {
	secret []byte
	issuer string
	opts   options
}

// NewHMACSigner creates an HS256 signer. The secret must be at least
// MinSecretLength bytes.
func NewHMACSigner(secret []byte, issuer string, opts ...Option) (*HMACSigner, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("HMAC secret must be at least %d bytes, got %d bytes", MinSecretLength, len(secret))
	}
	if issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	return &HMACSigner{
		secret: slices.Clone(secret),
		issuer: issuer,
		opts:   newOptions(opts),
	}, nil
}

// GenerateAccessToken signs an access token.
func (s *HMACSigner) GenerateAccessToken(_ context.Context, claims Claims, ttl time.Duration) (string, error) {
	return s.sign(s.opts.prepare(claims, TokenUseAccess, ttl))
}

// GenerateRefreshToken signs a refresh token.
func (s *HMACSigner) GenerateRefreshToken(_ context.Context, claims Claims, ttl time.Duration) (string, error) {
	return s.sign(s.opts.prepare(claims, TokenUseRefresh, ttl))
}

func (s *HMACSigner) sign(c Claims) (string, error) {
	payload := hmacClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   c.UserID,
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			ID:        c.ID,
		},
		ClientID: c.ClientID,
		Scope:    c.Scope,
		TokenUse: c.TokenUse,
	}
	if c.Audience != "" {
		payload.Audience = jwt.ClaimStrings{c.Audience}
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, payload).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// VerifyAccessToken verifies an HS256 access token.
func (s *HMACSigner) VerifyAccessToken(_ context.Context, token string) (*Claims, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.opts.now),
	}
	if s.opts.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(s.opts.audience))
	}

	var payload hmacClaims
	_, err := jwt.ParseWithClaims(token, &payload, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if payload.TokenUse != TokenUseAccess {
		return nil, fmt.Errorf("%w: token_use is %q", ErrInvalidToken, payload.TokenUse)
	}

	claims := &Claims{
		ClientID: payload.ClientID,
		UserID:   payload.Subject,
		Scope:    payload.Scope,
		Issuer:   payload.Issuer,
		TokenUse: payload.TokenUse,
		ID:       payload.ID,
	}
	if len(payload.Audience) > 0 {
		claims.Audience = payload.Audience[0]
	}
	if payload.IssuedAt != nil {
		claims.IssuedAt = payload.IssuedAt.Time
	}
	if payload.ExpiresAt != nil {
		claims.ExpiresAt = payload.ExpiresAt.Time
	}
	return claims, nil
}

// Compile-time interface compliance check.
var _ Signer = (*HMACSigner)(nil)
