// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package signer

import (
	"context"
	"crypto"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// joseClaims is the JWT payload produced by JWSSigner.
type joseClaims struct {
	jwt.Claims
	ClientID string `json:"client_id"`
	Scope    string `json:"scope,omitempty"`
	TokenUse string `json:"token_use"`
}

// verificationKey is a public key accepted when verifying tokens.
type verificationKey struct {
	keyID     string
	algorithm jose.SignatureAlgorithm
	public    crypto.PublicKey
}

// JWSSigner signs tokens with an asymmetric key and publishes the public
// half of its signing and fallback keys as a JWKS.
type JWSSigner struct {
	signer   jose.Signer
	issuer   string
	keyID    string
	keys     map[string]verificationKey
	keyOrder []string
	algs     []jose.SignatureAlgorithm
	opts     options
}

// NewJWSSigner creates a signer for key. Empty keyID and algorithm are
// derived from the key; non-empty values are validated against it.
// Fallback keys are accepted for verification and published in the JWKS
// but never used for signing.
func NewJWSSigner(key crypto.Signer, keyID, algorithm, issuer string, fallback []crypto.Signer, opts ...Option) (*JWSSigner, error) {
	if key == nil {
		return nil, fmt.Errorf("signing key is required")
	}
	if issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}

	primary, err := newVerificationKey(key, keyID, algorithm)
	if err != nil {
		return nil, err
	}

	sig, err := jose.NewSigner(
		jose.SigningKey{
			Algorithm: primary.algorithm,
			Key:       jose.JSONWebKey{Key: key, KeyID: primary.keyID, Algorithm: string(primary.algorithm)},
		},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWS signer: %w", err)
	}

	s := &JWSSigner{
		signer: sig,
		issuer: issuer,
		keyID:  primary.keyID,
		keys:   map[string]verificationKey{},
		opts:   newOptions(opts),
	}
	s.addKey(primary)

	for i, fk := range fallback {
		vk, err := newVerificationKey(fk, "", "")
		if err != nil {
			return nil, fmt.Errorf("fallback key [%d]: %w", i, err)
		}
		s.addKey(vk)
	}
	return s, nil
}

func newVerificationKey(key crypto.Signer, keyID, algorithm string) (verificationKey, error) {
	var err error
	if keyID == "" {
		if keyID, err = DeriveKeyID(key); err != nil {
			return verificationKey{}, fmt.Errorf("failed to derive key ID: %w", err)
		}
	}
	if algorithm == "" {
		if algorithm, err = DeriveAlgorithm(key); err != nil {
			return verificationKey{}, fmt.Errorf("failed to derive algorithm: %w", err)
		}
	} else if err := ValidateAlgorithmForKey(algorithm, key); err != nil {
		return verificationKey{}, err
	}
	return verificationKey{
		keyID:     keyID,
		algorithm: jose.SignatureAlgorithm(algorithm),
		public:    key.Public(),
	}, nil
}

func (s *JWSSigner) addKey(vk verificationKey) {
	if _, ok := s.keys[vk.keyID]; ok {
		return
	}
	s.keys[vk.keyID] = vk
	s.keyOrder = append(s.keyOrder, vk.keyID)
	for _, alg := range s.algs {
		if alg == vk.algorithm {
			return
		}
	}
	s.algs = append(s.algs, vk.algorithm)
}

// KeyID returns the key ID placed in the kid header of signed tokens.
func (s *JWSSigner) KeyID() string {
	return s.keyID
}

// GenerateAccessToken signs an access token.
func (s *JWSSigner) GenerateAccessToken(_ context.Context, claims Claims, ttl time.Duration) (string, error) {
	return s.sign(s.opts.prepare(claims, TokenUseAccess, ttl))
}

// GenerateRefreshToken signs a refresh token.
func (s *JWSSigner) GenerateRefreshToken(_ context.Context, claims Claims, ttl time.Duration) (string, error) {
	return s.sign(s.opts.prepare(claims, TokenUseRefresh, ttl))
}

func (s *JWSSigner) sign(c Claims) (string, error) {
	payload := joseClaims{
		Claims: jwt.Claims{
			Issuer:   s.issuer,
			Subject:  c.UserID,
			Expiry:   jwt.NewNumericDate(c.ExpiresAt),
			IssuedAt: jwt.NewNumericDate(c.IssuedAt),
			ID:       c.ID,
		},
		ClientID: c.ClientID,
		Scope:    c.Scope,
		TokenUse: c.TokenUse,
	}
	if c.Audience != "" {
		payload.Audience = jwt.Audience{c.Audience}
	}

	token, err := jwt.Signed(s.signer).Claims(payload).Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// VerifyAccessToken verifies a token signed by this signer or one of its
// fallback keys.
func (s *JWSSigner) VerifyAccessToken(_ context.Context, token string) (*Claims, error) {
	parsed, err := jwt.ParseSigned(token, s.algs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if len(parsed.Headers) != 1 {
		return nil, fmt.Errorf("%w: expected a single signature", ErrInvalidToken)
	}

	header := parsed.Headers[0]
	vk, ok := s.keys[header.KeyID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key ID %q", ErrInvalidToken, header.KeyID)
	}
	if header.Algorithm != string(vk.algorithm) {
		return nil, fmt.Errorf("%w: algorithm %s does not match key", ErrInvalidToken, header.Algorithm)
	}

	var payload joseClaims
	if err := parsed.Claims(vk.public, &payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	expected := jwt.Expected{Issuer: s.issuer, Time: s.opts.now()}
	if s.opts.audience != "" {
		expected.AnyAudience = jwt.Audience{s.opts.audience}
	}
	if err := payload.ValidateWithLeeway(expected, 0); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if payload.Expiry == nil {
		return nil, fmt.Errorf("%w: missing exp claim", ErrInvalidToken)
	}
	if payload.TokenUse != TokenUseAccess {
		return nil, fmt.Errorf("%w: token_use is %q", ErrInvalidToken, payload.TokenUse)
	}

	claims := &Claims{
		ClientID:  payload.ClientID,
		UserID:    payload.Subject,
		Scope:     payload.Scope,
		Issuer:    payload.Issuer,
		TokenUse:  payload.TokenUse,
		ID:        payload.ID,
		ExpiresAt: payload.Expiry.Time(),
	}
	if len(payload.Audience) > 0 {
		claims.Audience = payload.Audience[0]
	}
	if payload.IssuedAt != nil {
		claims.IssuedAt = payload.IssuedAt.Time()
	}
	return claims, nil
}

// PublicJWKS returns the public signing and fallback keys.
func (s *JWSSigner) PublicJWKS() *jose.JSONWebKeySet {
	set := &jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(s.keyOrder))}
	for _, kid := range s.keyOrder {
		vk := s.keys[kid]
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       vk.public,
			KeyID:     vk.keyID,
			Algorithm: string(vk.algorithm),
			Use:       "sig",
		})
	}
	return set
}

// Compile-time interface compliance checks.
var (
	_ Signer       = (*JWSSigner)(nil)
	_ JWKSProvider = (*JWSSigner)(nil)
)
