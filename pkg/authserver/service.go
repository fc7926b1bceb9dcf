// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

//go:generate mockgen -destination=mocks/mock_authorizer.go -package=mocks -source=service.go Authorizer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/toolhive-authbroker/pkg/authserver/signer"
	"github.com/stacklok/toolhive-authbroker/pkg/authserver/storage"
	"github.com/stacklok/toolhive-authbroker/pkg/authserver/upstream"
)

// Authorizer is the surface the transport layer consumes.
type Authorizer interface {
	// AuthorizationServerMetadata returns the RFC 8414 metadata document.
	AuthorizationServerMetadata() AuthorizationServerMetadata

	// ProtectedResourceMetadata returns the RFC 9728 metadata document.
	ProtectedResourceMetadata() ProtectedResourceMetadata

	// RegisterClient registers a client and returns its one-time secret.
	RegisterClient(ctx context.Context, req RegisterClientRequest) (*RegisterClientResponse, error)

	// Authorize starts an authorization code flow.
	Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResponse, error)

	// CompleteUpstreamExchange handles the upstream callback and issues a
	// local authorization code.
	CompleteUpstreamExchange(ctx context.Context, req CallbackRequest) (*CallbackResponse, error)

	// Token redeems an authorization code or refresh token.
	Token(ctx context.Context, req TokenRequest) (*TokenResponse, error)

	// ValidateAccessToken never fails; any problem yields Valid=false.
	ValidateAccessToken(ctx context.Context, token string) ValidationResult

	// RevokeToken reports whether a token was revoked. It never fails.
	RevokeToken(ctx context.Context, token string) bool

	// Stats summarises store contents.
	Stats(ctx context.Context) (storage.Stats, error)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the clock used for session and token timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithSecretHashCost sets the bcrypt cost for client secrets.
func WithSecretHashCost(cost int) Option {
	return func(s *Service) {
		s.hashCost = cost
	}
}

// Service implements Authorizer. It holds no per-request mutable state; all
// state lives in the store.
type Service struct {
	cfg      Config
	store    storage.Storage
	signer   signer.Signer
	bridge   upstream.Bridge
	jwks     bool
	logger   *slog.Logger
	now      func() time.Time
	hashCost int
}

// New validates cfg and builds a Service. cfg is copied; later changes to
// the caller's value have no effect.
func New(cfg Config, store storage.Storage, sign signer.Signer, bridge upstream.Bridge, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if store == nil {
		return nil, errors.New("storage is required")
	}
	if sign == nil {
		return nil, errors.New("signer is required")
	}
	if bridge == nil {
		return nil, errors.New("upstream bridge is required")
	}

	_, publishesKeys := sign.(signer.JWKSProvider)
	s := &Service{
		cfg:      cfg.withDefaults(),
		store:    store,
		signer:   sign,
		bridge:   bridge,
		jwks:     publishesKeys,
		logger:   slog.Default(),
		now:      time.Now,
		hashCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger.Debug("authorization core configured",
		"issuer", s.cfg.Issuer,
		"callback_url", s.cfg.CallbackURL,
		"implicit_registration", s.cfg.AllowImplicitRegistration,
		"rotate_refresh_tokens", s.cfg.RotateRefreshTokens,
		"upstream_type", bridge.Type(),
	)
	return s, nil
}

// Config returns the effective configuration with defaults applied.
func (s *Service) Config() Config {
	cfg := s.cfg
	cfg.ScopesSupported = append([]string(nil), s.cfg.ScopesSupported...)
	return cfg
}

// opContext bounds an operation by OperationTimeout when configured.
func (s *Service) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.OperationTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.OperationTimeout)
	}
	return context.WithCancel(ctx)
}

// cleanupContext is used for compensating deletes that must run even when
// the operation's own context is done.
func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}

func storageFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageFailure, op, err)
}

func (s *Service) hashSecret(secret string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(secret), s.hashCost)
}

func secretMatches(client *storage.Client, secret string) bool {
	if secret == "" || len(client.SecretHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(client.SecretHash, []byte(secret)) == nil
}

// randomHex returns n random bytes, hex encoded.
func randomHex(n int) string {
	b := make([]byte, n)
	// crypto/rand.Read never returns an error.
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Compile-time interface compliance check.
var _ Authorizer = (*Service)(nil)
