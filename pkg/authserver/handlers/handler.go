// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/stacklok/toolhive-authbroker/pkg/authserver"
	"github.com/stacklok/toolhive-authbroker/pkg/authserver/signer"
)

const (
	// DefaultRegisterRateLimit is the sustained rate of registration requests
	// per second accepted across all callers.
	DefaultRegisterRateLimit = 5

	// DefaultRegisterBurst is the registration burst size.
	DefaultRegisterBurst = 20

	// PathMetrics is where Options.MetricsHandler is mounted.
	PathMetrics = "/metrics"

	// PathHealth reports liveness and, when Options.HealthCheck is set,
	// backend reachability.
	PathHealth = "/health"

	requestTimeout = 60 * time.Second
)

// Options configures the HTTP transport.
type Options struct {
	// JWKS publishes the signer's public keys. When nil the JWKS route
	// responds 404.
	JWKS signer.JWKSProvider

	// MetricsHandler, when set, is served at PathMetrics.
	MetricsHandler http.Handler

	// HealthCheck, when set, is called by the health endpoint. An error
	// reports the broker as unavailable.
	HealthCheck func(ctx context.Context) error

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// RegisterRateLimit and RegisterBurst bound dynamic client registration.
	// Zero values select the defaults; a negative limit disables limiting.
	RegisterRateLimit rate.Limit
	RegisterBurst     int
}

// Handler serves the broker's HTTP endpoints.
type Handler struct {
	authorizer      authserver.Authorizer
	jwks            signer.JWKSProvider
	metrics         http.Handler
	healthCheck     func(ctx context.Context) error
	logger          *slog.Logger
	registerLimiter *rate.Limiter
}

// NewHandler creates a Handler over the given authorizer.
func NewHandler(authorizer authserver.Authorizer, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limit, burst := opts.RegisterRateLimit, opts.RegisterBurst
	if limit == 0 {
		limit = DefaultRegisterRateLimit
	}
	if burst <= 0 {
		burst = DefaultRegisterBurst
	}
	var limiter *rate.Limiter
	if limit > 0 {
		limiter = rate.NewLimiter(limit, burst)
	}

	return &Handler{
		authorizer:      authorizer,
		jwks:            opts.JWKS,
		metrics:         opts.MetricsHandler,
		healthCheck:     opts.HealthCheck,
		logger:          logger,
		registerLimiter: limiter,
	}
}

// NewRouter is shorthand for NewHandler(authorizer, opts).Routes().
func NewRouter(authorizer authserver.Authorizer, opts Options) http.Handler {
	return NewHandler(authorizer, opts).Routes()
}

// Routes returns a router with every broker endpoint registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
	)
	h.WellKnownRoutes(r)
	h.OAuthRoutes(r)

	r.Get(authserver.PathDocs, h.DocsHandler)
	r.Get(PathHealth, h.HealthHandler)
	if h.metrics != nil {
		r.Method(http.MethodGet, PathMetrics, h.metrics)
	}
	return r
}

// WellKnownRoutes registers the discovery and JWKS endpoints.
func (h *Handler) WellKnownRoutes(r chi.Router) {
	r.Get(authserver.PathAuthorizationServerMetadata, h.AuthorizationServerMetadataHandler)
	r.Get(authserver.PathProtectedResourceMetadata, h.ProtectedResourceMetadataHandler)
	r.Get(authserver.PathJWKS, h.JWKSHandler)
}

// OAuthRoutes registers the OAuth endpoints.
func (h *Handler) OAuthRoutes(r chi.Router) {
	r.Post(authserver.PathRegister, h.RegisterClientHandler)
	r.Get(authserver.PathAuthorize, h.AuthorizeHandler)
	r.Get(authserver.PathCallback, h.CallbackHandler)
	r.Post(authserver.PathToken, h.TokenHandler)
	r.Post(authserver.PathRevoke, h.RevokeHandler)
	r.Post(authserver.PathIntrospect, h.IntrospectHandler)
	r.With(RequireBearer(h.authorizer, h.logger)).Get(authserver.PathStats, h.StatsHandler)
}
