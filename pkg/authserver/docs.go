// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authserver implements the core of an OAuth 2.0 authorization
// server that brokers user authentication to an upstream identity provider.
//
// The broker supports:
//   - OAuth 2.0 Authorization Code flow with PKCE (RFC 7636)
//   - Dynamic Client Registration (RFC 7591), optionally implicit
//   - Upstream IDP delegation (authenticates users via an external IdP)
//   - Signed access tokens with refresh tokens, optionally rotated
//   - Token revocation and validation for protected resources
//   - Authorization Server Metadata (RFC 8414) and Protected Resource
//     Metadata (RFC 9728)
//
// # Usage
//
// The core is transport agnostic. Construct a Service from its collaborators
// and mount it with the handlers package:
//
//	stor := storage.NewMemoryStorage()
//	sign, err := signer.NewHMACSigner(secret, cfg.Issuer)
//	bridge, err := upstream.NewProvider(ctx, upstreamCfg)
//	svc, err := authserver.New(cfg, stor, sign, bridge)
//	router := handlers.NewRouter(svc, handlers.Options{})
//
// # Flow
//
// Authorize stores a pending session and redirects the browser upstream.
// CompleteUpstreamExchange consumes that session on callback, exchanges the
// upstream code and stores a local authorization code. Token redeems the
// code exactly once through an atomic store exchange.
//
// # Subpackages
//
//   - storage: memory, Redis and SQLite persistence
//   - signer: HMAC and asymmetric token signing
//   - upstream: upstream OAuth2 and OIDC providers
//   - handlers: HTTP transport
//   - telemetry: metrics and tracing decorator
//   - runconfig: file based configuration
package authserver
