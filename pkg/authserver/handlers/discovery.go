// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/stacklok/toolhive-authbroker/pkg/authserver"
)

// Cache-Control max-age values for discovery endpoints.
const (
	// DefaultJWKSCacheMaxAge is the Cache-Control max-age for the JWKS endpoint (1 hour).
	// This balances caching efficiency with timely key rotation propagation.
	DefaultJWKSCacheMaxAge = 3600

	// DefaultDiscoveryCacheMaxAge is the Cache-Control max-age for the discovery endpoints (1 hour).
	DefaultDiscoveryCacheMaxAge = 3600
)

// AuthorizationServerMetadataHandler handles
// GET /.well-known/oauth-authorization-server (RFC 8414).
func (h *Handler) AuthorizationServerMetadataHandler(w http.ResponseWriter, _ *http.Request) {
	h.writeDiscovery(w, h.authorizer.AuthorizationServerMetadata(), DefaultDiscoveryCacheMaxAge)
}

// ProtectedResourceMetadataHandler handles
// GET /.well-known/oauth-protected-resource (RFC 9728).
func (h *Handler) ProtectedResourceMetadataHandler(w http.ResponseWriter, _ *http.Request) {
	h.writeDiscovery(w, h.authorizer.ProtectedResourceMetadata(), DefaultDiscoveryCacheMaxAge)
}

// JWKSHandler handles GET /.well-known/jwks.json requests.
// It returns the public keys used for verifying access tokens.
func (h *Handler) JWKSHandler(w http.ResponseWriter, r *http.Request) {
	if h.jwks == nil {
		http.NotFound(w, r)
		return
	}
	publicJWKS := h.jwks.PublicJWKS()
	if publicJWKS == nil {
		h.logger.Error("no public JWKS available")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	h.writeDiscovery(w, publicJWKS, DefaultJWKSCacheMaxAge)
}

func (h *Handler) writeDiscovery(w http.ResponseWriter, v any, maxAge int) {
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	writeJSON(w, h.logger, http.StatusOK, v)
}

// DocsHandler handles GET /docs, the resource documentation page advertised
// in the protected resource metadata.
func (h *Handler) DocsHandler(w http.ResponseWriter, _ *http.Request) {
	md := h.authorizer.AuthorizationServerMetadata()

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", h.authorizer.ProtectedResourceMetadata().ResourceName)
	fmt.Fprintf(&b, "Issuer:                 %s\n", md.Issuer)
	fmt.Fprintf(&b, "Authorization endpoint: %s\n", md.AuthorizationEndpoint)
	fmt.Fprintf(&b, "Token endpoint:         %s\n", md.TokenEndpoint)
	fmt.Fprintf(&b, "Registration endpoint:  %s\n", md.RegistrationEndpoint)
	fmt.Fprintf(&b, "Revocation endpoint:    %s\n", md.RevocationEndpoint)
	fmt.Fprintf(&b, "Metadata:               %s%s\n", md.Issuer, authserver.PathAuthorizationServerMetadata)
	b.WriteString("\nClients must use the authorization code grant with PKCE (S256).\n")

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write([]byte(b.String()))
}
