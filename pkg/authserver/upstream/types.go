// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

//go:generate mockgen -destination=mocks/mock_bridge.go -package=mocks -source=types.go Bridge

import (
	"context"
	"errors"
	"time"
)

// ProviderType identifies the type of upstream Identity Provider.
type ProviderType string

const (
	// ProviderTypeOIDC is for OpenID Connect providers that support discovery.
	ProviderTypeOIDC ProviderType = "oidc"
	// ProviderTypeOAuth2 is for pure OAuth 2.0 providers with explicit endpoints.
	ProviderTypeOAuth2 ProviderType = "oauth2"
)

var (
	// ErrTokenExchangeFailed is returned when the upstream token endpoint
	// rejects the code or cannot be reached.
	ErrTokenExchangeFailed = errors.New("upstream token exchange failed")

	// ErrIdentityResolutionFailed is returned when no subject can be
	// established for the exchanged tokens.
	ErrIdentityResolutionFailed = errors.New("failed to resolve upstream identity")

	// ErrNonceMismatch is returned when the nonce claim in the ID token does
	// not match the nonce sent in the authorization request.
	ErrNonceMismatch = errors.New("ID token nonce does not match expected value")

	// ErrNonceMissing is returned when a nonce was sent but the ID token
	// carries none.
	ErrNonceMissing = errors.New("ID token missing nonce claim when nonce was expected")
)

// Tokens represents the tokens obtained from an upstream Identity Provider.
type Tokens struct {
	// AccessToken is the access token from the upstream IDP.
	AccessToken string

	// RefreshToken is the refresh token from the upstream IDP (if provided).
	RefreshToken string

	// IDToken is the ID token from the upstream IDP (for OIDC).
	IDToken string

	// ExpiresAt is when the access token expires. Zero when the provider
	// did not report an expiry.
	ExpiresAt time.Time
}

// Identity is the result of a successful code exchange.
type Identity struct {
	Tokens *Tokens

	// Subject is the canonical upstream user identifier.
	Subject string
}

// AuthorizationParams are the per-request inputs to an upstream
// authorization URL.
type AuthorizationParams struct {
	// RedirectURI is the broker's callback. It must match the provider's
	// configured redirect URI; empty uses the configured one.
	RedirectURI string

	// State correlates the upstream callback with the pending session.
	State string

	// CodeChallenge is the S256 challenge for the upstream PKCE leg.
	CodeChallenge string

	// Scope overrides the configured upstream scopes when non-empty.
	Scope string

	// Nonce is sent to OIDC providers and checked in the ID token.
	Nonce string
}

// Bridge is the broker's view of the upstream Identity Provider.
type Bridge interface {
	// Type returns the provider type.
	Type() ProviderType

	// AuthorizationURL builds the URL the browser is redirected to for
	// upstream authentication.
	AuthorizationURL(params AuthorizationParams) (string, error)

	// ExchangeCode exchanges an upstream authorization code for tokens and
	// resolves the user's subject.
	ExchangeCode(ctx context.Context, code, codeVerifier, nonce string) (*Identity, error)
}
