// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package upstream bridges the authorization broker to the identity provider
// that actually authenticates users.
//
// The broker never sees user credentials. Authorize redirects the browser to
// the upstream login page through a Bridge, and the upstream callback hands
// the upstream authorization code back to the Bridge to be exchanged for
// tokens and a stable subject identifier.
//
// # Providers
//
//	Bridge (interface)
//	    ├── OAuth2Provider (explicit endpoints, subject from a userinfo endpoint)
//	    └── OIDCProvider   (discovery, subject from a verified ID token)
//
// NewProvider picks the implementation from Config.Type.
//
// # PKCE
//
// The upstream leg is always protected by PKCE. The broker generates a
// verifier per authorization request with GenerateCodeVerifier, sends the
// S256 challenge in the upstream authorization URL and presents the verifier
// on exchange. This binding is independent of any challenge supplied by the
// downstream client.
//
// # Usage
//
//	provider, err := upstream.NewProvider(ctx, &upstream.Config{
//	    Type:         upstream.ProviderTypeOIDC,
//	    Issuer:       "https://accounts.example.com",
//	    ClientID:     "broker",
//	    ClientSecret: secret,
//	    RedirectURI:  "https://broker.example.com/oauth/callback",
//	})
//
//	verifier := upstream.GenerateCodeVerifier()
//	authURL, err := provider.AuthorizationURL(upstream.AuthorizationParams{
//	    State:         upstream.GenerateState(),
//	    CodeChallenge: upstream.ComputeCodeChallenge(verifier),
//	    Nonce:         nonce,
//	})
//
//	// After the callback:
//	identity, err := provider.ExchangeCode(ctx, code, verifier, nonce)
package upstream
