// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// OAuth2Provider implements Bridge for pure OAuth 2.0 providers with
// explicit endpoints. The subject is resolved from the userinfo endpoint.
type OAuth2Provider struct {
	config       *Config
	oauth2Config *oauth2.Config
	httpClient   *http.Client
}

// NewOAuth2Provider creates a pure OAuth 2.0 provider. The config must have
// Type set to ProviderTypeOAuth2.
func NewOAuth2Provider(config *Config, opts ...ProviderOption) (*OAuth2Provider, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Type != ProviderTypeOAuth2 {
		return nil, fmt.Errorf("config.Type must be %q, got %q", ProviderTypeOAuth2, config.Type)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := newProviderOptions(opts)

	slog.Debug("creating OAuth2 provider",
		"authorization_endpoint", config.AuthorizationEndpoint,
		"token_endpoint", config.TokenEndpoint,
		"client_id", config.ClientID,
	)

	return &OAuth2Provider{
		config:     config,
		httpClient: o.httpClient,
		oauth2Config: newOAuth2Config(config, oauth2.Endpoint{
			AuthURL:  config.AuthorizationEndpoint,
			TokenURL: config.TokenEndpoint,
		}, config.Scopes),
	}, nil
}

// Type returns the provider type.
func (*OAuth2Provider) Type() ProviderType {
	return ProviderTypeOAuth2
}

// AuthorizationURL builds the URL to redirect the user to the upstream IDP.
func (p *OAuth2Provider) AuthorizationURL(params AuthorizationParams) (string, error) {
	slog.Debug("building authorization URL",
		"authorization_endpoint", p.config.AuthorizationEndpoint,
		"has_pkce", params.CodeChallenge != "",
	)
	return buildAuthorizationURL(p.oauth2Config, params, p.config.ForceConsentScreen)
}

// ExchangeCode exchanges the code and resolves the subject from the
// userinfo endpoint. The nonce is ignored; OAuth2 providers issue no ID token.
func (p *OAuth2Provider) ExchangeCode(ctx context.Context, code, codeVerifier, _ string) (*Identity, error) {
	tokens, err := exchangeCode(ctx, p.oauth2Config, p.httpClient, code, codeVerifier)
	if err != nil {
		return nil, err
	}

	subject, err := fetchSubject(ctx, p.httpClient, p.config.UserInfo, tokens.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIdentityResolutionFailed, err)
	}

	slog.Debug("authorization code exchange successful",
		"has_refresh_token", tokens.RefreshToken != "",
		"expires_at", tokens.ExpiresAt.Format(time.RFC3339),
	)
	return &Identity{Tokens: tokens, Subject: subject}, nil
}

// newOAuth2Config builds the x/oauth2 configuration. Credentials are sent in
// the request body for consistent behavior across providers.
func newOAuth2Config(config *Config, endpoint oauth2.Endpoint, scopes []string) *oauth2.Config {
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	return &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		RedirectURL:  config.RedirectURI,
		Scopes:       scopes,
		Endpoint:     endpoint,
	}
}

// buildAuthorizationURL is shared by both providers.
func buildAuthorizationURL(cfg *oauth2.Config, params AuthorizationParams, forceConsent bool) (string, error) {
	if params.State == "" {
		return "", errors.New("state parameter is required")
	}
	if params.RedirectURI != "" && params.RedirectURI != cfg.RedirectURL {
		return "", fmt.Errorf("redirect URI %q does not match the configured callback", params.RedirectURI)
	}

	var opts []oauth2.AuthCodeOption
	// Per RFC 7636 Section 5, PKCE parameters are sent regardless of whether
	// the provider advertises support; providers that lack it ignore them.
	if params.CodeChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", params.CodeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", PKCEChallengeMethodS256),
		)
	}
	if params.Scope != "" {
		opts = append(opts, oauth2.SetAuthURLParam("scope", params.Scope))
	}
	if params.Nonce != "" {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", params.Nonce))
	}
	if forceConsent {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "consent"))
	}
	return cfg.AuthCodeURL(params.State, opts...), nil
}

// exchangeCode redeems an upstream authorization code at the token endpoint.
func exchangeCode(
	ctx context.Context, cfg *oauth2.Config, client *http.Client, code, codeVerifier string,
) (*Tokens, error) {
	if code == "" {
		return nil, errors.New("authorization code is required")
	}

	slog.Debug("exchanging authorization code for tokens",
		"token_endpoint", cfg.Endpoint.TokenURL,
		"has_pkce_verifier", codeVerifier != "",
	)

	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(codeVerifier))
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	token, err := cfg.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenExchangeFailed, err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: response has no access_token", ErrTokenExchangeFailed)
	}
	if tt := token.Type(); !strings.EqualFold(tt, "bearer") {
		return nil, fmt.Errorf("%w: unsupported token_type %q", ErrTokenExchangeFailed, tt)
	}

	tokens := &Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if idToken, ok := token.Extra("id_token").(string); ok {
		tokens.IDToken = idToken
	}
	return tokens, nil
}

// Compile-time interface compliance check.
var _ Bridge = (*OAuth2Provider)(nil)
