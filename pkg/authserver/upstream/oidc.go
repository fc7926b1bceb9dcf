// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

var defaultOIDCScopes = []string{oidc.ScopeOpenID, "profile", "email"}

// discoveryDocument holds the discovery fields go-oidc does not surface.
type discoveryDocument struct {
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	UserinfoEndpoint              string   `json:"userinfo_endpoint"`
	JWKSURI                       string   `json:"jwks_uri"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
}

// OIDCProvider implements Bridge for OpenID Connect providers. Endpoints
// come from discovery and the subject from a verified ID token.
type OIDCProvider struct {
	config        *Config
	oauth2Config  *oauth2.Config
	verifier      *oidc.IDTokenVerifier
	httpClient    *http.Client
	pkceSupported bool
}

// NewOIDCProvider performs discovery against config.Issuer and returns a
// provider configured from the discovered endpoints.
func NewOIDCProvider(ctx context.Context, config *Config, opts ...ProviderOption) (*OIDCProvider, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Type != ProviderTypeOIDC {
		return nil, fmt.Errorf("config.Type must be %q, got %q", ProviderTypeOIDC, config.Type)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := newProviderOptions(opts)

	slog.Debug("creating OIDC provider",
		"issuer", config.Issuer,
		"client_id", config.ClientID,
	)

	scopes := config.Scopes
	if len(scopes) == 0 {
		scopes = defaultOIDCScopes
	}
	// Without openid the upstream returns no ID token to resolve identity from.
	if !slices.Contains(scopes, oidc.ScopeOpenID) {
		return nil, errors.New("openid scope is required for OIDC provider; use an oauth2 provider for pure OAuth 2.0 flows")
	}

	ctx = oidc.ClientContext(ctx, o.httpClient)
	provider, err := oidc.NewProvider(ctx, config.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC endpoints: %w", err)
	}

	var doc discoveryDocument
	if err := provider.Claims(&doc); err != nil {
		return nil, fmt.Errorf("failed to extract provider claims: %w", err)
	}
	if err := validateDiscoveryDocument(&doc, config.Issuer); err != nil {
		return nil, fmt.Errorf("invalid discovery document: %w", err)
	}

	p := &OIDCProvider{
		config:        config,
		oauth2Config:  newOAuth2Config(config, provider.Endpoint(), scopes),
		httpClient:    o.httpClient,
		pkceSupported: slices.Contains(doc.CodeChallengeMethodsSupported, PKCEChallengeMethodS256),
		verifier: provider.Verifier(&oidc.Config{
			ClientID: config.ClientID,
			Now:      o.now,
		}),
	}

	slog.Debug("OIDC provider created",
		"issuer", config.Issuer,
		"pkce_supported", p.pkceSupported,
	)
	return p, nil
}

// Type returns the provider type.
func (*OIDCProvider) Type() ProviderType {
	return ProviderTypeOIDC
}

// AuthorizationURL builds the URL to redirect the user to the upstream IDP.
func (p *OIDCProvider) AuthorizationURL(params AuthorizationParams) (string, error) {
	slog.Debug("building authorization URL",
		"authorization_endpoint", p.oauth2Config.Endpoint.AuthURL,
		"has_pkce", params.CodeChallenge != "",
		"has_nonce", params.Nonce != "",
	)
	if params.CodeChallenge != "" && !p.pkceSupported {
		slog.Debug("sending PKCE to provider that does not advertise S256 support")
	}
	if params.Scope != "" {
		params.Scope = withOpenIDScope(params.Scope)
	}
	return buildAuthorizationURL(p.oauth2Config, params, p.config.ForceConsentScreen)
}

// withOpenIDScope prepends openid to a space-separated scope list that
// lacks it; without openid the provider returns no ID token.
func withOpenIDScope(scope string) string {
	if slices.Contains(strings.Fields(scope), oidc.ScopeOpenID) {
		return scope
	}
	return oidc.ScopeOpenID + " " + scope
}

// ExchangeCode exchanges the code and verifies the returned ID token,
// including the nonce when one was sent.
func (p *OIDCProvider) ExchangeCode(ctx context.Context, code, codeVerifier, nonce string) (*Identity, error) {
	tokens, err := exchangeCode(ctx, p.oauth2Config, p.httpClient, code, codeVerifier)
	if err != nil {
		return nil, err
	}

	// OIDC Core 3.1.3.3: the ID token must be present.
	if tokens.IDToken == "" {
		return nil, fmt.Errorf("%w: ID token required for OIDC provider", ErrIdentityResolutionFailed)
	}

	idToken, err := p.verifyIDToken(ctx, tokens.IDToken, nonce)
	if err != nil {
		slog.Debug("ID token validation failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrIdentityResolutionFailed, err)
	}

	slog.Debug("authorization code exchange successful",
		"has_refresh_token", tokens.RefreshToken != "",
		"expires_at", tokens.ExpiresAt.Format(time.RFC3339),
	)
	return &Identity{Tokens: tokens, Subject: idToken.Subject}, nil
}

func (p *OIDCProvider) verifyIDToken(ctx context.Context, rawIDToken, nonce string) (*oidc.IDToken, error) {
	ctx = oidc.ClientContext(ctx, p.httpClient)
	token, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}
	if nonce != "" {
		if token.Nonce == "" {
			return nil, ErrNonceMissing
		}
		if token.Nonce != nonce {
			return nil, ErrNonceMismatch
		}
	}
	if token.Subject == "" {
		return nil, errors.New("ID token has no subject")
	}
	return token, nil
}

// validateDiscoveryDocument checks endpoint schemes. go-oidc already checks
// that the document's issuer matches.
func validateDiscoveryDocument(doc *discoveryDocument, issuer string) error {
	if doc.AuthorizationEndpoint == "" {
		return errors.New("authorization_endpoint is missing")
	}
	if doc.TokenEndpoint == "" {
		return errors.New("token_endpoint is missing")
	}
	if doc.JWKSURI == "" {
		return errors.New("jwks_uri is missing")
	}

	endpoints := []struct{ name, value string }{
		{"authorization_endpoint", doc.AuthorizationEndpoint},
		{"token_endpoint", doc.TokenEndpoint},
		{"jwks_uri", doc.JWKSURI},
		{"userinfo_endpoint", doc.UserinfoEndpoint},
	}
	for _, e := range endpoints {
		if e.value == "" {
			continue
		}
		if err := validateEndpointOrigin(e.value, issuer); err != nil {
			return fmt.Errorf("%s origin mismatch: %w", e.name, err)
		}
	}
	return nil
}

// validateEndpointOrigin enforces scheme consistency with the issuer.
// Hosts are not compared: major providers serve endpoints from other hosts
// than their issuer, and the document itself came over TLS from the issuer.
func validateEndpointOrigin(endpoint, issuer string) error {
	endpointURL, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint URL: %w", err)
	}
	issuerURL, err := url.Parse(issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	if isLocalhost(issuerURL.Host) {
		if !isLocalhost(endpointURL.Host) {
			return fmt.Errorf("host mismatch: issuer is localhost but endpoint host is %q", endpointURL.Host)
		}
		return nil
	}
	if endpointURL.Scheme != httpsScheme {
		return fmt.Errorf("scheme mismatch: issuer uses HTTPS but endpoint uses %q", endpointURL.Scheme)
	}
	return nil
}

// Compile-time interface compliance check.
var _ Bridge = (*OIDCProvider)(nil)
