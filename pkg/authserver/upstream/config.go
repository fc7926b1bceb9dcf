// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/stacklok/toolhive-authbroker/pkg/networking"
)

const (
	httpScheme  = "http"
	httpsScheme = "https"

	defaultHTTPTimeout = 30 * time.Second

	// maxResponseSize bounds upstream response bodies read into memory.
	maxResponseSize = 1 << 20
)

// Config configures an upstream provider.
type Config struct {
	// Type selects the provider implementation.
	Type ProviderType

	// Issuer is the OIDC issuer URL. Endpoints are discovered from
	// {Issuer}/.well-known/openid-configuration. OIDC only.
	Issuer string

	// ClientID and ClientSecret are the broker's credentials at the upstream.
	ClientID     string
	ClientSecret string

	// RedirectURI is the broker's fixed callback URL.
	RedirectURI string

	// Scopes requested upstream. OIDC providers default to
	// openid, profile and email.
	Scopes []string

	// AuthorizationEndpoint and TokenEndpoint are required for OAuth2
	// providers and ignored for OIDC.
	AuthorizationEndpoint string
	TokenEndpoint         string

	// UserInfo resolves the subject for OAuth2 providers.
	UserInfo *UserInfoConfig

	// ForceConsentScreen adds prompt=consent to authorization requests.
	ForceConsentScreen bool
}

// Validate checks that Config has all required fields for its Type.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return errors.New("client_id is required")
	}
	if c.RedirectURI == "" {
		return errors.New("redirect_uri is required")
	}
	if err := validateEndpointURL(c.RedirectURI); err != nil {
		return fmt.Errorf("invalid redirect_uri: %w", err)
	}

	switch c.Type {
	case ProviderTypeOIDC:
		if c.Issuer == "" {
			return errors.New("issuer is required for OIDC providers")
		}
		if err := validateEndpointURL(c.Issuer); err != nil {
			return fmt.Errorf("invalid issuer URL: %w", err)
		}
	case ProviderTypeOAuth2:
		if c.AuthorizationEndpoint == "" {
			return errors.New("authorization_endpoint is required for OAuth2 providers")
		}
		if err := validateEndpointURL(c.AuthorizationEndpoint); err != nil {
			return fmt.Errorf("invalid authorization_endpoint: %w", err)
		}
		if c.TokenEndpoint == "" {
			return errors.New("token_endpoint is required for OAuth2 providers")
		}
		if err := validateEndpointURL(c.TokenEndpoint); err != nil {
			return fmt.Errorf("invalid token_endpoint: %w", err)
		}
		if c.UserInfo == nil {
			return errors.New("userinfo is required for OAuth2 providers")
		}
		if err := c.UserInfo.Validate(); err != nil {
			return fmt.Errorf("invalid userinfo config: %w", err)
		}
	default:
		return fmt.Errorf("unknown provider type: %q (must be %q or %q)",
			c.Type, ProviderTypeOIDC, ProviderTypeOAuth2)
	}
	return nil
}

// ProviderOption configures a provider.
type ProviderOption func(*providerOptions)

type providerOptions struct {
	httpClient *http.Client
	now        func() time.Time
}

// WithHTTPClient sets the HTTP client used for discovery, token and
// userinfo requests.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(o *providerOptions) {
		o.httpClient = client
	}
}

// WithClock overrides the clock used for ID token expiry checks.
func WithClock(now func() time.Time) ProviderOption {
	return func(o *providerOptions) {
		o.now = now
	}
}

func newProviderOptions(opts []ProviderOption) providerOptions {
	o := providerOptions{
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewProvider creates the provider selected by config.Type.
func NewProvider(ctx context.Context, config *Config, opts ...ProviderOption) (Bridge, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid provider config: %w", err)
	}

	switch config.Type {
	case ProviderTypeOIDC:
		p, err := NewOIDCProvider(ctx, config, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		p, err := NewOAuth2Provider(config, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// validateEndpointURL requires an absolute URL. HTTPS is required except
// for loopback hosts.
func validateEndpointURL(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return errors.New("must be an absolute URL with scheme and host")
	}
	switch u.Scheme {
	case httpsScheme:
		return nil
	case httpScheme:
		if isLocalhost(u.Host) {
			return nil
		}
		return fmt.Errorf("must use https for non-localhost host %q", u.Hostname())
	default:
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
}

// isLocalhost reports whether hostport names a loopback host.
func isLocalhost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	return networking.IsLoopbackHost(host)
}
