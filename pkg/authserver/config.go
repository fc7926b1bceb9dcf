// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/stacklok/toolhive-authbroker/pkg/networking"
)

// Endpoint paths served by the broker, relative to Config.BaseURL.
const (
	PathAuthorizationServerMetadata = "/.well-known/oauth-authorization-server"
	PathProtectedResourceMetadata   = "/.well-known/oauth-protected-resource"
	PathJWKS                        = "/.well-known/jwks.json"
	PathRegister                    = "/oauth/register"
	PathAuthorize                   = "/oauth/authorize"
	PathCallback                    = "/oauth/callback"
	PathToken                       = "/oauth/token"
	PathRevoke                      = "/oauth/revoke"
	PathIntrospect                  = "/oauth/introspect"
	PathStats                       = "/oauth/stats"
	PathDocs                        = "/docs"
)

// Defaults applied to unset Config fields.
const (
	DefaultServerName      = "thv-authbroker"
	DefaultScope           = "openid profile email"
	DefaultSessionTTL      = 10 * time.Minute
	DefaultAuthCodeTTL     = 10 * time.Minute
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// DefaultScopesSupported are advertised when Config.ScopesSupported is empty.
var DefaultScopesSupported = []string{"openid", "profile", "email"}

// Config is the immutable configuration of the authorization core.
// All values must be fully resolved (no file paths, no env vars).
type Config struct {
	// Issuer is the issuer identifier, used as the iss claim and as the
	// protected resource identifier.
	Issuer string

	// BaseURL is the externally visible base for endpoint URLs.
	// Defaults to Issuer.
	BaseURL string

	// ServerName is advertised as resource_name.
	ServerName string

	// CallbackURL is the fixed callback given to the upstream IdP.
	// Defaults to BaseURL + PathCallback.
	CallbackURL string

	// Audience is the aud claim of issued tokens. Defaults to Issuer.
	Audience string

	// DefaultScope is used when a request omits scope.
	DefaultScope string

	// ScopesSupported is advertised in the server metadata.
	ScopesSupported []string

	// SessionTTL bounds pending authorization and upstream sessions.
	SessionTTL time.Duration

	// AuthCodeTTL bounds local authorization codes.
	AuthCodeTTL time.Duration

	// AccessTokenTTL is the access token lifetime and expires_in.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is the refresh token lifetime.
	RefreshTokenTTL time.Duration

	// OperationTimeout, when positive, bounds every operation on top of the
	// caller's deadline.
	OperationTimeout time.Duration

	// AllowImplicitRegistration registers unknown clients on their first
	// authorization request instead of rejecting them.
	AllowImplicitRegistration bool

	// RotateRefreshTokens issues a new refresh token on every refresh grant.
	RotateRefreshTokens bool
}

// Validate checks that the Config is usable. Unset optional fields are
// accepted; New fills them with defaults.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if err := validateIssuer(c.Issuer); err != nil {
		return fmt.Errorf("invalid issuer: %w", err)
	}
	if c.BaseURL != "" {
		if err := validateAbsoluteURL(c.BaseURL); err != nil {
			return fmt.Errorf("invalid base_url: %w", err)
		}
	}
	if c.CallbackURL != "" {
		if err := validateAbsoluteURL(c.CallbackURL); err != nil {
			return fmt.Errorf("invalid callback_url: %w", err)
		}
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"session_ttl", c.SessionTTL},
		{"auth_code_ttl", c.AuthCodeTTL},
		{"access_token_ttl", c.AccessTokenTTL},
		{"refresh_token_ttl", c.RefreshTokenTTL},
		{"operation_timeout", c.OperationTimeout},
	}
	for _, d := range durations {
		if d.value < 0 {
			return fmt.Errorf("%s must not be negative", d.name)
		}
	}
	return nil
}

// Resolved returns a copy of c with unset fields defaulted the way New
// applies them.
func (c Config) Resolved() Config {
	return c.withDefaults()
}

// withDefaults returns a copy of c with unset fields defaulted.
func (c Config) withDefaults() Config {
	c.Issuer = strings.TrimSuffix(c.Issuer, "/")
	if c.BaseURL == "" {
		c.BaseURL = c.Issuer
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	if c.ServerName == "" {
		c.ServerName = DefaultServerName
	}
	if c.CallbackURL == "" {
		c.CallbackURL = c.BaseURL + PathCallback
	}
	if c.Audience == "" {
		c.Audience = c.Issuer
	}
	if c.DefaultScope == "" {
		c.DefaultScope = DefaultScope
	}
	if len(c.ScopesSupported) == 0 {
		c.ScopesSupported = DefaultScopesSupported
	}
	c.ScopesSupported = slices.Clone(c.ScopesSupported)
	if c.SessionTTL == 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.AuthCodeTTL == 0 {
		c.AuthCodeTTL = DefaultAuthCodeTTL
	}
	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	return c
}

func (c *Config) endpoint(path string) string {
	return c.BaseURL + path
}

// validateIssuer applies RFC 8414 Section 2: https (http only for
// loopback), no query and no fragment.
func validateIssuer(issuer string) error {
	if err := validateAbsoluteURL(issuer); err != nil {
		return err
	}
	u, _ := url.Parse(issuer)
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("must not contain a query or fragment")
	}
	if u.Scheme == "http" && !networking.IsLoopbackHost(u.Hostname()) {
		return fmt.Errorf("must use https for non-loopback host %q", u.Hostname())
	}
	return nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
