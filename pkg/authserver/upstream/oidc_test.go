// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockOIDCServer is a discovery-capable OIDC provider issuing RS256 ID tokens.
type mockOIDCServer struct {
	*httptest.Server
	issuer     string
	privateKey *rsa.PrivateKey
	keyID      string

	mu          sync.Mutex
	idTokenFunc func(form url.Values) string
	discovery   map[string]any
}

func newMockOIDCServer(t *testing.T) *mockOIDCServer {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	m := &mockOIDCServer{privateKey: privateKey, keyID: "test-key-1"}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", m.handleDiscovery)
	mux.HandleFunc("/token", m.handleToken)
	mux.HandleFunc("/jwks", m.handleJWKS)
	m.Server = httptest.NewServer(mux)
	m.issuer = m.URL
	t.Cleanup(m.Close)
	return m
}

func (m *mockOIDCServer) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	doc := m.discovery
	m.mu.Unlock()
	if doc == nil {
		doc = map[string]any{
			"issuer":                                m.issuer,
			"authorization_endpoint":                m.issuer + "/authorize",
			"token_endpoint":                        m.issuer + "/token",
			"jwks_uri":                              m.issuer + "/jwks",
			"code_challenge_methods_supported":      []string{"S256"},
			"response_types_supported":              []string{"code"},
			"subject_types_supported":               []string{"public"},
			"id_token_signing_alg_values_supported": []string{"RS256"},
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (m *mockOIDCServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := map[string]any{
		"access_token":  "upstream-access",
		"token_type":    "Bearer",
		"refresh_token": "upstream-refresh",
		"expires_in":    3600,
	}
	m.mu.Lock()
	if m.idTokenFunc != nil {
		resp["id_token"] = m.idTokenFunc(r.PostForm)
	}
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (m *mockOIDCServer) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	jwks := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &m.privateKey.PublicKey,
		KeyID:     m.keyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(jwks)
}

func (m *mockOIDCServer) signIDToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	opts := (&jose.SignerOptions{}).WithHeader("kid", m.keyID)
	sig, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.RS256, Key: m.privateKey}, opts)
	require.NoError(t, err)
	token, err := jwt.Signed(sig).Claims(claims).Serialize()
	require.NoError(t, err)
	return token
}

func (m *mockOIDCServer) idTokenClaims(nonce string) map[string]any {
	claims := map[string]any{
		"iss": m.issuer,
		"sub": "user-123",
		"aud": testClientID,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	return claims
}

func (m *mockOIDCServer) config() *Config {
	return &Config{
		Type:         ProviderTypeOIDC,
		Issuer:       m.issuer,
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURI:  testRedirectURI,
	}
}

func TestNewOIDCProvider(t *testing.T) {
	t.Parallel()

	t.Run("config validation errors", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			name    string
			config  *Config
			wantErr string
		}{
			{"nil config", nil, "config is required"},
			{"wrong type", validOAuth2Config(), "config.Type must be"},
			{"missing issuer", &Config{Type: ProviderTypeOIDC, ClientID: testClientID, RedirectURI: testRedirectURI}, "issuer is required"},
			{"openid scope missing", &Config{
				Type: ProviderTypeOIDC, Issuer: "https://accounts.example.com", ClientID: testClientID,
				RedirectURI: testRedirectURI, Scopes: []string{"profile"},
			}, "openid scope is required"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()
				_, err := NewOIDCProvider(t.Context(), tt.config)
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			})
		}
	})

	t.Run("discovery succeeds with default scopes", func(t *testing.T) {
		t.Parallel()
		server := newMockOIDCServer(t)

		p, err := NewOIDCProvider(t.Context(), server.config(), WithHTTPClient(server.Client()))
		require.NoError(t, err)
		assert.Equal(t, ProviderTypeOIDC, p.Type())
		assert.True(t, p.pkceSupported)

		raw, err := p.AuthorizationURL(AuthorizationParams{State: "s", Nonce: "n"})
		require.NoError(t, err)
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, server.issuer+"/authorize", u.Scheme+"://"+u.Host+u.Path)
		assert.Equal(t, "openid profile email", u.Query().Get("scope"))
		assert.Equal(t, "n", u.Query().Get("nonce"))

		raw, err = p.AuthorizationURL(AuthorizationParams{State: "s", Scope: "profile mcp:tools"})
		require.NoError(t, err)
		u, err = url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "openid profile mcp:tools", u.Query().Get("scope"))

		raw, err = p.AuthorizationURL(AuthorizationParams{State: "s", Scope: "email openid"})
		require.NoError(t, err)
		u, err = url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "email openid", u.Query().Get("scope"))
	})

	t.Run("discovery failure", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		t.Cleanup(server.Close)

		cfg := &Config{Type: ProviderTypeOIDC, Issuer: server.URL, ClientID: testClientID, RedirectURI: testRedirectURI}
		_, err := NewOIDCProvider(t.Context(), cfg, WithHTTPClient(server.Client()))
		assert.ErrorContains(t, err, "failed to discover OIDC endpoints")
	})

	t.Run("issuer mismatch", func(t *testing.T) {
		t.Parallel()
		server := newMockOIDCServer(t)
		server.discovery = map[string]any{
			"issuer":                 "https://wrong-issuer.example.com",
			"authorization_endpoint": "https://wrong-issuer.example.com/authorize",
			"token_endpoint":         "https://wrong-issuer.example.com/token",
			"jwks_uri":               "https://wrong-issuer.example.com/jwks",
		}
		_, err := NewOIDCProvider(t.Context(), server.config(), WithHTTPClient(server.Client()))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "issuer")
	})

	t.Run("non-localhost endpoint for localhost issuer", func(t *testing.T) {
		t.Parallel()
		server := newMockOIDCServer(t)
		server.discovery = map[string]any{
			"issuer":                 server.issuer,
			"authorization_endpoint": server.issuer + "/authorize",
			"token_endpoint":         "https://attacker.example.com/token",
			"jwks_uri":               server.issuer + "/jwks",
		}
		_, err := NewOIDCProvider(t.Context(), server.config(), WithHTTPClient(server.Client()))
		assert.ErrorContains(t, err, "token_endpoint origin mismatch")
	})
}

func TestOIDCProvider_ExchangeCode(t *testing.T) {
	t.Parallel()

	t.Run("valid ID token with nonce", func(t *testing.T) {
		t.Parallel()
		server := newMockOIDCServer(t)
		server.idTokenFunc = func(url.Values) string {
			return server.signIDToken(t, server.idTokenClaims("nonce-1"))
		}
		p, err := NewOIDCProvider(t.Context(), server.config(), WithHTTPClient(server.Client()))
		require.NoError(t, err)

		identity, err := p.ExchangeCode(t.Context(), "code", GenerateCodeVerifier(), "nonce-1")
		require.NoError(t, err)
		assert.Equal(t, "user-123", identity.Subject)
		assert.Equal(t, "upstream-access", identity.Tokens.AccessToken)
		assert.NotEmpty(t, identity.Tokens.IDToken)
	})

	t.Run("nonce mismatch", func(t *testing.T) {
		t.Parallel()
		server := newMockOIDCServer(t)
		server.idTokenFunc = func(url.Values) string {
			return server.signIDToken(t, server.idTokenClaims("other"))
		}
		p, err := NewOIDCProvider(t.Context(), server.config(), WithHTTPClient(server.Client()))
		require.NoError(t, err)

		_, err = p.ExchangeCode(t.Context(), "code", "", "nonce-1")
		require.ErrorIs(t, err, ErrIdentityResolutionFailed)
		assert.ErrorIs(t, err, ErrNonceMismatch)
	})

	t.Run("nonce missing", func(t *testing.T) {
		t.Parallel()
		server := newMockOIDCServer(t)
		server.idTokenFunc = func(url.Values) string {
			return server.signIDToken(t, server.idTokenClaims(""))
		}
		p, err := NewOIDCProvider(t.Context(), server.config(), WithHTTPClient(server.Client()))
		require.NoError(t, err)

		_, err = p.ExchangeCode(t.Context(), "code", "", "nonce-1")
		assert.ErrorIs(t, err, ErrNonceMissing)
	})

	t.Run("no ID token", func(t *testing.T) {
		t.Parallel()
		server := newMockOIDCServer(t)
		p, err := NewOIDCProvider(t.Context(), server.config(), WithHTTPClient(server.Client()))
		require.NoError(t, err)

		_, err = p.ExchangeCode(t.Context(), "code", "", "")
		require.ErrorIs(t, err, ErrIdentityResolutionFailed)
		assert.Contains(t, err.Error(), "ID token required")
	})

	t.Run("wrong audience", func(t *testing.T) {
		t.Parallel()
		server := newMockOIDCServer(t)
		server.idTokenFunc = func(url.Values) string {
			claims := server.idTokenClaims("")
			claims["aud"] = "someone-else"
			return server.signIDToken(t, claims)
		}
		p, err := NewOIDCProvider(t.Context(), server.config(), WithHTTPClient(server.Client()))
		require.NoError(t, err)

		_, err = p.ExchangeCode(t.Context(), "code", "", "")
		assert.ErrorIs(t, err, ErrIdentityResolutionFailed)
	})

	t.Run("expired ID token", func(t *testing.T) {
		t.Parallel()
		server := newMockOIDCServer(t)
		server.idTokenFunc = func(url.Values) string {
			return server.signIDToken(t, server.idTokenClaims(""))
		}
		later := func() time.Time { return time.Now().Add(2 * time.Hour) }
		p, err := NewOIDCProvider(t.Context(), server.config(), WithHTTPClient(server.Client()), WithClock(later))
		require.NoError(t, err)

		_, err = p.ExchangeCode(t.Context(), "code", "", "")
		require.ErrorIs(t, err, ErrIdentityResolutionFailed)
		assert.Contains(t, err.Error(), "expired")
	})
}
