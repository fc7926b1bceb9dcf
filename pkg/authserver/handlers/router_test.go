// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/toolhive-authbroker/pkg/authserver"
	"github.com/stacklok/toolhive-authbroker/pkg/authserver/signer"
	"github.com/stacklok/toolhive-authbroker/pkg/authserver/storage"
	"github.com/stacklok/toolhive-authbroker/pkg/authserver/upstream"
	upstreammocks "github.com/stacklok/toolhive-authbroker/pkg/authserver/upstream/mocks"
)

// newServiceRouter serves a real Service backed by memory storage and HMAC
// signing. Only the upstream IdP is mocked.
func newServiceRouter(t *testing.T) http.Handler {
	t.Helper()

	ctrl := gomock.NewController(t)
	bridge := upstreammocks.NewMockBridge(ctrl)
	bridge.EXPECT().Type().Return(upstream.ProviderTypeOIDC).AnyTimes()
	bridge.EXPECT().AuthorizationURL(gomock.Any()).DoAndReturn(
		func(p upstream.AuthorizationParams) (string, error) {
			return "https://idp.example.com/authorize?" + url.Values{"state": {p.State}}.Encode(), nil
		}).AnyTimes()
	bridge.EXPECT().ExchangeCode(gomock.Any(), "upstream-code", gomock.Any(), gomock.Any()).Return(
		&upstream.Identity{
			Subject: "user-1",
			Tokens:  &upstream.Tokens{AccessToken: "upstream-access"},
		}, nil).AnyTimes()

	store := storage.NewMemoryStorage(storage.WithCleanupInterval(0))
	t.Cleanup(func() { _ = store.Close() })

	sign, err := signer.NewHMACSigner([]byte("0123456789abcdef0123456789abcdef"), testIssuer)
	require.NoError(t, err)

	svc, err := authserver.New(authserver.Config{Issuer: testIssuer}, store, sign, bridge,
		authserver.WithLogger(discardLogger()),
		authserver.WithSecretHashCost(bcrypt.MinCost),
	)
	require.NoError(t, err)

	return NewRouter(svc, Options{Logger: discardLogger(), RegisterRateLimit: -1})
}

func locationParam(t *testing.T, rec *httptest.ResponseRecorder, key string) string {
	t.Helper()
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	u, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return u.Query().Get(key)
}

func TestRouter_AuthorizationCodeFlow(t *testing.T) {
	t.Parallel()

	router := newServiceRouter(t)

	// Register.
	req := httptest.NewRequest(http.MethodPost, authserver.PathRegister,
		strings.NewReader(`{"redirect_uris":["`+testRedirectURI+`"],"client_name":"flow"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(router, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var client authserver.RegisterClientResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &client))
	require.NotEmpty(t, client.ClientSecret)

	// Authorize, then the upstream callback.
	verifier := upstream.GenerateCodeVerifier()
	q := url.Values{
		"client_id":             {client.ClientID},
		"redirect_uri":          {testRedirectURI},
		"response_type":         {"code"},
		"state":                 {"client-state"},
		"code_challenge":        {upstream.ComputeCodeChallenge(verifier)},
		"code_challenge_method": {"S256"},
	}
	rec = serve(router, httptest.NewRequest(http.MethodGet, authserver.PathAuthorize+"?"+q.Encode(), nil))
	upstreamState := locationParam(t, rec, "state")
	require.NotEmpty(t, upstreamState)

	cb := url.Values{"code": {"upstream-code"}, "state": {upstreamState}}
	rec = serve(router, httptest.NewRequest(http.MethodGet, authserver.PathCallback+"?"+cb.Encode(), nil))
	assert.Equal(t, "client-state", locationParam(t, rec, "state"))
	code := locationParam(t, rec, "code")
	require.NotEmpty(t, code)

	// Redeem.
	rec = serve(router, formRequest(authserver.PathToken, url.Values{
		"grant_type":    {authserver.GrantTypeAuthorizationCode},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"client_id":     {client.ClientID},
		"client_secret": {client.ClientSecret},
		"code_verifier": {verifier},
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tokens authserver.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	require.NotEmpty(t, tokens.AccessToken)
	assert.Equal(t, authserver.TokenTypeBearer, tokens.TokenType)

	// The code is single use.
	rec = serve(router, formRequest(authserver.PathToken, url.Values{
		"grant_type":    {authserver.GrantTypeAuthorizationCode},
		"code":          {code},
		"client_id":     {client.ClientID},
		"client_secret": {client.ClientSecret},
		"code_verifier": {verifier},
	}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decodeError(t, rec).Error)

	// The access token opens the stats endpoint.
	statsReq := httptest.NewRequest(http.MethodGet, authserver.PathStats, nil)
	statsReq.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	rec = serve(router, statsReq)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var stats storage.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Clients)
	assert.Equal(t, 1, stats.ActiveTokens)

	// Introspection reports it active until revoked.
	rec = serve(router, formRequest(authserver.PathIntrospect, url.Values{"token": {tokens.AccessToken}}))
	require.Equal(t, http.StatusOK, rec.Code)
	var intro introspectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &intro))
	assert.True(t, intro.Active)
	assert.Equal(t, client.ClientID, intro.ClientID)
	assert.Equal(t, "user-1", intro.Subject)

	rec = serve(router, formRequest(authserver.PathRevoke, url.Values{"token": {tokens.AccessToken}}))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, formRequest(authserver.PathIntrospect, url.Values{"token": {tokens.AccessToken}}))
	assert.JSONEq(t, `{"active":false}`, rec.Body.String())

	statsReq = httptest.NewRequest(http.MethodGet, authserver.PathStats, nil)
	statsReq.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	rec = serve(router, statsReq)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRouter_UnknownClient(t *testing.T) {
	t.Parallel()

	router := newServiceRouter(t)
	q := url.Values{
		"client_id":     {"mcp_unknown"},
		"redirect_uri":  {testRedirectURI},
		"response_type": {"code"},
	}
	rec := serve(router, httptest.NewRequest(http.MethodGet, authserver.PathAuthorize+"?"+q.Encode(), nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_client", decodeError(t, rec).Error)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	router := newServiceRouter(t)
	rec := serve(router, httptest.NewRequest(http.MethodGet, authserver.PathToken, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
