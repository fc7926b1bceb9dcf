// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-authbroker/pkg/authserver/signer"
	"github.com/stacklok/toolhive-authbroker/pkg/authserver/storage"
)

var testVerifier = strings.Repeat("v", 43)

func codeRequest(client *RegisterClientResponse, code string) TokenRequest {
	return TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		RedirectURI:  testRedirectURI,
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
	}
}

func refreshRequest(client *RegisterClientResponse, refreshToken string) TokenRequest {
	return TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		RefreshToken: refreshToken,
	}
}

func TestToken_AuthorizationCode(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.expectUpstream()
	client := env.register(t, RegisterClientRequest{})
	code := env.issueCode(t, client.ClientID, "")
	ctx := context.Background()

	resp, err := env.svc.Token(ctx, codeRequest(client, code))
	require.NoError(t, err)
	assert.Equal(t, TokenTypeBearer, resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, DefaultScope, resp.Scope)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotEqual(t, resp.AccessToken, resp.RefreshToken)

	record, err := env.store.GetToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeBearer, record.TokenType)
	assert.Equal(t, client.ClientID, record.ClientID)
	assert.Equal(t, testSubject, record.UserID)
	assert.Equal(t, resp.RefreshToken, record.RefreshToken)
	assert.Equal(t, "upstream-access", record.UpstreamAccessToken)
	assert.Equal(t, env.clock.Now().Add(DefaultAccessTokenTTL), record.ExpiresAt)
	assert.Equal(t, env.clock.Now().Add(DefaultRefreshTokenTTL), record.RefreshExpiresAt)
	assert.Empty(t, record.CodeChallenge)

	_, err = env.store.GetToken(ctx, code)
	require.ErrorIs(t, err, storage.ErrNotFound, "code must be consumed")

	// Codes are single use.
	_, err = env.svc.Token(ctx, codeRequest(client, code))
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestToken_AuthorizationCodeFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		challenge string
		mutate    func(req *TokenRequest, env *testEnv, t *testing.T)
		wantErr   error
	}{
		{
			name:    "missing client_id",
			mutate:  func(req *TokenRequest, _ *testEnv, _ *testing.T) { req.ClientID = "" },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "missing grant_type",
			mutate:  func(req *TokenRequest, _ *testEnv, _ *testing.T) { req.GrantType = "" },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "unsupported grant_type",
			mutate:  func(req *TokenRequest, _ *testEnv, _ *testing.T) { req.GrantType = "client_credentials" },
			wantErr: ErrUnsupportedGrantType,
		},
		{
			name:    "unknown client",
			mutate:  func(req *TokenRequest, _ *testEnv, _ *testing.T) { req.ClientID = "ghost" },
			wantErr: ErrClientNotFound,
		},
		{
			name:    "wrong secret without verifier",
			mutate:  func(req *TokenRequest, _ *testEnv, _ *testing.T) { req.ClientSecret = "wrong" },
			wantErr: ErrInvalidClientSecret,
		},
		{
			name: "wrong secret with verifier but code has no challenge",
			mutate: func(req *TokenRequest, _ *testEnv, _ *testing.T) {
				req.ClientSecret = "wrong"
				req.CodeVerifier = testVerifier
			},
			wantErr: ErrInvalidClientSecret,
		},
		{
			name:    "missing code",
			mutate:  func(req *TokenRequest, _ *testEnv, _ *testing.T) { req.Code = "" },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "unknown code",
			mutate:  func(req *TokenRequest, _ *testEnv, _ *testing.T) { req.Code = "deadbeef" },
			wantErr: ErrTokenNotFound,
		},
		{
			name: "expired code",
			mutate: func(_ *TokenRequest, env *testEnv, _ *testing.T) {
				env.clock.Advance(DefaultAuthCodeTTL + time.Second)
			},
			wantErr: ErrTokenNotFound,
		},
		{
			name: "code issued to another client",
			mutate: func(req *TokenRequest, env *testEnv, t *testing.T) {
				other := env.register(t, RegisterClientRequest{})
				req.ClientID = other.ClientID
				req.ClientSecret = other.ClientSecret
			},
			wantErr: ErrClientMismatch,
		},
		{
			name:    "redirect uri mismatch",
			mutate:  func(req *TokenRequest, _ *testEnv, _ *testing.T) { req.RedirectURI = "http://localhost:3000/other" },
			wantErr: ErrInvalidRedirectURI,
		},
		{
			name:      "challenge without verifier",
			challenge: testChallenge,
			mutate:    func(*TokenRequest, *testEnv, *testing.T) {},
			wantErr:   ErrInvalidCodeVerifier,
		},
		{
			name:      "wrong verifier",
			challenge: testChallenge,
			mutate: func(req *TokenRequest, _ *testEnv, _ *testing.T) {
				req.CodeVerifier = strings.Repeat("w", 43)
			},
			wantErr: ErrInvalidCodeVerifier,
		},
		{
			name:      "wrong secret and wrong verifier",
			challenge: testChallenge,
			mutate: func(req *TokenRequest, _ *testEnv, _ *testing.T) {
				req.ClientSecret = ""
				req.CodeVerifier = strings.Repeat("w", 43)
			},
			wantErr: ErrInvalidCodeVerifier,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, nil)
			env.expectUpstream()
			client := env.register(t, RegisterClientRequest{})
			code := env.issueCode(t, client.ClientID, tt.challenge)

			req := codeRequest(client, code)
			tt.mutate(&req, env, t)

			resp, err := env.svc.Token(context.Background(), req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, resp)

			// A failed redemption leaves the code in place unless it expired.
			if !errors.Is(err, ErrTokenNotFound) {
				_, err := env.store.GetToken(context.Background(), code)
				require.NoError(t, err)
			}
		})
	}
}

func TestToken_PKCEExemption(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *Config) { c.AllowImplicitRegistration = true })
	env.expectUpstream()

	// Implicitly registered clients never learn their secret.
	env.authorize(t, AuthorizeRequest{ClientID: "public-client"})
	code := env.issueCode(t, "public-client", testChallenge)

	resp, err := env.svc.Token(context.Background(), TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         code,
		ClientID:     "public-client",
		CodeVerifier: testVerifier,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)

	result := env.svc.ValidateAccessToken(context.Background(), resp.AccessToken)
	assert.True(t, result.Valid)

	// The exemption does not extend to refresh.
	_, err = env.svc.Token(context.Background(), TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     "public-client",
		RefreshToken: resp.RefreshToken,
		CodeVerifier: testVerifier,
	})
	require.ErrorIs(t, err, ErrInvalidClientSecret)
}

func TestToken_ConfidentialClientWithPKCE(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.expectUpstream()
	client := env.register(t, RegisterClientRequest{})
	code := env.issueCode(t, client.ClientID, testChallenge)

	req := codeRequest(client, code)
	req.CodeVerifier = testVerifier
	_, err := env.svc.Token(context.Background(), req)
	require.NoError(t, err)
}

func TestToken_AccessTokenIsNotACode(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.expectUpstream()
	client := env.register(t, RegisterClientRequest{})
	resp, err := env.svc.Token(context.Background(), codeRequest(client, env.issueCode(t, client.ClientID, "")))
	require.NoError(t, err)

	_, err = env.svc.Token(context.Background(), codeRequest(client, resp.AccessToken))
	require.ErrorIs(t, err, ErrTokenNotFound)

	assert.True(t, env.svc.ValidateAccessToken(context.Background(), resp.AccessToken).Valid,
		"failed redemption must not consume the access token")
}

func TestToken_ClientWithoutRefreshGrant(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.expectUpstream()
	client := env.register(t, RegisterClientRequest{GrantTypes: []string{GrantTypeAuthorizationCode}})

	resp, err := env.svc.Token(context.Background(), codeRequest(client, env.issueCode(t, client.ClientID, "")))
	require.NoError(t, err)
	assert.Empty(t, resp.RefreshToken)

	_, err = env.svc.Token(context.Background(), refreshRequest(client, "anything"))
	require.ErrorIs(t, err, ErrUnsupportedGrantType)
}

func TestToken_ConcurrentCodeRedemption(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.expectUpstream()
	client := env.register(t, RegisterClientRequest{})
	code := env.issueCode(t, client.ClientID, "")

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		notFound  int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Token(context.Background(), codeRequest(client, code))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrTokenNotFound):
				notFound++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "exactly one redemption must win")
	assert.Equal(t, workers-1, notFound)

	stats, err := env.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveTokens)
}

func TestToken_RefreshToken(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.expectUpstream()
	client := env.register(t, RegisterClientRequest{})
	ctx := context.Background()

	first, err := env.svc.Token(ctx, codeRequest(client, env.issueCode(t, client.ClientID, "")))
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	second, err := env.svc.Token(ctx, refreshRequest(client, first.RefreshToken))
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.Equal(t, first.RefreshToken, second.RefreshToken, "refresh token is kept without rotation")
	assert.Equal(t, DefaultScope, second.Scope)

	assert.False(t, env.svc.ValidateAccessToken(ctx, first.AccessToken).Valid, "old access token is superseded")
	assert.True(t, env.svc.ValidateAccessToken(ctx, second.AccessToken).Valid)

	record, err := env.store.GetToken(ctx, second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now().Add(DefaultAccessTokenTTL), record.ExpiresAt)
	assert.Equal(t, env.clock.Now().Add(-time.Minute).Add(DefaultRefreshTokenTTL), record.RefreshExpiresAt,
		"carried refresh token keeps its original expiry")
	assert.Equal(t, "upstream-refresh", record.UpstreamRefreshToken)

	// The same refresh token keeps working.
	third, err := env.svc.Token(ctx, refreshRequest(client, first.RefreshToken))
	require.NoError(t, err)
	assert.False(t, env.svc.ValidateAccessToken(ctx, second.AccessToken).Valid)
	assert.True(t, env.svc.ValidateAccessToken(ctx, third.AccessToken).Valid)

	stats, err := env.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveTokens)
}

func TestToken_RefreshTokenRotation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *Config) { c.RotateRefreshTokens = true })
	env.expectUpstream()
	client := env.register(t, RegisterClientRequest{})
	ctx := context.Background()

	first, err := env.svc.Token(ctx, codeRequest(client, env.issueCode(t, client.ClientID, "")))
	require.NoError(t, err)

	second, err := env.svc.Token(ctx, refreshRequest(client, first.RefreshToken))
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	_, err = env.svc.Token(ctx, refreshRequest(client, first.RefreshToken))
	require.ErrorIs(t, err, ErrTokenNotFound, "rotated refresh token must stop working")

	_, err = env.svc.Token(ctx, refreshRequest(client, second.RefreshToken))
	require.NoError(t, err)
}

func TestToken_RefreshTokenFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(req *TokenRequest, env *testEnv, t *testing.T)
		wantErr error
	}{
		{
			name:    "unknown client",
			mutate:  func(req *TokenRequest, _ *testEnv, _ *testing.T) { req.ClientID = "ghost" },
			wantErr: ErrClientNotFound,
		},
		{
			name:    "wrong secret",
			mutate:  func(req *TokenRequest, _ *testEnv, _ *testing.T) { req.ClientSecret = "wrong" },
			wantErr: ErrInvalidClientSecret,
		},
		{
			name:    "missing refresh token",
			mutate:  func(req *TokenRequest, _ *testEnv, _ *testing.T) { req.RefreshToken = "" },
			wantErr: ErrInvalidRequest,
		},
		{
			name:    "unknown refresh token",
			mutate:  func(req *TokenRequest, _ *testEnv, _ *testing.T) { req.RefreshToken = "nope" },
			wantErr: ErrTokenNotFound,
		},
		{
			name: "expired refresh token",
			mutate: func(_ *TokenRequest, env *testEnv, _ *testing.T) {
				env.clock.Advance(DefaultRefreshTokenTTL + time.Second)
			},
			wantErr: ErrTokenNotFound,
		},
		{
			name: "refresh token of another client",
			mutate: func(req *TokenRequest, env *testEnv, t *testing.T) {
				other := env.register(t, RegisterClientRequest{})
				req.ClientID = other.ClientID
				req.ClientSecret = other.ClientSecret
			},
			wantErr: ErrClientMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, nil)
			env.expectUpstream()
			client := env.register(t, RegisterClientRequest{})
			issued, err := env.svc.Token(context.Background(), codeRequest(client, env.issueCode(t, client.ClientID, "")))
			require.NoError(t, err)

			req := refreshRequest(client, issued.RefreshToken)
			tt.mutate(&req, env, t)

			_, err = env.svc.Token(context.Background(), req)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestToken_RefreshAfterAccessTokenExpiry(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.expectUpstream()
	client := env.register(t, RegisterClientRequest{})
	issued, err := env.svc.Token(context.Background(), codeRequest(client, env.issueCode(t, client.ClientID, "")))
	require.NoError(t, err)

	env.clock.Advance(DefaultAccessTokenTTL + time.Minute)
	assert.False(t, env.svc.ValidateAccessToken(context.Background(), issued.AccessToken).Valid)

	refreshed, err := env.svc.Token(context.Background(), refreshRequest(client, issued.RefreshToken))
	require.NoError(t, err)
	assert.True(t, env.svc.ValidateAccessToken(context.Background(), refreshed.AccessToken).Valid)
}

func TestToken_SigningAndStorageFailures(t *testing.T) {
	t.Parallel()

	codeRecord := func() *storage.TokenRecord {
		return &storage.TokenRecord{
			AccessToken: "code-1",
			TokenType:   tokenTypeAuthorizationCode,
			ClientID:    "c1",
			UserID:      testSubject,
			Scope:       DefaultScope,
			RedirectURI: testRedirectURI,
			ExpiresAt:   time.Now().Add(time.Minute),
		}
	}
	req := TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		Code:         "code-1",
		ClientID:     "c1",
		ClientSecret: "secret",
	}

	t.Run("access token signing fails", func(t *testing.T) {
		t.Parallel()
		svc, store, sign, _ := newMockService(t, nil)
		store.EXPECT().GetClient(gomock.Any(), "c1").Return(hashedClient(t, "c1", "secret"), nil)
		store.EXPECT().GetToken(gomock.Any(), "code-1").Return(codeRecord(), nil)
		sign.EXPECT().GenerateAccessToken(gomock.Any(), gomock.Any(), DefaultAccessTokenTTL).
			Return("", errors.New("hsm offline"))

		_, err := svc.Token(context.Background(), req)
		require.ErrorIs(t, err, ErrSigningFailure)
	})

	t.Run("claims carry issuer and audience", func(t *testing.T) {
		t.Parallel()
		svc, store, sign, _ := newMockService(t, func(c *Config) { c.Audience = "mcp-server" })
		store.EXPECT().GetClient(gomock.Any(), "c1").Return(hashedClient(t, "c1", "secret"), nil)
		store.EXPECT().GetToken(gomock.Any(), "code-1").Return(codeRecord(), nil)
		sign.EXPECT().GenerateAccessToken(gomock.Any(), gomock.Any(), DefaultAccessTokenTTL).DoAndReturn(
			func(_ context.Context, c signer.Claims, _ time.Duration) (string, error) {
				assert.Equal(t, "c1", c.ClientID)
				assert.Equal(t, testSubject, c.UserID)
				assert.Equal(t, DefaultScope, c.Scope)
				assert.Equal(t, "mcp-server", c.Audience)
				assert.Equal(t, testIssuer, c.Issuer)
				assert.False(t, c.IssuedAt.IsZero())
				return "at", nil
			})
		sign.EXPECT().GenerateRefreshToken(gomock.Any(), gomock.Any(), DefaultRefreshTokenTTL).Return("rt", nil)
		store.EXPECT().ExchangeToken(gomock.Any(), "code-1", gomock.Any()).Return(nil)

		resp, err := svc.Token(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "at", resp.AccessToken)
		assert.Equal(t, "rt", resp.RefreshToken)
	})

	t.Run("lost exchange race", func(t *testing.T) {
		t.Parallel()
		svc, store, sign, _ := newMockService(t, nil)
		store.EXPECT().GetClient(gomock.Any(), "c1").Return(hashedClient(t, "c1", "secret"), nil)
		store.EXPECT().GetToken(gomock.Any(), "code-1").Return(codeRecord(), nil)
		sign.EXPECT().GenerateAccessToken(gomock.Any(), gomock.Any(), gomock.Any()).Return("at", nil)
		sign.EXPECT().GenerateRefreshToken(gomock.Any(), gomock.Any(), gomock.Any()).Return("rt", nil)
		store.EXPECT().ExchangeToken(gomock.Any(), "code-1", gomock.Any()).Return(storage.ErrNotFound)

		_, err := svc.Token(context.Background(), req)
		require.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("exchange fails", func(t *testing.T) {
		t.Parallel()
		svc, store, sign, _ := newMockService(t, nil)
		store.EXPECT().GetClient(gomock.Any(), "c1").Return(hashedClient(t, "c1", "secret"), nil)
		store.EXPECT().GetToken(gomock.Any(), "code-1").Return(codeRecord(), nil)
		sign.EXPECT().GenerateAccessToken(gomock.Any(), gomock.Any(), gomock.Any()).Return("at", nil)
		sign.EXPECT().GenerateRefreshToken(gomock.Any(), gomock.Any(), gomock.Any()).Return("rt", nil)
		store.EXPECT().ExchangeToken(gomock.Any(), "code-1", gomock.Any()).Return(errors.New("io"))

		_, err := svc.Token(context.Background(), req)
		require.ErrorIs(t, err, ErrStorageFailure)
		assert.NotErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("client lookup fails", func(t *testing.T) {
		t.Parallel()
		svc, store, _, _ := newMockService(t, nil)
		store.EXPECT().GetClient(gomock.Any(), "c1").Return(nil, errors.New("io"))

		_, err := svc.Token(context.Background(), req)
		require.ErrorIs(t, err, ErrStorageFailure)
	})
}
