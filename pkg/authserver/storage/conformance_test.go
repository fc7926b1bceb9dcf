// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock shared by a store under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	// Millisecond precision keeps round trips through SQLite exact.
	return &fakeClock{now: time.Now().UTC().Truncate(time.Millisecond)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// storeHarness is a backend under test plus a way to move its time forward.
type storeHarness struct {
	store   Storage
	clock   *fakeClock
	advance func(time.Duration)
}

type harnessFactory func(t *testing.T) *storeHarness

func requireNotFoundError(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound, "should match storage.ErrNotFound")
}

func testClient(id string) *Client {
	return &Client{
		ClientID:                id,
		SecretHash:              []byte("$2a$10$hash"),
		ClientName:              "MCP Client " + id,
		ApplicationType:         "web",
		RedirectURIs:            []string{"https://app.example.com/callback"},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "client_secret_post",
		Scope:                   "openid profile email",
		IssuedAt:                time.Now().UTC().Truncate(time.Millisecond),
	}
}

func testTokenRecord(now time.Time, access, refresh string) *TokenRecord {
	return &TokenRecord{
		AccessToken:         access,
		RefreshToken:        refresh,
		TokenType:           "Bearer",
		Scope:               "openid",
		ClientID:            "client-1",
		UserID:              "user-1",
		UpstreamAccessToken: "upstream-at",
		CreatedAt:           now,
		ExpiresAt:           now.Add(time.Hour),
		RefreshExpiresAt:    now.Add(24 * time.Hour),
	}
}

// runConformance exercises the Storage contract against one backend.
func runConformance(t *testing.T, newHarness harnessFactory) {
	t.Helper()

	t.Run("client round trip", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := t.Context()

		client := testClient("mcp_abc")
		require.NoError(t, h.store.RegisterClient(ctx, client))

		got, err := h.store.GetClient(ctx, "mcp_abc")
		require.NoError(t, err)
		assert.Equal(t, client.ClientID, got.ClientID)
		assert.Equal(t, client.SecretHash, got.SecretHash)
		assert.Equal(t, client.RedirectURIs, got.RedirectURIs)
		assert.Equal(t, client.GrantTypes, got.GrantTypes)
		assert.Equal(t, client.TokenEndpointAuthMethod, got.TokenEndpointAuthMethod)
		assert.True(t, client.IssuedAt.Equal(got.IssuedAt))

		// Mutating the returned copy must not affect stored state.
		got.RedirectURIs[0] = "https://evil.example.com"
		again, err := h.store.GetClient(ctx, "mcp_abc")
		require.NoError(t, err)
		assert.Equal(t, "https://app.example.com/callback", again.RedirectURIs[0])
	})

	t.Run("client duplicate and missing", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := t.Context()

		require.NoError(t, h.store.RegisterClient(ctx, testClient("dup")))
		err := h.store.RegisterClient(ctx, testClient("dup"))
		assert.ErrorIs(t, err, ErrAlreadyExists)

		_, err = h.store.GetClient(ctx, "missing")
		requireNotFoundError(t, err)
	})

	t.Run("authorization session lifecycle", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := t.Context()
		now := h.clock.Now()

		session := &AuthorizationSession{
			SessionID:           "sess-1",
			ClientID:            "client-1",
			RedirectURI:         "https://app.example.com/callback",
			Scope:               "openid",
			State:               "client-state",
			CodeChallenge:       "challenge",
			CodeChallengeMethod: "S256",
			ResponseType:        "code",
			CreatedAt:           now,
			ExpiresAt:           now.Add(10 * time.Minute),
		}
		require.NoError(t, h.store.CreateAuthSession(ctx, session))

		got, err := h.store.GetAuthSession(ctx, "sess-1")
		require.NoError(t, err)
		assert.Equal(t, "client-state", got.State)
		assert.Equal(t, "challenge", got.CodeChallenge)
		assert.True(t, session.ExpiresAt.Equal(got.ExpiresAt))

		require.NoError(t, h.store.DeleteAuthSession(ctx, "sess-1"))
		_, err = h.store.GetAuthSession(ctx, "sess-1")
		requireNotFoundError(t, err)

		requireNotFoundError(t, h.store.DeleteAuthSession(ctx, "sess-1"))
	})

	t.Run("authorization session expires lazily", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := t.Context()
		now := h.clock.Now()

		require.NoError(t, h.store.CreateAuthSession(ctx, &AuthorizationSession{
			SessionID: "sess-exp",
			ClientID:  "client-1",
			CreatedAt: now,
			ExpiresAt: now.Add(time.Minute),
		}))

		h.advance(2 * time.Minute)

		_, err := h.store.GetAuthSession(ctx, "sess-exp")
		requireNotFoundError(t, err)
	})

	t.Run("upstream session is taken once", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := t.Context()
		now := h.clock.Now()

		require.NoError(t, h.store.CreateUpstreamSession(ctx, &UpstreamSession{
			SessionID:    "sess-1",
			State:        "upstream-state",
			CodeVerifier: "verifier",
			Nonce:        "nonce",
			CreatedAt:    now,
			ExpiresAt:    now.Add(10 * time.Minute),
		}))

		got, err := h.store.TakeUpstreamSession(ctx, "upstream-state")
		require.NoError(t, err)
		assert.Equal(t, "sess-1", got.SessionID)
		assert.Equal(t, "verifier", got.CodeVerifier)
		assert.Equal(t, "nonce", got.Nonce)

		_, err = h.store.TakeUpstreamSession(ctx, "upstream-state")
		requireNotFoundError(t, err)
	})

	t.Run("expired upstream session is not returned", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := t.Context()
		now := h.clock.Now()

		require.NoError(t, h.store.CreateUpstreamSession(ctx, &UpstreamSession{
			SessionID: "sess-1",
			State:     "stale",
			CreatedAt: now,
			ExpiresAt: now.Add(time.Minute),
		}))
		h.advance(5 * time.Minute)

		_, err := h.store.TakeUpstreamSession(ctx, "stale")
		requireNotFoundError(t, err)
	})

	t.Run("token lookup by access and refresh token", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := t.Context()

		record := testTokenRecord(h.clock.Now(), "at-1", "rt-1")
		require.NoError(t, h.store.StoreToken(ctx, record))

		got, err := h.store.GetToken(ctx, "at-1")
		require.NoError(t, err)
		assert.Equal(t, "rt-1", got.RefreshToken)
		assert.Equal(t, "upstream-at", got.UpstreamAccessToken)
		assert.True(t, record.ExpiresAt.Equal(got.ExpiresAt))

		got, err = h.store.GetTokenByRefreshToken(ctx, "rt-1")
		require.NoError(t, err)
		assert.Equal(t, "at-1", got.AccessToken)

		_, err = h.store.GetToken(ctx, "missing")
		requireNotFoundError(t, err)
		_, err = h.store.GetTokenByRefreshToken(ctx, "missing")
		requireNotFoundError(t, err)
	})

	t.Run("refresh outlives access token", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := t.Context()

		require.NoError(t, h.store.StoreToken(ctx, testTokenRecord(h.clock.Now(), "at-1", "rt-1")))
		h.advance(2 * time.Hour)

		_, err := h.store.GetToken(ctx, "at-1")
		assert.ErrorIs(t, err, ErrExpired)

		got, err := h.store.GetTokenByRefreshToken(ctx, "rt-1")
		require.NoError(t, err)
		assert.Equal(t, "at-1", got.AccessToken)

		h.advance(24 * time.Hour)
		_, err = h.store.GetTokenByRefreshToken(ctx, "rt-1")
		requireNotFoundError(t, err)
	})

	t.Run("exchange replaces record atomically", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := t.Context()
		now := h.clock.Now()

		code := &TokenRecord{
			AccessToken: "code-1",
			ClientID:    "client-1",
			UserID:      "user-1",
			RedirectURI: "https://app.example.com/callback",
			CreatedAt:   now,
			ExpiresAt:   now.Add(10 * time.Minute),
		}
		require.NoError(t, h.store.StoreToken(ctx, code))

		require.NoError(t, h.store.ExchangeToken(ctx, "code-1", testTokenRecord(now, "at-1", "rt-1")))

		_, err := h.store.GetToken(ctx, "code-1")
		requireNotFoundError(t, err)
		got, err := h.store.GetToken(ctx, "at-1")
		require.NoError(t, err)
		assert.Equal(t, "user-1", got.UserID)

		// The code cannot be exchanged twice.
		err = h.store.ExchangeToken(ctx, "code-1", testTokenRecord(now, "at-2", "rt-2"))
		requireNotFoundError(t, err)
		_, err = h.store.GetToken(ctx, "at-2")
		requireNotFoundError(t, err)

		// Superseding a pair drops the old refresh token.
		require.NoError(t, h.store.ExchangeToken(ctx, "at-1", testTokenRecord(now, "at-3", "rt-3")))
		_, err = h.store.GetTokenByRefreshToken(ctx, "rt-1")
		requireNotFoundError(t, err)
		got, err = h.store.GetTokenByRefreshToken(ctx, "rt-3")
		require.NoError(t, err)
		assert.Equal(t, "at-3", got.AccessToken)
	})

	t.Run("exchange of expired record fails", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := t.Context()
		now := h.clock.Now()

		require.NoError(t, h.store.StoreToken(ctx, &TokenRecord{
			AccessToken: "code-1",
			ClientID:    "client-1",
			CreatedAt:   now,
			ExpiresAt:   now.Add(time.Minute),
		}))
		h.advance(2 * time.Minute)

		err := h.store.ExchangeToken(ctx, "code-1", testTokenRecord(h.clock.Now(), "at-1", ""))
		requireNotFoundError(t, err)
	})

	t.Run("concurrent exchange has a single winner", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := t.Context()
		now := h.clock.Now()

		require.NoError(t, h.store.StoreToken(ctx, &TokenRecord{
			AccessToken: "code-race",
			ClientID:    "client-1",
			CreatedAt:   now,
			ExpiresAt:   now.Add(10 * time.Minute),
		}))

		const workers = 10
		var (
			wg      sync.WaitGroup
			winners atomic.Int32
		)
		for i := range workers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				next := testTokenRecord(now, fmt.Sprintf("at-%d", i), fmt.Sprintf("rt-%d", i))
				if err := h.store.ExchangeToken(ctx, "code-race", next); err == nil {
					winners.Add(1)
				} else {
					assert.ErrorIs(t, err, ErrNotFound)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), winners.Load())
	})

	t.Run("delete reports removal once", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := t.Context()
		now := h.clock.Now()

		require.NoError(t, h.store.StoreToken(ctx, testTokenRecord(now, "at-1", "rt-1")))
		require.NoError(t, h.store.StoreToken(ctx, testTokenRecord(now, "at-2", "rt-2")))

		removed, err := h.store.DeleteToken(ctx, "at-1")
		require.NoError(t, err)
		assert.True(t, removed)
		removed, err = h.store.DeleteToken(ctx, "at-1")
		require.NoError(t, err)
		assert.False(t, removed)
		_, err = h.store.GetTokenByRefreshToken(ctx, "rt-1")
		requireNotFoundError(t, err)

		removed, err = h.store.DeleteTokenByRefreshToken(ctx, "rt-2")
		require.NoError(t, err)
		assert.True(t, removed)
		removed, err = h.store.DeleteTokenByRefreshToken(ctx, "rt-2")
		require.NoError(t, err)
		assert.False(t, removed)
		_, err = h.store.GetToken(ctx, "at-2")
		requireNotFoundError(t, err)
	})

	t.Run("stats count live entries", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := t.Context()
		now := h.clock.Now()

		require.NoError(t, h.store.RegisterClient(ctx, testClient("c1")))
		require.NoError(t, h.store.RegisterClient(ctx, testClient("c2")))
		require.NoError(t, h.store.CreateAuthSession(ctx, &AuthorizationSession{
			SessionID: "s1", ClientID: "c1", CreatedAt: now, ExpiresAt: now.Add(time.Minute),
		}))
		require.NoError(t, h.store.CreateAuthSession(ctx, &AuthorizationSession{
			SessionID: "s2", ClientID: "c1", CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		}))
		require.NoError(t, h.store.StoreToken(ctx, testTokenRecord(now, "at-1", "rt-1")))

		stats, err := h.store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{Clients: 2, ActiveSessions: 2, ActiveTokens: 1}, stats)

		h.advance(5 * time.Minute)

		stats, err = h.store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, Stats{Clients: 2, ActiveSessions: 1, ActiveTokens: 1}, stats)
	})

	t.Run("ping", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		assert.NoError(t, h.store.Ping(t.Context()))
	})

	t.Run("rejects empty keys", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()

		assert.Error(t, h.store.RegisterClient(ctx, &Client{}))
		assert.Error(t, h.store.CreateAuthSession(ctx, &AuthorizationSession{}))
		assert.Error(t, h.store.CreateUpstreamSession(ctx, &UpstreamSession{}))
		assert.Error(t, h.store.StoreToken(ctx, &TokenRecord{}))
		assert.Error(t, h.store.ExchangeToken(ctx, "x", nil))
	})
}
