// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the persistence layer for the authorization
// broker: registered clients, pending authorization sessions, upstream
// sessions and issued token records.
package storage

//go:generate mockgen -destination=mocks/mock_storage.go -package=mocks -source=types.go Storage

import (
	"context"
	"slices"
	"time"
)

// Client is a registered OAuth client.
type Client struct {
	// ClientID is the unique identifier for the client.
	ClientID string

	// SecretHash is the bcrypt hash of the client secret.
	// The plaintext secret is only ever returned at registration time.
	SecretHash []byte

	// ClientName is a human-readable name for the client.
	ClientName string

	// ApplicationType is the RFC 7591 application type ("web").
	ApplicationType string

	// RedirectURIs are the exact redirect URIs the client may use.
	RedirectURIs []string

	// GrantTypes are the grant types the client may use.
	GrantTypes []string

	// ResponseTypes are the response types the client may use.
	ResponseTypes []string

	// TokenEndpointAuthMethod is how the client authenticates at the token endpoint.
	TokenEndpointAuthMethod string

	// Scope is the space-separated default scope of the client.
	Scope string

	// IssuedAt is when the client was registered.
	IssuedAt time.Time

	// SecretExpiresAt is when the secret expires. Zero means never.
	SecretExpiresAt time.Time
}

// Clone returns a deep copy of the client.
func (c *Client) Clone() *Client {
	if c == nil {
		return nil
	}
	cp := *c
	cp.SecretHash = slices.Clone(c.SecretHash)
	cp.RedirectURIs = slices.Clone(c.RedirectURIs)
	cp.GrantTypes = slices.Clone(c.GrantTypes)
	cp.ResponseTypes = slices.Clone(c.ResponseTypes)
	return &cp
}

// AuthorizationSession is a pending local authorization transaction,
// created when a client starts the authorization code flow.
type AuthorizationSession struct {
	// SessionID uniquely identifies the session.
	SessionID string

	// ClientID is the client that started the flow.
	ClientID string

	// RedirectURI is the redirect URI exactly as the client supplied it.
	RedirectURI string

	// Scope is the requested scope.
	Scope string

	// State is the client's opaque state, echoed back on redirect.
	State string

	// CodeChallenge is the client's PKCE challenge, if any.
	CodeChallenge string

	// CodeChallengeMethod is the client's PKCE challenge method.
	CodeChallengeMethod string

	// ResponseType is the requested response type.
	ResponseType string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the session has expired at the given time.
func (s *AuthorizationSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// UpstreamSession correlates an AuthorizationSession with the state and
// PKCE verifier used for the upstream IdP leg of the flow.
type UpstreamSession struct {
	// SessionID is shared with the originating AuthorizationSession.
	SessionID string

	// State is the state parameter sent to the upstream IdP.
	State string

	// CodeVerifier is the PKCE verifier for the upstream leg.
	// It must never be exposed to the client.
	CodeVerifier string

	// Nonce is the OIDC nonce sent to the upstream IdP.
	Nonce string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired reports whether the session has expired at the given time.
func (s *UpstreamSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// TokenRecord is an issued token pair together with the upstream credentials
// it was derived from. Between the upstream callback and the code exchange,
// AccessToken holds the local authorization code.
type TokenRecord struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	ClientID     string
	UserID       string

	UpstreamAccessToken  string
	UpstreamRefreshToken string
	UpstreamIDToken      string

	// RedirectURI, CodeChallenge and CodeChallengeMethod are only set on
	// authorization code records.
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string

	CreatedAt time.Time

	// ExpiresAt is when the access token (or code) expires.
	ExpiresAt time.Time

	// RefreshExpiresAt is when the refresh token expires.
	// Zero means the refresh token shares ExpiresAt.
	RefreshExpiresAt time.Time
}

// Clone returns a copy of the record.
func (r *TokenRecord) Clone() *TokenRecord {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// IsExpired reports whether the access token (or code) has expired.
func (r *TokenRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// IsRefreshExpired reports whether the refresh token has expired.
func (r *TokenRecord) IsRefreshExpired(now time.Time) bool {
	return now.After(r.refreshExpiry())
}

// retainUntil is the latest instant at which any key of the record is still usable.
func (r *TokenRecord) retainUntil() time.Time {
	if exp := r.refreshExpiry(); r.RefreshToken != "" && exp.After(r.ExpiresAt) {
		return exp
	}
	return r.ExpiresAt
}

func (r *TokenRecord) refreshExpiry() time.Time {
	if r.RefreshExpiresAt.IsZero() {
		return r.ExpiresAt
	}
	return r.RefreshExpiresAt
}

// Stats summarises storage contents.
type Stats struct {
	Clients        int `json:"clients"`
	ActiveSessions int `json:"active_sessions"`
	ActiveTokens   int `json:"active_tokens"`
}

// Storage is the persistence capability consumed by the authorization core.
// Every operation on a single key is atomic. Expiry is enforced lazily on
// read: expired entries behave as if absent.
type Storage interface {
	// GetClient loads a client by ID. Returns ErrNotFound if it does not exist.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// RegisterClient persists a new client. Returns ErrAlreadyExists if the
	// client ID is taken.
	RegisterClient(ctx context.Context, client *Client) error

	// CreateAuthSession persists an authorization session.
	CreateAuthSession(ctx context.Context, session *AuthorizationSession) error

	// GetAuthSession loads an authorization session by session ID.
	GetAuthSession(ctx context.Context, sessionID string) (*AuthorizationSession, error)

	// DeleteAuthSession removes an authorization session.
	DeleteAuthSession(ctx context.Context, sessionID string) error

	// CreateUpstreamSession persists an upstream session, indexed by its state.
	CreateUpstreamSession(ctx context.Context, session *UpstreamSession) error

	// TakeUpstreamSession atomically loads and removes the upstream session
	// for the given upstream state. A session is returned at most once.
	TakeUpstreamSession(ctx context.Context, state string) (*UpstreamSession, error)

	// StoreToken persists a token record keyed by its access token and,
	// when set, its refresh token.
	StoreToken(ctx context.Context, record *TokenRecord) error

	// GetToken loads a token record by access token (or authorization code).
	GetToken(ctx context.Context, accessToken string) (*TokenRecord, error)

	// GetTokenByRefreshToken loads a token record by refresh token.
	GetTokenByRefreshToken(ctx context.Context, refreshToken string) (*TokenRecord, error)

	// ExchangeToken atomically removes the record keyed by oldAccessToken and
	// stores record in its place. Returns ErrNotFound, without storing
	// anything, if no live record is keyed by oldAccessToken.
	ExchangeToken(ctx context.Context, oldAccessToken string, record *TokenRecord) error

	// DeleteToken removes the record keyed by accessToken.
	// Reports whether a record was removed.
	DeleteToken(ctx context.Context, accessToken string) (bool, error)

	// DeleteTokenByRefreshToken removes the record holding refreshToken.
	// Reports whether a record was removed.
	DeleteTokenByRefreshToken(ctx context.Context, refreshToken string) (bool, error)

	// Stats returns counts of clients, live sessions and live tokens.
	Stats(ctx context.Context) (Stats, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
