// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/stacklok/toolhive-authbroker/pkg/authserver/signer"
	"github.com/stacklok/toolhive-authbroker/pkg/authserver/storage"
	"github.com/stacklok/toolhive-authbroker/pkg/authserver/upstream"
)

// Token redeems an authorization code or a refresh token.
func (s *Service) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if req.ClientID == "" {
		return nil, fmt.Errorf("%w: client_id is required", ErrInvalidRequest)
	}

	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		return s.redeemAuthorizationCode(ctx, req)
	case GrantTypeRefreshToken:
		return s.redeemRefreshToken(ctx, req)
	case "":
		return nil, fmt.Errorf("%w: grant_type is required", ErrInvalidRequest)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedGrantType, req.GrantType)
	}
}

func (s *Service) redeemAuthorizationCode(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	client, err := s.lookupClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	// A client that cannot present its secret may still redeem a code bound
	// to a PKCE challenge; the verifier then authenticates the request.
	exempt := false
	if !secretMatches(client, req.ClientSecret) {
		if req.CodeVerifier == "" {
			return nil, fmt.Errorf("%w: client %s", ErrInvalidClientSecret, client.ClientID)
		}
		exempt = true
		s.logger.Warn("client secret not verified, relying on PKCE",
			"client_id", client.ClientID,
		)
	}
	if err := requireGrantType(client, GrantTypeAuthorizationCode); err != nil {
		return nil, err
	}

	if req.Code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidRequest)
	}
	code, err := s.store.GetToken(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: authorization code is invalid or expired", ErrTokenNotFound)
		}
		return nil, storageFailure("get authorization code", err)
	}
	if code.TokenType != tokenTypeAuthorizationCode {
		return nil, fmt.Errorf("%w: authorization code is invalid or expired", ErrTokenNotFound)
	}
	if code.ClientID != client.ClientID {
		return nil, fmt.Errorf("%w: authorization code", ErrClientMismatch)
	}

	if code.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, fmt.Errorf("%w: code_verifier is required", ErrInvalidCodeVerifier)
		}
		if !upstream.VerifyCodeChallenge(req.CodeVerifier, code.CodeChallenge) {
			return nil, fmt.Errorf("%w: code_verifier does not match code_challenge", ErrInvalidCodeVerifier)
		}
	} else if exempt {
		return nil, fmt.Errorf("%w: authorization code is not bound to a PKCE challenge", ErrInvalidClientSecret)
	}

	if req.RedirectURI != "" && req.RedirectURI != code.RedirectURI {
		return nil, fmt.Errorf("%w: redirect_uri does not match the authorization request", ErrInvalidRedirectURI)
	}

	now := s.now()
	record := &storage.TokenRecord{
		TokenType:            TokenTypeBearer,
		Scope:                code.Scope,
		ClientID:             code.ClientID,
		UserID:               code.UserID,
		UpstreamAccessToken:  code.UpstreamAccessToken,
		UpstreamRefreshToken: code.UpstreamRefreshToken,
		UpstreamIDToken:      code.UpstreamIDToken,
		CreatedAt:            now,
		ExpiresAt:            now.Add(s.cfg.AccessTokenTTL),
	}
	claims := s.claimsFor(record, now)
	if record.AccessToken, err = s.signer.GenerateAccessToken(ctx, claims, s.cfg.AccessTokenTTL); err != nil {
		return nil, fmt.Errorf("%w: access token: %v", ErrSigningFailure, err)
	}
	if slices.Contains(client.GrantTypes, GrantTypeRefreshToken) {
		if record.RefreshToken, err = s.signer.GenerateRefreshToken(ctx, claims, s.cfg.RefreshTokenTTL); err != nil {
			return nil, fmt.Errorf("%w: refresh token: %v", ErrSigningFailure, err)
		}
		record.RefreshExpiresAt = now.Add(s.cfg.RefreshTokenTTL)
	}

	if err := s.store.ExchangeToken(ctx, req.Code, record); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("authorization code redeemed concurrently",
				"client_id", client.ClientID,
			)
			return nil, fmt.Errorf("%w: authorization code already used", ErrTokenNotFound)
		}
		return nil, storageFailure("exchange authorization code", err)
	}

	s.logger.Info("issued tokens",
		"grant_type", GrantTypeAuthorizationCode,
		"client_id", record.ClientID,
		"user_id", record.UserID,
		"pkce", code.CodeChallenge != "",
	)
	return s.tokenResponse(record), nil
}

func (s *Service) redeemRefreshToken(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	client, err := s.lookupClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if !secretMatches(client, req.ClientSecret) {
		return nil, fmt.Errorf("%w: client %s", ErrInvalidClientSecret, client.ClientID)
	}
	if err := requireGrantType(client, GrantTypeRefreshToken); err != nil {
		return nil, err
	}

	if req.RefreshToken == "" {
		return nil, fmt.Errorf("%w: refresh_token is required", ErrInvalidRequest)
	}
	old, err := s.store.GetTokenByRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: refresh token is invalid or expired", ErrTokenNotFound)
		}
		return nil, storageFailure("get refresh token", err)
	}
	if old.ClientID != client.ClientID {
		return nil, fmt.Errorf("%w: refresh token", ErrClientMismatch)
	}

	now := s.now()
	record := old.Clone()
	record.TokenType = TokenTypeBearer
	record.CreatedAt = now
	record.ExpiresAt = now.Add(s.cfg.AccessTokenTTL)

	claims := s.claimsFor(record, now)
	if record.AccessToken, err = s.signer.GenerateAccessToken(ctx, claims, s.cfg.AccessTokenTTL); err != nil {
		return nil, fmt.Errorf("%w: access token: %v", ErrSigningFailure, err)
	}
	if s.cfg.RotateRefreshTokens {
		if record.RefreshToken, err = s.signer.GenerateRefreshToken(ctx, claims, s.cfg.RefreshTokenTTL); err != nil {
			return nil, fmt.Errorf("%w: refresh token: %v", ErrSigningFailure, err)
		}
		record.RefreshExpiresAt = now.Add(s.cfg.RefreshTokenTTL)
	}

	if err := s.store.ExchangeToken(ctx, old.AccessToken, record); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: refresh token already used", ErrTokenNotFound)
		}
		return nil, storageFailure("exchange refresh token", err)
	}

	s.logger.Info("issued tokens",
		"grant_type", GrantTypeRefreshToken,
		"client_id", record.ClientID,
		"user_id", record.UserID,
		"rotated", s.cfg.RotateRefreshTokens,
	)
	return s.tokenResponse(record), nil
}

func (s *Service) lookupClient(ctx context.Context, clientID string) (*storage.Client, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
		}
		return nil, storageFailure("get client", err)
	}
	return client, nil
}

func requireGrantType(client *storage.Client, grantType string) error {
	if !slices.Contains(client.GrantTypes, grantType) {
		return fmt.Errorf("%w: client %s is not registered for %s",
			ErrUnsupportedGrantType, client.ClientID, grantType)
	}
	return nil
}

func (s *Service) claimsFor(record *storage.TokenRecord, now time.Time) signer.Claims {
	return signer.Claims{
		ClientID: record.ClientID,
		UserID:   record.UserID,
		Scope:    record.Scope,
		Audience: s.cfg.Audience,
		Issuer:   s.cfg.Issuer,
		IssuedAt: now,
	}
}

func (s *Service) tokenResponse(record *storage.TokenRecord) *TokenResponse {
	return &TokenResponse{
		AccessToken:  record.AccessToken,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    int64(s.cfg.AccessTokenTTL / time.Second),
		RefreshToken: record.RefreshToken,
		Scope:        record.Scope,
	}
}
