// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/stacklok/toolhive-authbroker/pkg/authserver/storage"
)

const (
	authCodeBytes = 32

	// tokenTypeAuthorizationCode marks token records that hold an unredeemed
	// authorization code rather than an access token.
	tokenTypeAuthorizationCode = "authorization_code"
)

// CompleteUpstreamExchange consumes the pending session for the upstream
// state, exchanges the upstream code and issues a local authorization code.
func (s *Service) CompleteUpstreamExchange(ctx context.Context, req CallbackRequest) (*CallbackResponse, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if req.State == "" {
		return nil, fmt.Errorf("%w: state is required", ErrInvalidRequest)
	}

	upstreamSession, err := s.store.TakeUpstreamSession(ctx, req.State)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown or expired state", ErrSessionNotFound)
		}
		return nil, storageFailure("take upstream session", err)
	}

	authSession, err := s.store.GetAuthSession(ctx, upstreamSession.SessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: authorization session %s", ErrSessionNotFound, upstreamSession.SessionID)
		}
		return nil, storageFailure("get authorization session", err)
	}
	if err := s.store.DeleteAuthSession(ctx, authSession.SessionID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn("failed to delete authorization session",
			"session_id", authSession.SessionID,
			"error", err,
		)
	}

	if req.Error != "" {
		s.logger.Info("upstream identity provider returned an error",
			"client_id", authSession.ClientID,
			"session_id", authSession.SessionID,
			"error", req.Error,
			"error_description", req.ErrorDescription,
		)
		params := url.Values{"error": {req.Error}}
		if req.ErrorDescription != "" {
			params.Set("error_description", req.ErrorDescription)
		}
		if authSession.State != "" {
			params.Set("state", authSession.State)
		}
		redirectURL, err := appendQuery(authSession.RedirectURI, params)
		if err != nil {
			return nil, err
		}
		return &CallbackResponse{RedirectURL: redirectURL}, nil
	}

	if req.Code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidRequest)
	}

	identity, err := s.bridge.ExchangeCode(ctx, req.Code, upstreamSession.CodeVerifier, upstreamSession.Nonce)
	if err != nil {
		s.logger.Warn("upstream code exchange failed",
			"client_id", authSession.ClientID,
			"session_id", authSession.SessionID,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamFailure, err)
	}

	now := s.now()
	record := &storage.TokenRecord{
		AccessToken:         randomHex(authCodeBytes),
		TokenType:           tokenTypeAuthorizationCode,
		Scope:               authSession.Scope,
		ClientID:            authSession.ClientID,
		UserID:              identity.Subject,
		RedirectURI:         authSession.RedirectURI,
		CodeChallenge:       authSession.CodeChallenge,
		CodeChallengeMethod: authSession.CodeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.cfg.AuthCodeTTL),
	}
	if identity.Tokens != nil {
		record.UpstreamAccessToken = identity.Tokens.AccessToken
		record.UpstreamRefreshToken = identity.Tokens.RefreshToken
		record.UpstreamIDToken = identity.Tokens.IDToken
	}
	if err := s.store.StoreToken(ctx, record); err != nil {
		return nil, storageFailure("store authorization code", err)
	}

	params := url.Values{"code": {record.AccessToken}}
	if authSession.State != "" {
		params.Set("state", authSession.State)
	}
	redirectURL, err := appendQuery(authSession.RedirectURI, params)
	if err != nil {
		return nil, err
	}

	s.logger.Info("issued authorization code",
		"client_id", record.ClientID,
		"session_id", authSession.SessionID,
		"user_id", record.UserID,
	)
	return &CallbackResponse{RedirectURL: redirectURL}, nil
}

// appendQuery adds params to rawURL, keeping any query it already has.
func appendQuery(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: stored redirect_uri is malformed: %v", ErrInvalidRedirectURI, err)
	}
	q := u.Query()
	for k, vs := range params {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
