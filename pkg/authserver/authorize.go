// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"fmt"
	"slices"

	"github.com/stacklok/toolhive-authbroker/pkg/authserver/storage"
	"github.com/stacklok/toolhive-authbroker/pkg/authserver/upstream"
)

const sessionIDBytes = 32

// Authorize validates an authorization request, persists the pending
// session and returns the upstream URL the browser must visit.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResponse, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := validateAuthorizeRequest(req); err != nil {
		s.logger.Warn("invalid authorization request",
			"client_id", req.ClientID,
			"redirect_uri", req.RedirectURI,
			"response_type", req.ResponseType,
			"scope", req.Scope,
			"code_challenge_method", req.CodeChallengeMethod,
			"error", err,
		)
		return nil, err
	}

	client, err := s.resolveClient(ctx, req.ClientID, req.RedirectURI)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(client.RedirectURIs, req.RedirectURI) {
		return nil, fmt.Errorf("%w: %q is not registered for client %s",
			ErrInvalidRedirectURI, req.RedirectURI, client.ClientID)
	}
	if !slices.Contains(client.ResponseTypes, req.ResponseType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedResponseType, req.ResponseType)
	}

	verifier := upstream.GenerateCodeVerifier()
	now := s.now()
	expiresAt := now.Add(s.cfg.SessionTTL)

	scope := req.Scope
	if scope == "" {
		scope = s.cfg.DefaultScope
	}
	challengeMethod := req.CodeChallengeMethod
	if req.CodeChallenge != "" && challengeMethod == "" {
		challengeMethod = upstream.PKCEChallengeMethodS256
	}

	authSession := &storage.AuthorizationSession{
		SessionID:           randomHex(sessionIDBytes),
		ClientID:            client.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               scope,
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: challengeMethod,
		ResponseType:        req.ResponseType,
		CreatedAt:           now,
		ExpiresAt:           expiresAt,
	}
	upstreamSession := &storage.UpstreamSession{
		SessionID:    authSession.SessionID,
		State:        upstream.GenerateState(),
		CodeVerifier: verifier,
		Nonce:        upstream.GenerateNonce(),
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
	}

	if err := s.store.CreateAuthSession(ctx, authSession); err != nil {
		return nil, storageFailure("create authorization session", err)
	}
	if err := s.store.CreateUpstreamSession(ctx, upstreamSession); err != nil {
		s.discardAuthSession(ctx, authSession.SessionID)
		return nil, storageFailure("create upstream session", err)
	}

	// An explicit scope is forwarded upstream; otherwise the provider's
	// configured scopes apply.
	redirectURL, err := s.bridge.AuthorizationURL(upstream.AuthorizationParams{
		RedirectURI:   s.cfg.CallbackURL,
		State:         upstreamSession.State,
		CodeChallenge: upstream.ComputeCodeChallenge(verifier),
		Scope:         req.Scope,
		Nonce:         upstreamSession.Nonce,
	})
	if err != nil {
		s.discardAuthSession(ctx, authSession.SessionID)
		s.discardUpstreamSession(ctx, upstreamSession.State)
		return nil, fmt.Errorf("%w: failed to build authorization URL: %v", ErrUpstreamFailure, err)
	}

	s.logger.Debug("started authorization",
		"client_id", client.ClientID,
		"session_id", authSession.SessionID,
		"scope", scope,
		"pkce", req.CodeChallenge != "",
	)

	return &AuthorizeResponse{
		RedirectURL: redirectURL,
		SessionID:   authSession.SessionID,
	}, nil
}

func validateAuthorizeRequest(req AuthorizeRequest) error {
	switch {
	case req.ClientID == "":
		return fmt.Errorf("%w: client_id is required", ErrInvalidRequest)
	case req.RedirectURI == "":
		return fmt.Errorf("%w: redirect_uri is required", ErrInvalidRequest)
	case req.ResponseType == "":
		return fmt.Errorf("%w: response_type is required", ErrInvalidRequest)
	}
	if req.CodeChallengeMethod != "" && req.CodeChallengeMethod != upstream.PKCEChallengeMethodS256 {
		return fmt.Errorf("%w: code_challenge_method must be %s",
			ErrInvalidRequest, upstream.PKCEChallengeMethodS256)
	}
	if req.CodeChallengeMethod != "" && req.CodeChallenge == "" {
		return fmt.Errorf("%w: code_challenge_method given without code_challenge", ErrInvalidRequest)
	}
	if req.CodeChallenge != "" && !upstream.IsValidPKCEValue(req.CodeChallenge) {
		return fmt.Errorf("%w: malformed code_challenge", ErrInvalidRequest)
	}
	return nil
}

func (s *Service) discardAuthSession(ctx context.Context, sessionID string) {
	ctx, cancel := cleanupContext(ctx)
	defer cancel()
	if err := s.store.DeleteAuthSession(ctx, sessionID); err != nil {
		s.logger.Warn("failed to delete authorization session",
			"session_id", sessionID,
			"error", err,
		)
	}
}

func (s *Service) discardUpstreamSession(ctx context.Context, state string) {
	ctx, cancel := cleanupContext(ctx)
	defer cancel()
	if _, err := s.store.TakeUpstreamSession(ctx, state); err != nil {
		s.logger.Debug("failed to delete upstream session", "error", err)
	}
}
