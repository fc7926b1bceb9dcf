// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"unicode"

	"github.com/stacklok/toolhive-authbroker/pkg/authserver/storage"
)

// Validation limits to prevent DoS attacks via excessively large requests.
const (
	// MaxRedirectURICount is the maximum number of redirect URIs allowed per client.
	MaxRedirectURICount = 10

	// MaxClientNameLength is the maximum allowed length for a client name.
	MaxClientNameLength = 256

	// MaxClientIDLength is the maximum length of a caller-supplied client ID.
	MaxClientIDLength = 256
)

const (
	clientIDPrefix   = "mcp_"
	clientNamePrefix = "MCP Client "
	clientIDBytes    = 16
	clientSecretSize = 32
)

var (
	defaultGrantTypes    = []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken}
	defaultResponseTypes = []string{ResponseTypeCode}

	allowedGrantTypes = map[string]bool{
		GrantTypeAuthorizationCode: true,
		GrantTypeRefreshToken:      true,
	}
	allowedResponseTypes = map[string]bool{
		ResponseTypeCode: true,
	}

	// Schemes that can execute in the browser are never valid redirect targets.
	forbiddenRedirectSchemes = []string{"javascript", "data", "vbscript", "file"}
)

// RegisterClient registers a client per RFC 7591. The generated secret is
// returned once and stored only as a bcrypt hash.
func (s *Service) RegisterClient(ctx context.Context, req RegisterClientRequest) (*RegisterClientResponse, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	client, secret, err := s.newClient(req)
	if err != nil {
		s.logger.Debug("rejected client registration",
			"client_id", req.ClientID,
			"redirect_uris", req.RedirectURIs,
			"error", err,
		)
		return nil, err
	}

	if err := s.store.RegisterClient(ctx, client); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: client_id %q is already registered", ErrInvalidRequest, client.ClientID)
		}
		return nil, storageFailure("register client", err)
	}

	s.logger.Info("registered client",
		"client_id", client.ClientID,
		"client_name", client.ClientName,
		"redirect_uri_count", len(client.RedirectURIs),
	)

	return &RegisterClientResponse{
		ClientID:                client.ClientID,
		ClientSecret:            secret,
		ClientIDIssuedAt:        client.IssuedAt.Unix(),
		ClientSecretExpiresAt:   0,
		ClientName:              client.ClientName,
		ApplicationType:         client.ApplicationType,
		RedirectURIs:            slices.Clone(client.RedirectURIs),
		GrantTypes:              slices.Clone(client.GrantTypes),
		ResponseTypes:           slices.Clone(client.ResponseTypes),
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		Scope:                   client.Scope,
	}, nil
}

// newClient validates req, applies defaults and returns the client to store
// together with its plaintext secret.
func (s *Service) newClient(req RegisterClientRequest) (*storage.Client, string, error) {
	if err := validateRedirectURIs(req.RedirectURIs); err != nil {
		return nil, "", err
	}
	if len(req.ClientName) > MaxClientNameLength {
		return nil, "", fmt.Errorf("%w: client_name too long (maximum %d characters)", ErrInvalidRequest, MaxClientNameLength)
	}

	clientID := req.ClientID
	if clientID == "" {
		clientID = clientIDPrefix + randomHex(clientIDBytes)
	} else if err := validateClientID(clientID); err != nil {
		return nil, "", err
	}

	grantTypes, err := validateGrantTypes(req.GrantTypes)
	if err != nil {
		return nil, "", err
	}
	responseTypes, err := validateResponseTypes(req.ResponseTypes)
	if err != nil {
		return nil, "", err
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = TokenEndpointAuthMethodClientSecretPost
	}
	if authMethod != TokenEndpointAuthMethodClientSecretPost {
		return nil, "", fmt.Errorf("%w: token_endpoint_auth_method must be %q",
			ErrInvalidRequest, TokenEndpointAuthMethodClientSecretPost)
	}

	name := req.ClientName
	if name == "" {
		name = clientNamePrefix + clientID
	}
	scope := req.Scope
	if scope == "" {
		scope = s.cfg.DefaultScope
	}

	secret := randomHex(clientSecretSize)
	hash, err := s.hashSecret(secret)
	if err != nil {
		return nil, "", fmt.Errorf("%w: failed to hash client secret: %v", ErrStorageFailure, err)
	}

	return &storage.Client{
		ClientID:                clientID,
		SecretHash:              hash,
		ClientName:              name,
		ApplicationType:         ApplicationTypeWeb,
		RedirectURIs:            slices.Clone(req.RedirectURIs),
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		TokenEndpointAuthMethod: authMethod,
		Scope:                   scope,
		IssuedAt:                s.now().Truncate(0),
	}, secret, nil
}

// resolveClient loads the client for an authorization request, registering
// it on the fly when implicit registration is enabled.
func (s *Service) resolveClient(ctx context.Context, clientID, redirectURI string) (*storage.Client, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err == nil {
		return client, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, storageFailure("get client", err)
	}
	if !s.cfg.AllowImplicitRegistration {
		return nil, fmt.Errorf("%w: %s", ErrClientNotFound, clientID)
	}

	// The generated secret is discarded, so such clients can only redeem
	// codes with PKCE.
	client, _, err = s.newClient(RegisterClientRequest{
		ClientID:     clientID,
		RedirectURIs: []string{redirectURI},
	})
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			return nil, fmt.Errorf("%w: cannot register client with redirect_uri %q", ErrInvalidRedirectURI, redirectURI)
		}
		return nil, err
	}

	err = s.store.RegisterClient(ctx, client)
	switch {
	case err == nil:
		s.logger.Warn("implicitly registered unknown client",
			"client_id", clientID,
			"redirect_uri", redirectURI,
		)
		return client, nil
	case errors.Is(err, storage.ErrAlreadyExists):
		// Lost a registration race; use the winner's record.
		winner, getErr := s.store.GetClient(ctx, clientID)
		if getErr != nil {
			return nil, storageFailure("get client", getErr)
		}
		return winner, nil
	default:
		return nil, storageFailure("register client", err)
	}
}

func validateRedirectURIs(uris []string) error {
	if len(uris) == 0 {
		return fmt.Errorf("%w: redirect_uris is required", ErrInvalidRequest)
	}
	if len(uris) > MaxRedirectURICount {
		return fmt.Errorf("%w: too many redirect_uris (maximum %d)", ErrInvalidRequest, MaxRedirectURICount)
	}
	for _, uri := range uris {
		if err := validateRedirectURI(uri); err != nil {
			return err
		}
	}
	return nil
}

// validateRedirectURI requires an absolute URI without a fragment
// (RFC 6749 Section 3.1.2).
func validateRedirectURI(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("%w: malformed redirect_uri %q", ErrInvalidRequest, uri)
	}
	if !u.IsAbs() {
		return fmt.Errorf("%w: redirect_uri %q must be absolute", ErrInvalidRequest, uri)
	}
	if u.Fragment != "" || strings.Contains(uri, "#") {
		return fmt.Errorf("%w: redirect_uri %q must not contain a fragment", ErrInvalidRequest, uri)
	}
	if slices.Contains(forbiddenRedirectSchemes, strings.ToLower(u.Scheme)) {
		return fmt.Errorf("%w: redirect_uri scheme %q is not allowed", ErrInvalidRequest, u.Scheme)
	}
	if (u.Scheme == "http" || u.Scheme == "https") && u.Host == "" {
		return fmt.Errorf("%w: redirect_uri %q has no host", ErrInvalidRequest, uri)
	}
	return nil
}

func validateClientID(id string) error {
	if len(id) > MaxClientIDLength {
		return fmt.Errorf("%w: client_id too long (maximum %d characters)", ErrInvalidRequest, MaxClientIDLength)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return fmt.Errorf("%w: client_id contains invalid characters", ErrInvalidRequest)
		}
	}
	return nil
}

func validateGrantTypes(grantTypes []string) ([]string, error) {
	if len(grantTypes) == 0 {
		return slices.Clone(defaultGrantTypes), nil
	}
	for _, gt := range grantTypes {
		if !allowedGrantTypes[gt] {
			return nil, fmt.Errorf("%w: grant_type %q is not allowed", ErrInvalidRequest, gt)
		}
	}
	if !slices.Contains(grantTypes, GrantTypeAuthorizationCode) {
		return nil, fmt.Errorf("%w: grant_types must include %q", ErrInvalidRequest, GrantTypeAuthorizationCode)
	}
	return slices.Compact(slices.Sorted(slices.Values(grantTypes))), nil
}

func validateResponseTypes(responseTypes []string) ([]string, error) {
	if len(responseTypes) == 0 {
		return slices.Clone(defaultResponseTypes), nil
	}
	for _, rt := range responseTypes {
		if !allowedResponseTypes[rt] {
			return nil, fmt.Errorf("%w: response_type %q is not allowed", ErrInvalidRequest, rt)
		}
	}
	return slices.Compact(slices.Clone(responseTypes)), nil
}
