// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"errors"
	"net/http"

	"github.com/stacklok/toolhive-core/httperr"
)

// Error kinds returned by the authorization core. Every returned error wraps
// exactly one of these; httperr.Code yields the HTTP status.
var (
	// ErrInvalidRequest is returned for malformed or incomplete requests.
	ErrInvalidRequest = httperr.WithCode(errors.New("invalid request"), http.StatusBadRequest)

	// ErrInvalidRedirectURI is returned when a redirect URI is not registered
	// for the client or does not match the one bound to a code.
	ErrInvalidRedirectURI = httperr.WithCode(errors.New("invalid redirect_uri"), http.StatusBadRequest)

	// ErrUnsupportedResponseType is returned when the client may not use the
	// requested response type.
	ErrUnsupportedResponseType = httperr.WithCode(errors.New("unsupported response_type"), http.StatusBadRequest)

	// ErrClientNotFound is returned when the client is not registered.
	ErrClientNotFound = httperr.WithCode(errors.New("client not found"), http.StatusUnauthorized)

	// ErrInvalidClientSecret is returned when client authentication fails.
	ErrInvalidClientSecret = httperr.WithCode(errors.New("invalid client secret"), http.StatusUnauthorized)

	// ErrTokenNotFound is returned when a code or refresh token is unknown,
	// expired or already used.
	ErrTokenNotFound = httperr.WithCode(errors.New("token not found"), http.StatusBadRequest)

	// ErrClientMismatch is returned when a code or refresh token was issued
	// to another client.
	ErrClientMismatch = httperr.WithCode(errors.New("token was issued to another client"), http.StatusBadRequest)

	// ErrInvalidCodeVerifier is returned when PKCE verification fails.
	ErrInvalidCodeVerifier = httperr.WithCode(errors.New("invalid code_verifier"), http.StatusBadRequest)

	// ErrUnsupportedGrantType is returned for unknown grant types and for
	// grant types the client is not registered for.
	ErrUnsupportedGrantType = httperr.WithCode(errors.New("unsupported grant_type"), http.StatusBadRequest)

	// ErrSessionNotFound is returned when an upstream callback cannot be
	// correlated with a live authorization session.
	ErrSessionNotFound = httperr.WithCode(errors.New("authorization session not found"), http.StatusBadRequest)

	// ErrUpstreamFailure is returned when the upstream IdP cannot complete
	// the flow.
	ErrUpstreamFailure = httperr.WithCode(errors.New("upstream identity provider failure"), http.StatusBadGateway)

	// ErrSigningFailure is returned when a token cannot be signed.
	ErrSigningFailure = httperr.WithCode(errors.New("token signing failed"), http.StatusInternalServerError)

	// ErrStorageFailure is returned when the store fails.
	ErrStorageFailure = httperr.WithCode(errors.New("storage failure"), http.StatusInternalServerError)
)
