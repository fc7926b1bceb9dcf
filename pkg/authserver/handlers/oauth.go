// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/stacklok/toolhive-authbroker/pkg/authserver"
)

// maxFormBodySize bounds form-encoded request bodies.
const maxFormBodySize = 64 * 1024

// AuthorizeHandler handles GET /oauth/authorize requests.
// It validates the client's request and redirects to the upstream IDP.
func (h *Handler) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := h.authorizer.Authorize(r.Context(), authserver.AuthorizeRequest{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		ResponseType:        q.Get("response_type"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
	})
	if err != nil {
		h.writeError(w, r, err, endpointAuthorize)
		return
	}
	http.Redirect(w, r, resp.RedirectURL, http.StatusFound)
}

// CallbackHandler handles GET /oauth/callback requests from the upstream IDP.
func (h *Handler) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := h.authorizer.CompleteUpstreamExchange(r.Context(), authserver.CallbackRequest{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	})
	if err != nil {
		h.writeError(w, r, err, endpointAuthorize)
		return
	}
	http.Redirect(w, r, resp.RedirectURL, http.StatusFound)
}

// TokenHandler handles POST /oauth/token requests.
func (h *Handler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	resp, err := h.authorizer.Token(r.Context(), authserver.TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		Code:         r.PostForm.Get("code"),
		RedirectURI:  r.PostForm.Get("redirect_uri"),
		ClientID:     r.PostForm.Get("client_id"),
		ClientSecret: r.PostForm.Get("client_secret"),
		CodeVerifier: r.PostForm.Get("code_verifier"),
		RefreshToken: r.PostForm.Get("refresh_token"),
	})
	if err != nil {
		h.writeError(w, r, err, endpointToken)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, h.logger, http.StatusOK, resp)
}

// RevokeHandler handles POST /oauth/revoke requests (RFC 7009). The
// response is 200 whether or not the token existed.
func (h *Handler) RevokeHandler(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}
	revoked := h.authorizer.RevokeToken(r.Context(), r.PostForm.Get("token"))
	h.logger.DebugContext(r.Context(), "revocation request handled", "revoked", revoked)
	w.WriteHeader(http.StatusOK)
}

// introspectionResponse is the RFC 7662 Section 2.2 response.
type introspectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	Audience  string `json:"aud,omitempty"`
	ID        string `json:"jti,omitempty"`
}

// IntrospectHandler handles POST /oauth/introspect requests (RFC 7662).
func (h *Handler) IntrospectHandler(w http.ResponseWriter, r *http.Request) {
	if !h.parseForm(w, r) {
		return
	}

	result := h.authorizer.ValidateAccessToken(r.Context(), r.PostForm.Get("token"))
	resp := introspectionResponse{Active: result.Valid}
	if result.Valid && result.Claims != nil {
		c := result.Claims
		resp.Scope = c.Scope
		resp.ClientID = c.ClientID
		resp.Subject = c.UserID
		resp.TokenType = authserver.TokenTypeBearer
		resp.ExpiresAt = c.ExpiresAt.Unix()
		resp.IssuedAt = c.IssuedAt.Unix()
		resp.Issuer = c.Issuer
		resp.Audience = c.Audience
		resp.ID = c.ID
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, h.logger, http.StatusOK, resp)
}

// StatsHandler handles GET /oauth/stats requests.
func (h *Handler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.authorizer.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err, endpointOther)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, h.logger, http.StatusOK, stats)
}

// parseForm parses a bounded form body, writing an invalid_request error
// on failure.
func (h *Handler) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodySize)
	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, invalidForm(err), endpointOther)
		return false
	}
	return true
}
