// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/stacklok/toolhive-authbroker/pkg/authserver"
)

// maxRegisterBodySize is the maximum allowed size for registration request
// bodies (64KB). This prevents DoS attacks via extremely large payloads
// while being generous enough for requests with many redirect URIs.
const maxRegisterBodySize = 64 * 1024

// RFC 7591 Section 3.2.2 error codes.
const (
	registerErrorInvalidRedirectURI    = "invalid_redirect_uri"
	registerErrorInvalidClientMetadata = "invalid_client_metadata"
)

// RegisterClientHandler handles POST /oauth/register requests (RFC 7591).
func (h *Handler) RegisterClientHandler(w http.ResponseWriter, r *http.Request) {
	if h.registerLimiter != nil && !h.registerLimiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, h.logger, http.StatusTooManyRequests, errorResponse{
			Error:            "temporarily_unavailable",
			ErrorDescription: "too many registration requests",
		})
		return
	}

	// Limit request body size to prevent DoS attacks
	r.Body = http.MaxBytesReader(w, r.Body, maxRegisterBodySize)

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		h.writeRegisterError(w, registerErrorInvalidClientMetadata, "Content-Type must be application/json")
		return
	}

	var req authserver.RegisterClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeRegisterError(w, registerErrorInvalidClientMetadata, "invalid JSON request body")
		return
	}

	resp, err := h.authorizer.RegisterClient(r.Context(), req)
	if err != nil {
		if !errors.Is(err, authserver.ErrInvalidRequest) {
			h.writeError(w, r, err, endpointOther)
			return
		}
		code := registerErrorInvalidClientMetadata
		if strings.Contains(err.Error(), "redirect_uri") {
			code = registerErrorInvalidRedirectURI
		}
		h.writeRegisterError(w, code, err.Error())
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, h.logger, http.StatusCreated, resp)
}

func (h *Handler) writeRegisterError(w http.ResponseWriter, code, description string) {
	writeJSON(w, h.logger, http.StatusBadRequest, errorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}
