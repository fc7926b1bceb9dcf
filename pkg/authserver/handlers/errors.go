// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ory/fosite"
	"github.com/stacklok/toolhive-core/httperr"

	"github.com/stacklok/toolhive-authbroker/pkg/authserver"
)

// errorResponse is the RFC 6749 Section 5.2 error body.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// endpoint selects endpoint-specific error codes.
type endpoint int

const (
	endpointAuthorize endpoint = iota
	endpointToken
	endpointOther
)

// toRFC6749Error maps a core error to its OAuth 2.0 wire error.
func toRFC6749Error(err error, ep endpoint) *fosite.RFC6749Error {
	switch {
	case errors.Is(err, authserver.ErrInvalidRedirectURI):
		if ep == endpointToken {
			return fosite.ErrInvalidGrant
		}
		return fosite.ErrInvalidRequest
	case errors.Is(err, authserver.ErrInvalidRequest),
		errors.Is(err, authserver.ErrSessionNotFound):
		return fosite.ErrInvalidRequest
	case errors.Is(err, authserver.ErrUnsupportedResponseType):
		return fosite.ErrUnsupportedResponseType
	case errors.Is(err, authserver.ErrClientNotFound),
		errors.Is(err, authserver.ErrInvalidClientSecret):
		return fosite.ErrInvalidClient
	case errors.Is(err, authserver.ErrTokenNotFound),
		errors.Is(err, authserver.ErrClientMismatch),
		errors.Is(err, authserver.ErrInvalidCodeVerifier):
		return fosite.ErrInvalidGrant
	case errors.Is(err, authserver.ErrUnsupportedGrantType):
		return fosite.ErrUnsupportedGrantType
	default:
		return fosite.ErrServerError
	}
}

// writeError renders err as an RFC 6749 error response. Server errors carry
// no detail; the cause is logged instead.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, ep endpoint) {
	rfcErr := toRFC6749Error(err, ep)
	status := httperr.Code(err)

	body := errorResponse{Error: rfcErr.ErrorField}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"error", err,
		)
		body.ErrorDescription = rfcErr.DescriptionField
	} else {
		h.logger.DebugContext(r.Context(), "request rejected",
			"path", r.URL.Path,
			"error", err,
		)
		body.ErrorDescription = err.Error()
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, h.logger, status, body)
}

// writeJSON marshals v before writing so encoding failures still yield a
// clean 500.
func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("failed to encode response", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func invalidForm(err error) error {
	return fmt.Errorf("%w: malformed form body: %v", authserver.ErrInvalidRequest, err)
}
