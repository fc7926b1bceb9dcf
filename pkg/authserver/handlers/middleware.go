// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/stacklok/toolhive-authbroker/pkg/authserver"
	"github.com/stacklok/toolhive-authbroker/pkg/authserver/signer"
)

// ClaimsContextKey is the key used to store claims in the request context.
type ClaimsContextKey struct{}

// ClaimsFromContext returns the claims stored by RequireBearer.
func ClaimsFromContext(ctx context.Context) (*signer.Claims, bool) {
	claims, ok := ctx.Value(ClaimsContextKey{}).(*signer.Claims)
	return claims, ok && claims != nil
}

// RequireBearer rejects requests that do not carry a valid access token.
// The token is read from the Authorization header, then the access_token
// query parameter, then a form-encoded body.
func RequireBearer(authorizer authserver.Authorizer, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, malformed := bearerToken(r)
			if token == "" {
				w.Header().Set("WWW-Authenticate", buildWWWAuthenticate(authorizer, false, ""))
				msg := "Authorization header required"
				if malformed {
					msg = "Invalid Authorization header format"
				}
				http.Error(w, msg, http.StatusUnauthorized)
				return
			}

			result := authorizer.ValidateAccessToken(r.Context(), token)
			if !result.Valid {
				logger.DebugContext(r.Context(), "bearer token rejected", "path", r.URL.Path)
				w.Header().Set("WWW-Authenticate",
					buildWWWAuthenticate(authorizer, true, "the access token is invalid or expired"))
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey{}, result.Claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token. malformed reports an Authorization header
// that is present but not a bearer credential.
func bearerToken(r *http.Request) (token string, malformed bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, value, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return "", true
		}
		return strings.TrimSpace(value), false
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, false
	}
	if r.Method == http.MethodPost &&
		strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		r.Body = http.MaxBytesReader(nil, r.Body, maxFormBodySize)
		if err := r.ParseForm(); err == nil {
			return r.PostForm.Get("access_token"), false
		}
	}
	return "", false
}

// buildWWWAuthenticate builds an RFC 6750 / RFC 9728 challenge. It always
// includes realm and resource_metadata.
func buildWWWAuthenticate(authorizer authserver.Authorizer, includeError bool, errDescription string) string {
	md := authorizer.AuthorizationServerMetadata()
	baseURL := strings.TrimSuffix(md.TokenEndpoint, authserver.PathToken)
	parts := []string{
		fmt.Sprintf(`realm="%s"`, escapeQuotes(md.Issuer)),
		fmt.Sprintf(`resource_metadata="%s"`, escapeQuotes(baseURL+authserver.PathProtectedResourceMetadata)),
	}
	if includeError {
		parts = append(parts, `error="invalid_token"`)
		if errDescription != "" {
			parts = append(parts, fmt.Sprintf(`error_description="%s"`, escapeQuotes(errDescription)))
		}
	}
	return "Bearer " + strings.Join(parts, ", ")
}

func escapeQuotes(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
