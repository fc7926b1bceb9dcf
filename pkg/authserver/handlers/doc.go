// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handlers provides the HTTP transport for the authorization broker.
//
// It mounts an authserver.Authorizer on a chi router:
//   - Discovery endpoints (RFC 8414, RFC 9728) and the JWKS document
//   - Dynamic client registration (RFC 7591)
//   - Authorization, upstream callback, token, revocation and introspection
//   - Broker statistics, guarded by a bearer token
//
// Core errors are rendered as RFC 6749 error responses. The HTTP status of
// each error comes from the error itself via httperr.Code.
package handlers
