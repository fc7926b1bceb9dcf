// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import "github.com/stacklok/toolhive-authbroker/pkg/authserver/upstream"

// AuthorizationServerMetadata returns the RFC 8414 metadata document.
func (s *Service) AuthorizationServerMetadata() AuthorizationServerMetadata {
	md := AuthorizationServerMetadata{
		Issuer:                            s.cfg.Issuer,
		AuthorizationEndpoint:             s.cfg.endpoint(PathAuthorize),
		TokenEndpoint:                     s.cfg.endpoint(PathToken),
		RegistrationEndpoint:              s.cfg.endpoint(PathRegister),
		RevocationEndpoint:                s.cfg.endpoint(PathRevoke),
		IntrospectionEndpoint:             s.cfg.endpoint(PathIntrospect),
		ResponseTypesSupported:            []string{ResponseTypeCode},
		GrantTypesSupported:               []string{GrantTypeAuthorizationCode, GrantTypeRefreshToken},
		TokenEndpointAuthMethodsSupported: []string{TokenEndpointAuthMethodClientSecretPost},
		ScopesSupported:                   append([]string(nil), s.cfg.ScopesSupported...),
		CodeChallengeMethodsSupported:     []string{upstream.PKCEChallengeMethodS256},
	}
	if s.jwks {
		md.JWKSURI = s.cfg.endpoint(PathJWKS)
	}
	return md
}

// ProtectedResourceMetadata returns the RFC 9728 metadata document for the
// resource guarded by tokens from this server.
func (s *Service) ProtectedResourceMetadata() ProtectedResourceMetadata {
	return ProtectedResourceMetadata{
		Resource:                              s.cfg.Issuer,
		AuthorizationServers:                  []string{s.cfg.Issuer},
		ScopesSupported:                       []string{"all"},
		BearerMethodsSupported:                []string{"header", "query", "body"},
		ResourceName:                          s.cfg.ServerName,
		ResourceDocumentation:                 s.cfg.Issuer + PathDocs,
		DPoPSigningAlgValuesSupported:         []string{"RS256"},
		TLSClientCertificateBoundAccessTokens: false,
	}
}
