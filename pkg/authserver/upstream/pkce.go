// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/oauth2"
)

// PKCEChallengeMethodS256 is the PKCE challenge method using SHA-256 (RFC 7636).
const PKCEChallengeMethodS256 = "S256"

const (
	minPKCELength = 43
	maxPKCELength = 128
)

// GenerateCodeVerifier generates a random code_verifier per RFC 7636
// Section 4.1. It panics if crypto/rand fails.
func GenerateCodeVerifier() string {
	return oauth2.GenerateVerifier()
}

// ComputeCodeChallenge computes BASE64URL(SHA256(verifier)).
func ComputeCodeChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// VerifyCodeChallenge reports whether verifier hashes to challenge under S256.
func VerifyCodeChallenge(verifier, challenge string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	computed := ComputeCodeChallenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// IsValidPKCEValue reports whether s is a well-formed code_verifier or S256
// code_challenge: 43 to 128 characters from the unreserved set
// [A-Z] / [a-z] / [0-9] / "-" / "." / "_" / "~".
func IsValidPKCEValue(s string) bool {
	if len(s) < minPKCELength || len(s) > maxPKCELength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-', c == '.', c == '_', c == '~':
		default:
			return false
		}
	}
	return true
}

// GenerateState returns a random value for the upstream state parameter.
func GenerateState() string {
	return rand.Text()
}

// GenerateNonce returns a random value for the OIDC nonce parameter.
func GenerateNonce() string {
	return rand.Text()
}
