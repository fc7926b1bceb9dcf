// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeChallengeRoundTrip(t *testing.T) {
	t.Parallel()

	verifier := GenerateCodeVerifier()
	assert.True(t, IsValidPKCEValue(verifier))

	challenge := ComputeCodeChallenge(verifier)
	assert.True(t, IsValidPKCEValue(challenge))
	assert.True(t, VerifyCodeChallenge(verifier, challenge))
	assert.False(t, VerifyCodeChallenge(GenerateCodeVerifier(), challenge))
	assert.False(t, VerifyCodeChallenge("", challenge))
	assert.False(t, VerifyCodeChallenge(verifier, ""))
}

func TestComputeCodeChallenge_RFC7636Vector(t *testing.T) {
	t.Parallel()

	// RFC 7636 Appendix B.
	assert.Equal(t,
		"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		ComputeCodeChallenge("dBjftJeZ4CVP-1mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
}

func TestIsValidPKCEValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"minimum length", strings.Repeat("a", 43), true},
		{"maximum length", strings.Repeat("a", 128), true},
		{"all unreserved characters", "ABCxyz019-._~" + strings.Repeat("a", 30), true},
		{"too short", strings.Repeat("a", 42), false},
		{"too long", strings.Repeat("a", 129), false},
		{"reserved character", strings.Repeat("a", 42) + "+", false},
		{"padding", strings.Repeat("a", 42) + "=", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsValidPKCEValue(tt.value))
		})
	}
}

func TestGenerateStateAndNonce(t *testing.T) {
	t.Parallel()

	seen := make(map[string]struct{})
	for range 100 {
		s := GenerateState()
		assert.NotEmpty(t, s)
		_, dup := seen[s]
		assert.False(t, dup, "state values must not repeat")
		seen[s] = struct{}{}
	}
	assert.NotEqual(t, GenerateNonce(), GenerateNonce())
}
