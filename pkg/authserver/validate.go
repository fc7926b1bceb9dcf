// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"

	"github.com/stacklok/toolhive-authbroker/pkg/authserver/storage"
)

// ValidateAccessToken checks the token signature, that it is still stored
// and that its client still exists. Any failure, including a panic in a
// collaborator, yields Valid=false.
func (s *Service) ValidateAccessToken(ctx context.Context, token string) (result ValidationResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while validating access token", "panic", r)
			result = ValidationResult{}
		}
	}()

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if token == "" {
		return ValidationResult{}
	}

	claims, err := s.signer.VerifyAccessToken(ctx, token)
	if err != nil {
		s.logger.Debug("access token rejected by signer", "error", err)
		return ValidationResult{}
	}
	if claims == nil {
		s.logger.Error("signer accepted access token without claims")
		return ValidationResult{}
	}

	record, err := s.store.GetToken(ctx, token)
	if err != nil {
		s.logger.Debug("access token not found", "client_id", claims.ClientID, "error", err)
		return ValidationResult{}
	}
	if record.TokenType == tokenTypeAuthorizationCode || record.ClientID != claims.ClientID {
		return ValidationResult{}
	}

	if _, err := s.store.GetClient(ctx, claims.ClientID); err != nil {
		s.logger.Debug("access token client not found", "client_id", claims.ClientID, "error", err)
		return ValidationResult{}
	}

	return ValidationResult{
		Valid:  true,
		Claims: claims,
		Record: record,
	}
}

// RevokeToken removes the record holding token as either its access or its
// refresh token. Failures, including a panic in the store, are logged and
// reported as false.
func (s *Service) RevokeToken(ctx context.Context, token string) (revoked bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while revoking token", "panic", r)
			revoked = false
		}
	}()

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if token == "" {
		return false
	}

	removed, err := s.store.DeleteToken(ctx, token)
	if err != nil {
		s.logger.Error("failed to revoke access token", "error", err)
		return false
	}
	if removed {
		s.logger.Info("revoked access token")
		return true
	}

	removed, err = s.store.DeleteTokenByRefreshToken(ctx, token)
	if err != nil {
		s.logger.Error("failed to revoke refresh token", "error", err)
		return false
	}
	if removed {
		s.logger.Info("revoked refresh token")
	}
	return removed
}

// Stats returns store counters.
func (s *Service) Stats(ctx context.Context) (storage.Stats, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	stats, err := s.store.Stats(ctx)
	if err != nil {
		return storage.Stats{}, storageFailure("stats", err)
	}
	return stats, nil
}
