// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"log/slog"
)

// New creates the storage backend selected by cfg. A nil cfg selects the
// in-memory backend.
func New(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage configuration: %w", err)
	}

	switch cfg.Type {
	case TypeRedis:
		slog.Debug("using redis storage", "sentinel", cfg.Redis.SentinelConfig != nil)
		s, err := NewRedisStorage(ctx, *cfg.Redis)
		if err != nil {
			return nil, err
		}
		return s, nil
	case TypeSQLite:
		slog.Debug("using sqlite storage", "path", cfg.SQLite.Path)
		s, err := NewSQLiteStorage(ctx, *cfg.SQLite)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		slog.Debug("using in-memory storage")
		return NewMemoryStorage(), nil
	}
}
