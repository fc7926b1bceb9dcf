// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"errors"
	"fmt"
	"time"
)

// Type defines the type of storage backend.
type Type string

const (
	// TypeMemory uses in-memory storage (default).
	TypeMemory Type = "memory"

	// TypeRedis uses a Redis server or Sentinel-managed Redis deployment.
	TypeRedis Type = "redis"

	// TypeSQLite uses a local SQLite database file.
	TypeSQLite Type = "sqlite"
)

const (
	// DefaultCleanupInterval is how often the in-memory cleanup runs.
	DefaultCleanupInterval = 5 * time.Minute

	// DefaultKeyPrefix is the Redis key prefix used when none is configured.
	DefaultKeyPrefix = "thv:authbroker:"
)

// Config configures the storage backend.
type Config struct {
	// Type specifies the storage backend type. Defaults to memory.
	Type Type

	// Redis is required when Type is TypeRedis.
	Redis *RedisConfig

	// SQLite is required when Type is TypeSQLite.
	SQLite *SQLiteConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Type: TypeMemory,
	}
}

// Validate checks that the configuration selected a known backend and
// supplied its settings.
func (c *Config) Validate() error {
	switch c.Type {
	case "", TypeMemory:
		return nil
	case TypeRedis:
		if c.Redis == nil {
			return errors.New("redis configuration is required for redis storage")
		}
		return c.Redis.Validate()
	case TypeSQLite:
		if c.SQLite == nil || c.SQLite.Path == "" {
			return errors.New("sqlite path is required for sqlite storage")
		}
		return nil
	default:
		return fmt.Errorf("unknown storage type: %q", c.Type)
	}
}
