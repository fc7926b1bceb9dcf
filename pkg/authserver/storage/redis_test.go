// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyPrefix = "thv:authbroker:test:"

func newRedisHarness(t *testing.T) *storeHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	clock := newFakeClock()
	s := NewRedisStorageWithClient(client, testKeyPrefix)
	s.now = clock.Now
	t.Cleanup(func() { _ = s.Close() })

	return &storeHarness{
		store: s,
		clock: clock,
		advance: func(d time.Duration) {
			clock.Advance(d)
			mr.FastForward(d)
		},
	}
}

func TestRedisStorage_Conformance(t *testing.T) {
	t.Parallel()
	runConformance(t, newRedisHarness)
}

func TestNewRedisStorage_Standalone(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	s, err := NewRedisStorage(t.Context(), RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	assert.Equal(t, DefaultKeyPrefix, s.keyPrefix)
	require.NoError(t, s.RegisterClient(t.Context(), testClient("c1")))
	assert.True(t, mr.Exists(DefaultKeyPrefix+"client:c1"))
}

func TestNewRedisStorage_Unreachable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStorage(t.Context(), RedisConfig{
		Addr:            addr,
		DialTimeout:     100 * time.Millisecond,
		ConnectAttempts: 2,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestRedisConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     RedisConfig
		wantErr string
	}{
		{
			name: "standalone",
			cfg:  RedisConfig{Addr: "localhost:6379"},
		},
		{
			name: "sentinel",
			cfg: RedisConfig{SentinelConfig: &SentinelConfig{
				MasterName:    "mymaster",
				SentinelAddrs: []string{"sentinel:26379"},
			}},
		},
		{
			name:    "neither",
			cfg:     RedisConfig{},
			wantErr: "either a redis address or sentinel configuration is required",
		},
		{
			name: "both",
			cfg: RedisConfig{
				Addr:           "localhost:6379",
				SentinelConfig: &SentinelConfig{MasterName: "m", SentinelAddrs: []string{"s:1"}},
			},
			wantErr: "mutually exclusive",
		},
		{
			name:    "sentinel without master",
			cfg:     RedisConfig{SentinelConfig: &SentinelConfig{SentinelAddrs: []string{"s:1"}}},
			wantErr: "sentinel master name is required",
		},
		{
			name:    "sentinel without addresses",
			cfg:     RedisConfig{SentinelConfig: &SentinelConfig{MasterName: "m"}},
			wantErr: "at least one sentinel address is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRedisConfig_UniversalOptions(t *testing.T) {
	t.Parallel()

	cfg := RedisConfig{
		SentinelConfig: &SentinelConfig{MasterName: "mymaster", SentinelAddrs: []string{"a:1", "b:2"}, DB: 3},
		ACLUserConfig:  &ACLUserConfig{Username: "user", Password: "pass"},
	}
	cfg.applyDefaults()
	opts := cfg.universalOptions()

	assert.Equal(t, "mymaster", opts.MasterName)
	assert.Equal(t, []string{"a:1", "b:2"}, opts.Addrs)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, "user", opts.Username)
	assert.Equal(t, "pass", opts.Password)
	assert.Equal(t, DefaultDialTimeout, opts.DialTimeout)
	assert.Equal(t, DefaultKeyPrefix, cfg.KeyPrefix)
}

func TestRedisStorage_TokenTTL(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	s := NewRedisStorageWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), testKeyPrefix)
	t.Cleanup(func() { _ = s.Close() })

	now := time.Now()
	s.now = func() time.Time { return now }
	require.NoError(t, s.StoreToken(t.Context(), testTokenRecord(now, "at", "rt")))

	// The record lives as long as its refresh token.
	assert.Equal(t, 24*time.Hour, mr.TTL(testKeyPrefix+"token:at"))
	assert.Equal(t, 24*time.Hour, mr.TTL(testKeyPrefix+"refresh:rt"))
}

func TestRedisStorage_CorruptRecord(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	s := NewRedisStorageWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), testKeyPrefix)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, mr.Set(testKeyPrefix+"client:bad", "{not json"))
	_, err := s.GetClient(t.Context(), "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal client")
}
