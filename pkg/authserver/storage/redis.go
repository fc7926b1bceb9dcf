// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second

	// DefaultConnectAttempts is how many times the initial ping is tried.
	DefaultConnectAttempts = 5
)

// Key types used to namespace Redis keys.
const (
	KeyTypeClient      = "client"
	KeyTypeAuthSession = "authsession"
	KeyTypeUpstream    = "upstream"
	KeyTypeToken       = "token"
	KeyTypeRefresh     = "refresh"
)

// RedisConfig holds Redis connection configuration for runtime use.
// Exactly one of Addr or SentinelConfig must be set.
type RedisConfig struct {
	// Addr is the address of a standalone Redis server.
	Addr string

	// SentinelConfig selects a Sentinel-managed deployment.
	SentinelConfig *SentinelConfig

	// ACLUserConfig is optional ACL user authentication.
	ACLUserConfig *ACLUserConfig

	// DB is the database index for standalone deployments.
	DB int

	// KeyPrefix namespaces every key. Defaults to DefaultKeyPrefix.
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ConnectAttempts bounds the initial connection retries.
	ConnectAttempts uint
}

// SentinelConfig contains Redis Sentinel configuration.
type SentinelConfig struct {
	MasterName    string
	SentinelAddrs []string
	DB            int
}

// ACLUserConfig contains Redis ACL user authentication configuration.
type ACLUserConfig struct {
	Username string
	Password string
}

// Validate checks the Redis configuration.
func (c *RedisConfig) Validate() error {
	switch {
	case c.Addr == "" && c.SentinelConfig == nil:
		return errors.New("either a redis address or sentinel configuration is required")
	case c.Addr != "" && c.SentinelConfig != nil:
		return errors.New("redis address and sentinel configuration are mutually exclusive")
	}
	if c.SentinelConfig != nil {
		if c.SentinelConfig.MasterName == "" {
			return errors.New("sentinel master name is required")
		}
		if len(c.SentinelConfig.SentinelAddrs) == 0 {
			return errors.New("at least one sentinel address is required")
		}
	}
	return nil
}

func (c *RedisConfig) applyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = DefaultConnectAttempts
	}
}

func (c *RedisConfig) universalOptions() *redis.UniversalOptions {
	opts := &redis.UniversalOptions{
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
	if c.SentinelConfig != nil {
		opts.MasterName = c.SentinelConfig.MasterName
		opts.Addrs = c.SentinelConfig.SentinelAddrs
		opts.DB = c.SentinelConfig.DB
	} else {
		opts.Addrs = []string{c.Addr}
		opts.DB = c.DB
	}
	if c.ACLUserConfig != nil {
		opts.Username = c.ACLUserConfig.Username
		opts.Password = c.ACLUserConfig.Password
	}
	return opts
}

// RedisStorage implements Storage on top of Redis. Entry lifetimes are
// delegated to Redis TTLs; reads additionally check record expiry so that
// access tokens retained for refresh are not served after they expire.
type RedisStorage struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

// NewRedisStorage creates Redis-backed storage, retrying the initial
// connection with exponential backoff.
func NewRedisStorage(ctx context.Context, cfg RedisConfig) (*RedisStorage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis configuration: %w", err)
	}
	cfg.applyDefaults()

	client := redis.NewUniversalClient(cfg.universalOptions())

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 200 * time.Millisecond
	expBackoff.MaxInterval = 5 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, client.Ping(ctx).Err()
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(cfg.ConnectAttempts),
		backoff.WithNotify(func(err error, d time.Duration) {
			slog.Warn("redis not reachable, retrying", "error", err, "retry_in", d)
		}),
	)
	if err != nil {
		// Close the client to prevent resource leak
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStorageWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStorageWithClient creates a RedisStorage with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisStorageWithClient(client redis.UniversalClient, keyPrefix string) *RedisStorage {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisStorage{
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

func redisKey(prefix, keyType, id string) string {
	return prefix + keyType + ":" + id
}

// ttlUntil converts an absolute deadline to a Redis TTL. Redis treats a
// zero TTL as "no expiry", so past deadlines collapse to one millisecond.
func ttlUntil(now, deadline time.Time) time.Duration {
	ttl := deadline.Sub(now)
	if ttl < time.Millisecond {
		return time.Millisecond
	}
	return ttl
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity (health check).
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// -----------------------
// Clients
// -----------------------

type storedClient struct {
	ClientID                string    `json:"client_id"`
	SecretHash              []byte    `json:"secret_hash,omitempty"`
	ClientName              string    `json:"client_name"`
	ApplicationType         string    `json:"application_type"`
	RedirectURIs            []string  `json:"redirect_uris"`
	GrantTypes              []string  `json:"grant_types"`
	ResponseTypes           []string  `json:"response_types"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method"`
	Scope                   string    `json:"scope"`
	IssuedAt                time.Time `json:"issued_at"`
	SecretExpiresAt         time.Time `json:"secret_expires_at"`
}

// RegisterClient stores a new client. SetNX makes the check-and-set atomic.
func (s *RedisStorage) RegisterClient(ctx context.Context, client *Client) error {
	if client == nil || client.ClientID == "" {
		return errors.New("client with a non-empty ID is required")
	}

	data, err := json.Marshal(storedClient(*client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	key := redisKey(s.keyPrefix, KeyTypeClient, client.ClientID)
	ok, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store client: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: client %q", ErrAlreadyExists, client.ClientID)
	}
	return nil
}

// GetClient loads the client by its ID.
func (s *RedisStorage) GetClient(ctx context.Context, clientID string) (*Client, error) {
	key := redisKey(s.keyPrefix, KeyTypeClient, clientID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: client %q", ErrNotFound, clientID)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var stored storedClient
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	client := Client(stored)
	return &client, nil
}

// -----------------------
// Authorization sessions
// -----------------------

type storedAuthSession struct {
	SessionID           string    `json:"session_id"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope"`
	State               string    `json:"state"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	ResponseType        string    `json:"response_type"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// CreateAuthSession stores an authorization session with a TTL matching its expiry.
func (s *RedisStorage) CreateAuthSession(ctx context.Context, session *AuthorizationSession) error {
	if session == nil || session.SessionID == "" {
		return errors.New("session with a non-empty ID is required")
	}

	data, err := json.Marshal(storedAuthSession(*session))
	if err != nil {
		return fmt.Errorf("failed to marshal authorization session: %w", err)
	}

	key := redisKey(s.keyPrefix, KeyTypeAuthSession, session.SessionID)
	ok, err := s.client.SetNX(ctx, key, data, ttlUntil(s.now(), session.ExpiresAt)).Result()
	if err != nil {
		return fmt.Errorf("failed to store authorization session: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: authorization session", ErrAlreadyExists)
	}
	return nil
}

// GetAuthSession loads an authorization session.
func (s *RedisStorage) GetAuthSession(ctx context.Context, sessionID string) (*AuthorizationSession, error) {
	key := redisKey(s.keyPrefix, KeyTypeAuthSession, sessionID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: authorization session", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get authorization session: %w", err)
	}

	var stored storedAuthSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization session: %w", err)
	}
	session := AuthorizationSession(stored)
	if session.IsExpired(s.now()) {
		return nil, ErrExpired
	}
	return &session, nil
}

// DeleteAuthSession removes an authorization session.
func (s *RedisStorage) DeleteAuthSession(ctx context.Context, sessionID string) error {
	key := redisKey(s.keyPrefix, KeyTypeAuthSession, sessionID)

	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to delete authorization session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: authorization session", ErrNotFound)
	}
	return nil
}

// -----------------------
// Upstream sessions
// -----------------------

type storedUpstreamSession struct {
	SessionID    string    `json:"session_id"`
	State        string    `json:"state"`
	CodeVerifier string    `json:"code_verifier"`
	Nonce        string    `json:"nonce,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// CreateUpstreamSession stores an upstream session keyed by its state.
func (s *RedisStorage) CreateUpstreamSession(ctx context.Context, session *UpstreamSession) error {
	if session == nil || session.State == "" {
		return errors.New("upstream session with a non-empty state is required")
	}

	data, err := json.Marshal(storedUpstreamSession(*session))
	if err != nil {
		return fmt.Errorf("failed to marshal upstream session: %w", err)
	}

	key := redisKey(s.keyPrefix, KeyTypeUpstream, session.State)
	ok, err := s.client.SetNX(ctx, key, data, ttlUntil(s.now(), session.ExpiresAt)).Result()
	if err != nil {
		return fmt.Errorf("failed to store upstream session: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: upstream session", ErrAlreadyExists)
	}
	return nil
}

// TakeUpstreamSession loads and removes the upstream session with GETDEL,
// so concurrent callbacks for the same state cannot both succeed.
func (s *RedisStorage) TakeUpstreamSession(ctx context.Context, state string) (*UpstreamSession, error) {
	key := redisKey(s.keyPrefix, KeyTypeUpstream, state)

	data, err := s.client.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: upstream session", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to take upstream session: %w", err)
	}

	var stored storedUpstreamSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal upstream session: %w", err)
	}
	session := UpstreamSession(stored)
	if session.IsExpired(s.now()) {
		return nil, ErrExpired
	}
	return &session, nil
}

// -----------------------
// Tokens
// -----------------------

// storedToken is the JSON form of a TokenRecord. The refresh_token field
// name is read by the Lua scripts below.
type storedToken struct {
	AccessToken          string    `json:"access_token"`
	RefreshToken         string    `json:"refresh_token"`
	TokenType            string    `json:"token_type"`
	Scope                string    `json:"scope"`
	ClientID             string    `json:"client_id"`
	UserID               string    `json:"user_id"`
	UpstreamAccessToken  string    `json:"upstream_access_token,omitempty"`
	UpstreamRefreshToken string    `json:"upstream_refresh_token,omitempty"`
	UpstreamIDToken      string    `json:"upstream_id_token,omitempty"`
	RedirectURI          string    `json:"redirect_uri,omitempty"`
	CodeChallenge        string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod  string    `json:"code_challenge_method,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	ExpiresAt            time.Time `json:"expires_at"`
	RefreshExpiresAt     time.Time `json:"refresh_expires_at"`
}

func (s *RedisStorage) marshalToken(record *TokenRecord) ([]byte, time.Duration, error) {
	data, err := json.Marshal(storedToken(*record))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal token record: %w", err)
	}
	return data, ttlUntil(s.now(), record.retainUntil()), nil
}

func (s *RedisStorage) loadToken(ctx context.Context, key string) (*TokenRecord, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: token", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var stored storedToken
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token record: %w", err)
	}
	record := TokenRecord(stored)
	return &record, nil
}

// StoreToken stores a token record and its refresh index in one transaction.
func (s *RedisStorage) StoreToken(ctx context.Context, record *TokenRecord) error {
	if record == nil || record.AccessToken == "" {
		return errors.New("token record with a non-empty access token is required")
	}

	data, ttl, err := s.marshalToken(record)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisKey(s.keyPrefix, KeyTypeToken, record.AccessToken), data, ttl)
		if record.RefreshToken != "" {
			pipe.Set(ctx, redisKey(s.keyPrefix, KeyTypeRefresh, record.RefreshToken), record.AccessToken, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

// GetToken loads a token record by access token.
func (s *RedisStorage) GetToken(ctx context.Context, accessToken string) (*TokenRecord, error) {
	record, err := s.loadToken(ctx, redisKey(s.keyPrefix, KeyTypeToken, accessToken))
	if err != nil {
		return nil, err
	}
	if record.IsExpired(s.now()) {
		return nil, ErrExpired
	}
	return record, nil
}

// GetTokenByRefreshToken loads a token record by refresh token.
func (s *RedisStorage) GetTokenByRefreshToken(ctx context.Context, refreshToken string) (*TokenRecord, error) {
	accessToken, err := s.client.Get(ctx, redisKey(s.keyPrefix, KeyTypeRefresh, refreshToken)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: refresh token", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	record, err := s.loadToken(ctx, redisKey(s.keyPrefix, KeyTypeToken, accessToken))
	if err != nil {
		return nil, err
	}
	if record.RefreshToken != refreshToken {
		return nil, fmt.Errorf("%w: refresh token", ErrNotFound)
	}
	if record.IsRefreshExpired(s.now()) {
		return nil, ErrExpired
	}
	return record, nil
}

// deleteTokenScript removes a token record and, if it still points back at
// the record, its refresh index entry.
// KEYS[1] = token key. ARGV[1] = refresh key prefix, ARGV[2] = access token.
// Returns 1 if the record was removed, 0 if it did not exist.
var deleteTokenScript = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
	return 0
end
redis.call('DEL', KEYS[1])
local record = cjson.decode(data)
if record.refresh_token and record.refresh_token ~= '' then
	local rk = ARGV[1] .. record.refresh_token
	if redis.call('GET', rk) == ARGV[2] then
		redis.call('DEL', rk)
	end
end
return 1
`)

// exchangeTokenScript atomically replaces one token record with another.
// KEYS[1] = old token key, KEYS[2] = new token key.
// ARGV[1] = refresh key prefix, ARGV[2] = old access token,
// ARGV[3] = new record JSON, ARGV[4] = TTL in milliseconds,
// ARGV[5] = new access token, ARGV[6] = new refresh token (may be empty).
// Returns 1 on success, 0 if the old record did not exist.
var exchangeTokenScript = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
	return 0
end
redis.call('DEL', KEYS[1])
local old = cjson.decode(data)
if old.refresh_token and old.refresh_token ~= '' then
	local rk = ARGV[1] .. old.refresh_token
	if redis.call('GET', rk) == ARGV[2] then
		redis.call('DEL', rk)
	end
end
redis.call('SET', KEYS[2], ARGV[3], 'PX', ARGV[4])
if ARGV[6] ~= '' then
	redis.call('SET', ARGV[1] .. ARGV[6], ARGV[5], 'PX', ARGV[4])
end
return 1
`)

// deleteByRefreshScript removes the refresh index entry and the record it
// points at.
// KEYS[1] = refresh key. ARGV[1] = token key prefix.
// Returns the number of token records removed.
var deleteByRefreshScript = redis.NewScript(`
local access = redis.call('GET', KEYS[1])
if not access then
	return 0
end
redis.call('DEL', KEYS[1])
return redis.call('DEL', ARGV[1] .. access)
`)

// ExchangeToken replaces the record keyed by oldAccessToken with record.
// The Lua script derives refresh keys at runtime, which is safe for
// standalone and Sentinel deployments but not for Redis Cluster.
func (s *RedisStorage) ExchangeToken(ctx context.Context, oldAccessToken string, record *TokenRecord) error {
	if record == nil || record.AccessToken == "" {
		return errors.New("token record with a non-empty access token is required")
	}

	data, ttl, err := s.marshalToken(record)
	if err != nil {
		return err
	}

	keys := []string{
		redisKey(s.keyPrefix, KeyTypeToken, oldAccessToken),
		redisKey(s.keyPrefix, KeyTypeToken, record.AccessToken),
	}
	result, err := exchangeTokenScript.Run(ctx, s.client, keys,
		redisKey(s.keyPrefix, KeyTypeRefresh, ""),
		oldAccessToken,
		data,
		ttl.Milliseconds(),
		record.AccessToken,
		record.RefreshToken,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to exchange token: %w", err)
	}
	if result == 0 {
		return fmt.Errorf("%w: token", ErrNotFound)
	}
	return nil
}

// DeleteToken removes the record keyed by accessToken.
func (s *RedisStorage) DeleteToken(ctx context.Context, accessToken string) (bool, error) {
	result, err := deleteTokenScript.Run(ctx, s.client,
		[]string{redisKey(s.keyPrefix, KeyTypeToken, accessToken)},
		redisKey(s.keyPrefix, KeyTypeRefresh, ""),
		accessToken,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to delete token: %w", err)
	}
	return result == 1, nil
}

// DeleteTokenByRefreshToken removes the record holding refreshToken.
func (s *RedisStorage) DeleteTokenByRefreshToken(ctx context.Context, refreshToken string) (bool, error) {
	result, err := deleteByRefreshScript.Run(ctx, s.client,
		[]string{redisKey(s.keyPrefix, KeyTypeRefresh, refreshToken)},
		redisKey(s.keyPrefix, KeyTypeToken, ""),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return result > 0, nil
}

// Stats counts keys by type using SCAN. Expired entries are evicted by
// Redis TTLs, so every key found is live.
func (s *RedisStorage) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	counts := []struct {
		keyType string
		dst     *int
	}{
		{KeyTypeClient, &stats.Clients},
		{KeyTypeAuthSession, &stats.ActiveSessions},
		{KeyTypeToken, &stats.ActiveTokens},
	}
	for _, c := range counts {
		n, err := s.countKeys(ctx, redisKey(s.keyPrefix, c.keyType, "*"))
		if err != nil {
			return Stats{}, err
		}
		*c.dst = n
	}
	return stats, nil
}

func (s *RedisStorage) countKeys(ctx context.Context, pattern string) (int, error) {
	n := 0
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan keys: %w", err)
	}
	return n, nil
}

// Compile-time interface compliance check.
var _ Storage = (*RedisStorage)(nil)
