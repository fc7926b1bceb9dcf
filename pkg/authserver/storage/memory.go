// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// timedEntry wraps a value with its creation time for TTL tracking.
type timedEntry[T any] struct {
	value     T
	createdAt time.Time
	expiresAt time.Time
}

func (e *timedEntry[T]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// MemoryStorage implements Storage with in-memory maps.
// It is safe for concurrent use and suitable for development, tests and
// single-replica deployments.
type MemoryStorage struct {
	mu sync.RWMutex

	// clients maps client_id -> Client. Clients never expire.
	clients map[string]*Client

	// authSessions maps session ID -> AuthorizationSession.
	authSessions map[string]*timedEntry[*AuthorizationSession]

	// upstreamSessions maps upstream state -> UpstreamSession.
	upstreamSessions map[string]*timedEntry[*UpstreamSession]

	// tokens maps access token (or authorization code) -> TokenRecord.
	// The entry lives as long as any key of the record is usable.
	tokens map[string]*timedEntry[*TokenRecord]

	// refreshIndex maps refresh token -> access token.
	refreshIndex map[string]string

	now func() time.Time

	// cleanupInterval is how often the background cleanup runs.
	// A non-positive interval disables the cleanup goroutine.
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
	closeOnce       sync.Once
}

// MemoryStorageOption configures a MemoryStorage instance.
type MemoryStorageOption func(*MemoryStorage)

// WithCleanupInterval sets a custom cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.cleanupInterval = interval
	}
}

// WithMemoryClock overrides the clock used for expiry checks.
func WithMemoryClock(now func() time.Time) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.now = now
	}
}

// NewMemoryStorage creates a new MemoryStorage and starts the background
// cleanup goroutine. Expiry is enforced on read regardless of cleanup; the
// goroutine only reclaims memory.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	s := &MemoryStorage{
		clients:          make(map[string]*Client),
		authSessions:     make(map[string]*timedEntry[*AuthorizationSession]),
		upstreamSessions: make(map[string]*timedEntry[*UpstreamSession]),
		tokens:           make(map[string]*timedEntry[*TokenRecord]),
		refreshIndex:     make(map[string]string),
		now:              time.Now,
		cleanupInterval:  DefaultCleanupInterval,
		stopCleanup:      make(chan struct{}),
		cleanupDone:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cleanupInterval > 0 {
		go s.cleanupLoop()
	} else {
		close(s.cleanupDone)
	}

	return s
}

// Ping is a no-op for in-memory storage since it is always available.
func (*MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close stops the background cleanup goroutine and waits for it to finish.
func (s *MemoryStorage) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
	})
	<-s.cleanupDone
	return nil
}

func (s *MemoryStorage) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

// cleanupExpired collects expired keys under the read lock, then deletes
// them under the write lock to keep write lock hold time short.
func (s *MemoryStorage) cleanupExpired() {
	now := s.now()

	s.mu.RLock()
	var expiredAuth, expiredUpstream, expiredTokens []string
	for k, v := range s.authSessions {
		if v.expired(now) {
			expiredAuth = append(expiredAuth, k)
		}
	}
	for k, v := range s.upstreamSessions {
		if v.expired(now) {
			expiredUpstream = append(expiredUpstream, k)
		}
	}
	for k, v := range s.tokens {
		if v.expired(now) {
			expiredTokens = append(expiredTokens, k)
		}
	}
	s.mu.RUnlock()

	if len(expiredAuth) == 0 && len(expiredUpstream) == 0 && len(expiredTokens) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range expiredAuth {
		if e, ok := s.authSessions[k]; ok && e.expired(now) {
			delete(s.authSessions, k)
		}
	}
	for _, k := range expiredUpstream {
		if e, ok := s.upstreamSessions[k]; ok && e.expired(now) {
			delete(s.upstreamSessions, k)
		}
	}
	for _, k := range expiredTokens {
		// Re-check: the key may have been replaced since phase one.
		if e, ok := s.tokens[k]; ok && e.expired(now) {
			s.removeTokenLocked(k, e.value)
		}
	}

	slog.Debug("expired storage entries removed",
		"auth_sessions", len(expiredAuth),
		"upstream_sessions", len(expiredUpstream),
		"tokens", len(expiredTokens),
	)
}

// -----------------------
// Clients
// -----------------------

// GetClient loads the client by its ID.
func (s *MemoryStorage) GetClient(_ context.Context, clientID string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		slog.Debug("client not found", "client_id", clientID)
		return nil, fmt.Errorf("%w: client %q", ErrNotFound, clientID)
	}
	return client.Clone(), nil
}

// RegisterClient stores a new client.
func (s *MemoryStorage) RegisterClient(_ context.Context, client *Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("client with a non-empty ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client.ClientID]; ok {
		return fmt.Errorf("%w: client %q", ErrAlreadyExists, client.ClientID)
	}
	s.clients[client.ClientID] = client.Clone()
	return nil
}

// -----------------------
// Authorization sessions
// -----------------------

// CreateAuthSession stores an authorization session.
func (s *MemoryStorage) CreateAuthSession(_ context.Context, session *AuthorizationSession) error {
	if session == nil || session.SessionID == "" {
		return fmt.Errorf("session with a non-empty ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.authSessions[session.SessionID]; ok && !e.expired(s.now()) {
		return fmt.Errorf("%w: authorization session", ErrAlreadyExists)
	}

	cp := *session
	s.authSessions[session.SessionID] = &timedEntry[*AuthorizationSession]{
		value:     &cp,
		createdAt: s.now(),
		expiresAt: session.ExpiresAt,
	}
	return nil
}

// GetAuthSession loads an authorization session.
func (s *MemoryStorage) GetAuthSession(_ context.Context, sessionID string) (*AuthorizationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.authSessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: authorization session", ErrNotFound)
	}
	if entry.expired(s.now()) {
		slog.Debug("authorization session expired", "session_id", sessionID)
		return nil, ErrExpired
	}

	cp := *entry.value
	return &cp, nil
}

// DeleteAuthSession removes an authorization session.
func (s *MemoryStorage) DeleteAuthSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.authSessions[sessionID]; !ok {
		return fmt.Errorf("%w: authorization session", ErrNotFound)
	}
	delete(s.authSessions, sessionID)
	return nil
}

// -----------------------
// Upstream sessions
// -----------------------

// CreateUpstreamSession stores an upstream session keyed by its state.
func (s *MemoryStorage) CreateUpstreamSession(_ context.Context, session *UpstreamSession) error {
	if session == nil || session.State == "" {
		return fmt.Errorf("upstream session with a non-empty state is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.upstreamSessions[session.State]; ok && !e.expired(s.now()) {
		return fmt.Errorf("%w: upstream session", ErrAlreadyExists)
	}

	cp := *session
	s.upstreamSessions[session.State] = &timedEntry[*UpstreamSession]{
		value:     &cp,
		createdAt: s.now(),
		expiresAt: session.ExpiresAt,
	}
	return nil
}

// TakeUpstreamSession loads and removes the upstream session for state.
func (s *MemoryStorage) TakeUpstreamSession(_ context.Context, state string) (*UpstreamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.upstreamSessions[state]
	if !ok {
		return nil, fmt.Errorf("%w: upstream session", ErrNotFound)
	}
	delete(s.upstreamSessions, state)

	if entry.expired(s.now()) {
		slog.Debug("upstream session expired", "session_id", entry.value.SessionID)
		return nil, ErrExpired
	}
	return entry.value, nil
}

// -----------------------
// Tokens
// -----------------------

// StoreToken stores a token record.
func (s *MemoryStorage) StoreToken(_ context.Context, record *TokenRecord) error {
	if record == nil || record.AccessToken == "" {
		return fmt.Errorf("token record with a non-empty access token is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tokens[record.AccessToken]; ok {
		s.removeTokenLocked(record.AccessToken, old.value)
	}
	s.insertTokenLocked(record)
	return nil
}

// GetToken loads a token record by access token.
func (s *MemoryStorage) GetToken(_ context.Context, accessToken string) (*TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.tokens[accessToken]
	if !ok {
		return nil, fmt.Errorf("%w: token", ErrNotFound)
	}
	if entry.value.IsExpired(s.now()) {
		return nil, ErrExpired
	}
	return entry.value.Clone(), nil
}

// GetTokenByRefreshToken loads a token record by refresh token.
func (s *MemoryStorage) GetTokenByRefreshToken(_ context.Context, refreshToken string) (*TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accessToken, ok := s.refreshIndex[refreshToken]
	if !ok {
		return nil, fmt.Errorf("%w: refresh token", ErrNotFound)
	}
	entry, ok := s.tokens[accessToken]
	if !ok {
		return nil, fmt.Errorf("%w: refresh token", ErrNotFound)
	}
	if entry.value.IsRefreshExpired(s.now()) {
		return nil, ErrExpired
	}
	return entry.value.Clone(), nil
}

// ExchangeToken replaces the record keyed by oldAccessToken with record
// under a single write lock.
func (s *MemoryStorage) ExchangeToken(_ context.Context, oldAccessToken string, record *TokenRecord) error {
	if record == nil || record.AccessToken == "" {
		return fmt.Errorf("token record with a non-empty access token is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tokens[oldAccessToken]
	if !ok || entry.expired(s.now()) {
		return fmt.Errorf("%w: token", ErrNotFound)
	}

	s.removeTokenLocked(oldAccessToken, entry.value)
	if existing, ok := s.tokens[record.AccessToken]; ok {
		s.removeTokenLocked(record.AccessToken, existing.value)
	}
	s.insertTokenLocked(record)
	return nil
}

// DeleteToken removes the record keyed by accessToken.
func (s *MemoryStorage) DeleteToken(_ context.Context, accessToken string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tokens[accessToken]
	if !ok {
		return false, nil
	}
	s.removeTokenLocked(accessToken, entry.value)
	return !entry.expired(s.now()), nil
}

// DeleteTokenByRefreshToken removes the record holding refreshToken.
func (s *MemoryStorage) DeleteTokenByRefreshToken(_ context.Context, refreshToken string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accessToken, ok := s.refreshIndex[refreshToken]
	if !ok {
		return false, nil
	}
	entry, ok := s.tokens[accessToken]
	if !ok {
		delete(s.refreshIndex, refreshToken)
		return false, nil
	}
	s.removeTokenLocked(accessToken, entry.value)
	return !entry.expired(s.now()), nil
}

// insertTokenLocked stores a defensive copy of record. Caller holds s.mu.
func (s *MemoryStorage) insertTokenLocked(record *TokenRecord) {
	cp := record.Clone()
	s.tokens[cp.AccessToken] = &timedEntry[*TokenRecord]{
		value:     cp,
		createdAt: s.now(),
		expiresAt: cp.retainUntil(),
	}
	if cp.RefreshToken != "" {
		s.refreshIndex[cp.RefreshToken] = cp.AccessToken
	}
}

// removeTokenLocked removes a record and its refresh index. Caller holds s.mu.
func (s *MemoryStorage) removeTokenLocked(accessToken string, record *TokenRecord) {
	delete(s.tokens, accessToken)
	if record != nil && record.RefreshToken != "" && s.refreshIndex[record.RefreshToken] == accessToken {
		delete(s.refreshIndex, record.RefreshToken)
	}
}

// Stats returns current statistics about storage contents.
func (s *MemoryStorage) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	stats := Stats{Clients: len(s.clients)}
	for _, e := range s.authSessions {
		if !e.expired(now) {
			stats.ActiveSessions++
		}
	}
	for _, e := range s.tokens {
		if !e.expired(now) {
			stats.ActiveTokens++
		}
	}
	return stats, nil
}

// Compile-time interface compliance check.
var _ Storage = (*MemoryStorage)(nil)
