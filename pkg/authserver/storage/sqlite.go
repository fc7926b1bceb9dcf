// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// CleanupInterval is how often expired rows are purged.
	// Defaults to DefaultCleanupInterval; negative disables purging.
	CleanupInterval time.Duration
}

// SQLiteStorage implements Storage on a local SQLite database.
// Writes are serialized through a single connection, which makes every
// transaction below atomic with respect to other callers.
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time

	stopCleanup chan struct{}
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

// SQLiteStorageOption configures a SQLiteStorage instance.
type SQLiteStorageOption func(*SQLiteStorage)

// WithSQLiteClock overrides the clock used for expiry checks.
func WithSQLiteClock(now func() time.Time) SQLiteStorageOption {
	return func(s *SQLiteStorage) {
		s.now = now
	}
}

// NewSQLiteStorage opens (or creates) the database at cfg.Path and applies
// pending migrations.
func NewSQLiteStorage(ctx context.Context, cfg SQLiteConfig, opts ...SQLiteStorageOption) (*SQLiteStorage, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteStorage{
		db:          db,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	interval := cfg.CleanupInterval
	if interval == 0 {
		interval = DefaultCleanupInterval
	}
	if interval > 0 {
		go s.cleanupLoop(interval)
	} else {
		close(s.cleanupDone)
	}

	return s, nil
}

// Ping checks that the database is reachable.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the purge goroutine and closes the database.
func (s *SQLiteStorage) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
	})
	<-s.cleanupDone
	return s.db.Close()
}

func (s *SQLiteStorage) cleanupLoop(interval time.Duration) {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			if err := s.purgeExpired(context.Background()); err != nil {
				slog.Warn("failed to purge expired storage rows", "error", err)
			}
		}
	}
}

func (s *SQLiteStorage) purgeExpired(ctx context.Context) error {
	now := toMillis(s.now())
	stmts := []string{
		`DELETE FROM auth_sessions WHERE expires_at < ?`,
		`DELETE FROM upstream_sessions WHERE expires_at < ?`,
		`DELETE FROM tokens WHERE retain_until < ?`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt, now); err != nil {
			return fmt.Errorf("purging expired rows: %w", err)
		}
	}
	return nil
}

// -----------------------
// Clients
// -----------------------

// RegisterClient stores a new client.
func (s *SQLiteStorage) RegisterClient(ctx context.Context, client *Client) error {
	if client == nil || client.ClientID == "" {
		return errors.New("client with a non-empty ID is required")
	}

	redirectURIs, err := encodeJSON(client.RedirectURIs)
	if err != nil {
		return err
	}
	grantTypes, err := encodeJSON(client.GrantTypes)
	if err != nil {
		return err
	}
	responseTypes, err := encodeJSON(client.ResponseTypes)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO clients (
			client_id, secret_hash, client_name, application_type, redirect_uris,
			grant_types, response_types, token_endpoint_auth_method, scope,
			issued_at, secret_expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		client.ClientID,
		client.SecretHash,
		client.ClientName,
		client.ApplicationType,
		redirectURIs,
		grantTypes,
		responseTypes,
		client.TokenEndpointAuthMethod,
		client.Scope,
		toMillis(client.IssuedAt),
		toMillis(client.SecretExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: client %q", ErrAlreadyExists, client.ClientID)
		}
		return fmt.Errorf("inserting client: %w", err)
	}
	return nil
}

// GetClient loads the client by its ID.
func (s *SQLiteStorage) GetClient(ctx context.Context, clientID string) (*Client, error) {
	var (
		c                                   Client
		redirectURIs, grantTypes, respTypes string
		issuedAt, secretExpiresAt           int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT client_id, secret_hash, client_name, application_type, redirect_uris,
			grant_types, response_types, token_endpoint_auth_method, scope,
			issued_at, secret_expires_at
		FROM clients WHERE client_id = ?`, clientID,
	).Scan(
		&c.ClientID, &c.SecretHash, &c.ClientName, &c.ApplicationType, &redirectURIs,
		&grantTypes, &respTypes, &c.TokenEndpointAuthMethod, &c.Scope,
		&issuedAt, &secretExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: client %q", ErrNotFound, clientID)
		}
		return nil, fmt.Errorf("querying client: %w", err)
	}

	if c.RedirectURIs, err = decodeJSON(redirectURIs); err != nil {
		return nil, err
	}
	if c.GrantTypes, err = decodeJSON(grantTypes); err != nil {
		return nil, err
	}
	if c.ResponseTypes, err = decodeJSON(respTypes); err != nil {
		return nil, err
	}
	c.IssuedAt = fromMillis(issuedAt)
	c.SecretExpiresAt = fromMillis(secretExpiresAt)
	return &c, nil
}

// -----------------------
// Authorization sessions
// -----------------------

// CreateAuthSession stores an authorization session.
func (s *SQLiteStorage) CreateAuthSession(ctx context.Context, session *AuthorizationSession) error {
	if session == nil || session.SessionID == "" {
		return errors.New("session with a non-empty ID is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	// An expired row with the same ID is replaced rather than rejected.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM auth_sessions WHERE session_id = ? AND expires_at < ?`,
		session.SessionID, toMillis(s.now()),
	); err != nil {
		return fmt.Errorf("deleting expired session: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO auth_sessions (
			session_id, client_id, redirect_uri, scope, state, code_challenge,
			code_challenge_method, response_type, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.SessionID,
		session.ClientID,
		session.RedirectURI,
		session.Scope,
		session.State,
		session.CodeChallenge,
		session.CodeChallengeMethod,
		session.ResponseType,
		toMillis(session.CreatedAt),
		toMillis(session.ExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: authorization session", ErrAlreadyExists)
		}
		return fmt.Errorf("inserting authorization session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetAuthSession loads an authorization session.
func (s *SQLiteStorage) GetAuthSession(ctx context.Context, sessionID string) (*AuthorizationSession, error) {
	var (
		a                    AuthorizationSession
		createdAt, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, client_id, redirect_uri, scope, state, code_challenge,
			code_challenge_method, response_type, created_at, expires_at
		FROM auth_sessions WHERE session_id = ?`, sessionID,
	).Scan(
		&a.SessionID, &a.ClientID, &a.RedirectURI, &a.Scope, &a.State, &a.CodeChallenge,
		&a.CodeChallengeMethod, &a.ResponseType, &createdAt, &expiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: authorization session", ErrNotFound)
		}
		return nil, fmt.Errorf("querying authorization session: %w", err)
	}

	a.CreatedAt = fromMillis(createdAt)
	a.ExpiresAt = fromMillis(expiresAt)
	if a.IsExpired(s.now()) {
		return nil, ErrExpired
	}
	return &a, nil
}

// DeleteAuthSession removes an authorization session.
func (s *SQLiteStorage) DeleteAuthSession(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM auth_sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("deleting authorization session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: authorization session", ErrNotFound)
	}
	return nil
}

// -----------------------
// Upstream sessions
// -----------------------

// CreateUpstreamSession stores an upstream session keyed by its state.
func (s *SQLiteStorage) CreateUpstreamSession(ctx context.Context, session *UpstreamSession) error {
	if session == nil || session.State == "" {
		return errors.New("upstream session with a non-empty state is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO upstream_sessions (state, session_id, code_verifier, nonce, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.State,
		session.SessionID,
		session.CodeVerifier,
		session.Nonce,
		toMillis(session.CreatedAt),
		toMillis(session.ExpiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: upstream session", ErrAlreadyExists)
		}
		return fmt.Errorf("inserting upstream session: %w", err)
	}
	return nil
}

// TakeUpstreamSession loads and removes the upstream session for state.
// DELETE ... RETURNING makes the read and removal a single statement.
func (s *SQLiteStorage) TakeUpstreamSession(ctx context.Context, state string) (*UpstreamSession, error) {
	var (
		u                    UpstreamSession
		createdAt, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM upstream_sessions WHERE state = ?
		RETURNING state, session_id, code_verifier, nonce, created_at, expires_at`, state,
	).Scan(&u.State, &u.SessionID, &u.CodeVerifier, &u.Nonce, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: upstream session", ErrNotFound)
		}
		return nil, fmt.Errorf("taking upstream session: %w", err)
	}

	u.CreatedAt = fromMillis(createdAt)
	u.ExpiresAt = fromMillis(expiresAt)
	if u.IsExpired(s.now()) {
		return nil, ErrExpired
	}
	return &u, nil
}

// -----------------------
// Tokens
// -----------------------

// tokenColumns is the column list shared by token inserts and selects.
const tokenColumns = `access_token, refresh_token, token_type, scope, client_id, user_id,
	upstream_access_token, upstream_refresh_token, upstream_id_token,
	redirect_uri, code_challenge, code_challenge_method,
	created_at, expires_at, refresh_expires_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertToken(ctx context.Context, db execer, record *TokenRecord) error {
	// Replace any row holding either key so re-stores behave like an upsert.
	if _, err := db.ExecContext(ctx,
		`DELETE FROM tokens WHERE access_token = ? OR (refresh_token IS NOT NULL AND refresh_token = ?)`,
		record.AccessToken, nullString(record.RefreshToken),
	); err != nil {
		return fmt.Errorf("replacing token: %w", err)
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO tokens (`+tokenColumns+`, retain_until)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.AccessToken,
		nullString(record.RefreshToken),
		record.TokenType,
		record.Scope,
		record.ClientID,
		record.UserID,
		record.UpstreamAccessToken,
		record.UpstreamRefreshToken,
		record.UpstreamIDToken,
		record.RedirectURI,
		record.CodeChallenge,
		record.CodeChallengeMethod,
		toMillis(record.CreatedAt),
		toMillis(record.ExpiresAt),
		toMillis(record.RefreshExpiresAt),
		toMillis(record.retainUntil()),
	)
	if err != nil {
		return fmt.Errorf("inserting token: %w", err)
	}
	return nil
}

// StoreToken stores a token record.
func (s *SQLiteStorage) StoreToken(ctx context.Context, record *TokenRecord) error {
	if record == nil || record.AccessToken == "" {
		return errors.New("token record with a non-empty access token is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	if err := insertToken(ctx, tx, record); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) queryToken(ctx context.Context, where string, arg string) (*TokenRecord, error) {
	var (
		r                                      TokenRecord
		refresh                                sql.NullString
		createdAt, expiresAt, refreshExpiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM tokens WHERE `+where+` = ?`, arg,
	).Scan(
		&r.AccessToken, &refresh, &r.TokenType, &r.Scope, &r.ClientID, &r.UserID,
		&r.UpstreamAccessToken, &r.UpstreamRefreshToken, &r.UpstreamIDToken,
		&r.RedirectURI, &r.CodeChallenge, &r.CodeChallengeMethod,
		&createdAt, &expiresAt, &refreshExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: token", ErrNotFound)
		}
		return nil, fmt.Errorf("querying token: %w", err)
	}

	r.RefreshToken = refresh.String
	r.CreatedAt = fromMillis(createdAt)
	r.ExpiresAt = fromMillis(expiresAt)
	r.RefreshExpiresAt = fromMillis(refreshExpiresAt)
	return &r, nil
}

// GetToken loads a token record by access token.
func (s *SQLiteStorage) GetToken(ctx context.Context, accessToken string) (*TokenRecord, error) {
	r, err := s.queryToken(ctx, "access_token", accessToken)
	if err != nil {
		return nil, err
	}
	if r.IsExpired(s.now()) {
		return nil, ErrExpired
	}
	return r, nil
}

// GetTokenByRefreshToken loads a token record by refresh token.
func (s *SQLiteStorage) GetTokenByRefreshToken(ctx context.Context, refreshToken string) (*TokenRecord, error) {
	r, err := s.queryToken(ctx, "refresh_token", refreshToken)
	if err != nil {
		return nil, err
	}
	if r.IsRefreshExpired(s.now()) {
		return nil, ErrExpired
	}
	return r, nil
}

// ExchangeToken replaces the record keyed by oldAccessToken with record in
// one transaction.
func (s *SQLiteStorage) ExchangeToken(ctx context.Context, oldAccessToken string, record *TokenRecord) error {
	if record == nil || record.AccessToken == "" {
		return errors.New("token record with a non-empty access token is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx,
		`DELETE FROM tokens WHERE access_token = ? AND retain_until >= ?`,
		oldAccessToken, toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: token", ErrNotFound)
	}

	if err := insertToken(ctx, tx, record); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) deleteToken(ctx context.Context, column, value string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE `+column+` = ? AND retain_until >= ?`,
		value, toMillis(s.now()),
	)
	if err != nil {
		return false, fmt.Errorf("deleting token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n > 0, nil
}

// DeleteToken removes the record keyed by accessToken.
func (s *SQLiteStorage) DeleteToken(ctx context.Context, accessToken string) (bool, error) {
	return s.deleteToken(ctx, "access_token", accessToken)
}

// DeleteTokenByRefreshToken removes the record holding refreshToken.
func (s *SQLiteStorage) DeleteTokenByRefreshToken(ctx context.Context, refreshToken string) (bool, error) {
	return s.deleteToken(ctx, "refresh_token", refreshToken)
}

// Stats counts clients and live sessions and tokens.
func (s *SQLiteStorage) Stats(ctx context.Context) (Stats, error) {
	now := toMillis(s.now())
	var stats Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM clients),
			(SELECT COUNT(*) FROM auth_sessions WHERE expires_at >= ?),
			(SELECT COUNT(*) FROM tokens WHERE retain_until >= ?)`,
		now, now,
	).Scan(&stats.Clients, &stats.ActiveSessions, &stats.ActiveTokens)
	if err != nil {
		return Stats{}, fmt.Errorf("querying stats: %w", err)
	}
	return stats, nil
}

// toMillis stores times as Unix milliseconds; the zero time maps to 0.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeJSON(values []string) (string, error) {
	if values == nil {
		return "[]", nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshaling JSON: %w", err)
	}
	return string(data), nil
}

func decodeJSON(data string) ([]string, error) {
	if data == "" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil, fmt.Errorf("unmarshaling JSON: %w", err)
	}
	return values, nil
}

// isUniqueViolation checks if a SQLite error is a UNIQUE or PRIMARY KEY
// constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }

// Compile-time interface compliance check.
var _ Storage = (*SQLiteStorage)(nil)
