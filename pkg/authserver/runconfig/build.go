// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package runconfig

import (
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/stacklok/toolhive-core/env"

	"github.com/stacklok/toolhive-authbroker/pkg/authserver"
	"github.com/stacklok/toolhive-authbroker/pkg/authserver/signer"
	"github.com/stacklok/toolhive-authbroker/pkg/authserver/storage"
	"github.com/stacklok/toolhive-authbroker/pkg/authserver/upstream"
	"github.com/stacklok/toolhive-authbroker/pkg/networking"
)

// BuildConfig converts the RunConfig into a resolved authserver.Config.
// When listenPort is positive, a :0 port in the issuer or base URL is
// replaced with it.
func BuildConfig(cfg *RunConfig, listenPort int) (authserver.Config, error) {
	if cfg == nil {
		return authserver.Config{}, errors.New("RunConfig is nil")
	}
	if err := cfg.Validate(); err != nil {
		return authserver.Config{}, fmt.Errorf("invalid run config: %w", err)
	}

	issuer, err := resolvePort(cfg.Server.Issuer, listenPort)
	if err != nil {
		return authserver.Config{}, fmt.Errorf("failed to resolve issuer URL: %w", err)
	}
	baseURL, err := resolvePort(cfg.Server.BaseURL, listenPort)
	if err != nil {
		return authserver.Config{}, fmt.Errorf("failed to resolve base URL: %w", err)
	}

	core := authserver.Config{
		Issuer:                    issuer,
		BaseURL:                   baseURL,
		ServerName:                cfg.Server.ServerName,
		CallbackURL:               cfg.Server.CallbackURL,
		Audience:                  cfg.Server.Audience,
		DefaultScope:              cfg.Tokens.DefaultScope,
		ScopesSupported:           cfg.Tokens.ScopesSupported,
		SessionTTL:                cfg.Tokens.SessionTTL,
		AuthCodeTTL:               cfg.Tokens.AuthCodeTTL,
		AccessTokenTTL:            cfg.Tokens.AccessTokenTTL,
		RefreshTokenTTL:           cfg.Tokens.RefreshTokenTTL,
		OperationTimeout:          cfg.Tokens.OperationTimeout,
		AllowImplicitRegistration: cfg.AllowImplicitRegistration,
		RotateRefreshTokens:       cfg.RotateRefreshTokens,
	}
	if err := core.Validate(); err != nil {
		return authserver.Config{}, err
	}
	return core.Resolved(), nil
}

// BuildSigner creates the token signer for the resolved core config.
func BuildSigner(cfg *RunConfig, core authserver.Config, envReader env.Reader) (signer.Signer, error) {
	opts := []signer.Option{signer.WithAudience(core.Audience)}

	if cfg.Signing.SigningKeyFile != "" {
		key, err := signer.LoadSigningKey(cfg.Signing.SigningKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load signing key: %w", err)
		}
		fallback := make([]crypto.Signer, 0, len(cfg.Signing.FallbackKeyFiles))
		for _, path := range cfg.Signing.FallbackKeyFiles {
			k, err := signer.LoadSigningKey(path)
			if err != nil {
				return nil, fmt.Errorf("failed to load fallback key %s: %w", path, err)
			}
			fallback = append(fallback, k)
		}
		jws, err := signer.NewJWSSigner(key, cfg.Signing.KeyID, cfg.Signing.Algorithm, core.Issuer, fallback, opts...)
		if err != nil {
			return nil, err
		}
		return jws, nil
	}

	var (
		secret []byte
		err    error
	)
	switch {
	case cfg.Signing.HMACSecretFile != "":
		secret, err = signer.LoadHMACSecret(cfg.Signing.HMACSecretFile)
	case envReader.Getenv(HMACSecretEnvVar) != "":
		slog.Debug("using HMAC secret from environment variable")
		secret, err = signer.ParseHMACSecret(envReader.Getenv(HMACSecretEnvVar))
	default:
		return nil, fmt.Errorf("no signing key configured: set signing.signing_key_file, "+
			"signing.hmac_secret_file or %s", HMACSecretEnvVar)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load HMAC secret: %w", err)
	}
	hmac, err := signer.NewHMACSigner(secret, core.Issuer, opts...)
	if err != nil {
		return nil, err
	}
	return hmac, nil
}

// BuildStorageConfig converts the storage section, resolving the Redis
// password from its file or RedisPasswordEnvVar.
func BuildStorageConfig(cfg *RunConfig, envReader env.Reader) (*storage.Config, error) {
	sc := cfg.Storage
	switch sc.Type {
	case "", string(storage.TypeMemory):
		return storage.DefaultConfig(), nil

	case string(storage.TypeSQLite):
		return &storage.Config{
			Type: storage.TypeSQLite,
			SQLite: &storage.SQLiteConfig{
				Path:            sc.SQLite.Path,
				CleanupInterval: sc.SQLite.CleanupInterval,
			},
		}, nil

	case string(storage.TypeRedis):
		r := sc.Redis
		password, err := resolveSecret(r.PasswordFile, RedisPasswordEnvVar, envReader)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve redis password: %w", err)
		}
		redisCfg := &storage.RedisConfig{
			Addr:         r.Addr,
			DB:           r.DB,
			KeyPrefix:    r.KeyPrefix,
			DialTimeout:  r.DialTimeout,
			ReadTimeout:  r.ReadTimeout,
			WriteTimeout: r.WriteTimeout,
		}
		if r.Sentinel != nil {
			redisCfg.SentinelConfig = &storage.SentinelConfig{
				MasterName:    r.Sentinel.MasterName,
				SentinelAddrs: r.Sentinel.Addrs,
				DB:            r.Sentinel.DB,
			}
		}
		if r.Username != "" || password != "" {
			redisCfg.ACLUserConfig = &storage.ACLUserConfig{
				Username: r.Username,
				Password: password,
			}
		}
		storageCfg := &storage.Config{Type: storage.TypeRedis, Redis: redisCfg}
		if err := storageCfg.Validate(); err != nil {
			return nil, err
		}
		return storageCfg, nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", sc.Type)
	}
}

// BuildUpstreamConfig converts the upstream section. The client secret is
// read from client_secret_file or UpstreamClientSecretEnvVar; the callback
// comes from the resolved core config.
func BuildUpstreamConfig(cfg *RunConfig, core authserver.Config, envReader env.Reader) (*upstream.Config, error) {
	u := cfg.Upstream

	clientSecret, err := resolveSecret(u.ClientSecretFile, UpstreamClientSecretEnvVar, envReader)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upstream client secret: %w", err)
	}
	if clientSecret == "" {
		return nil, fmt.Errorf("no upstream client secret found: set upstream.client_secret_file or %s env var",
			UpstreamClientSecretEnvVar)
	}

	providerType := upstream.ProviderTypeOIDC
	if u.Type != "" {
		providerType = upstream.ProviderType(u.Type)
	}

	upstreamCfg := &upstream.Config{
		Type:                  providerType,
		Issuer:                u.Issuer,
		ClientID:              u.ClientID,
		ClientSecret:          clientSecret,
		RedirectURI:           core.CallbackURL,
		Scopes:                u.Scopes,
		AuthorizationEndpoint: u.AuthorizationEndpoint,
		TokenEndpoint:         u.TokenEndpoint,
		ForceConsentScreen:    u.ForceConsentScreen,
	}
	if u.UserInfo != nil {
		upstreamCfg.UserInfo = &upstream.UserInfoConfig{
			EndpointURL:       u.UserInfo.EndpointURL,
			HTTPMethod:        u.UserInfo.HTTPMethod,
			AdditionalHeaders: u.UserInfo.AdditionalHeaders,
			SubjectField:      u.UserInfo.SubjectField,
		}
	}
	if err := upstreamCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid upstream config: %w", err)
	}
	return upstreamCfg, nil
}

// BuildUpstreamHTTPClient creates the client used for discovery, token and
// userinfo calls to the upstream IdP.
func BuildUpstreamHTTPClient(cfg *RunConfig) (*http.Client, error) {
	u := cfg.Upstream
	client, err := networking.NewHTTPClientBuilder().
		WithCABundle(u.CABundleFile).
		WithPrivateIPs(!u.BlockPrivateIPs).
		WithTimeout(u.Timeout).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream HTTP client: %w", err)
	}
	return client, nil
}

// resolveSecret returns the secret using the following order of precedence:
// 1. file (read and trimmed)
// 2. envVar
// An empty result with a nil error means neither was set.
func resolveSecret(file, envVar string, envReader env.Reader) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file) // #nosec G304 - file path is provided by the operator
		if err != nil {
			return "", fmt.Errorf("failed to read secret file: %w", err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("secret file %s is empty", file)
		}
		return secret, nil
	}
	if secret := envReader.Getenv(envVar); secret != "" {
		slog.Debug("using secret from environment variable", "env_var", envVar)
		return secret, nil
	}
	return "", nil
}

// resolvePort replaces port 0 in rawURL with port. Only an explicit ":0"
// is replaced.
func resolvePort(rawURL string, port int) (string, error) {
	if rawURL == "" || port <= 0 {
		return rawURL, nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Port() != "0" {
		return rawURL, nil
	}

	host, _, err := net.SplitHostPort(parsed.Host)
	if err != nil {
		return "", fmt.Errorf("failed to parse host:port: %w", err)
	}
	parsed.Host = net.JoinHostPort(host, strconv.Itoa(port))
	return parsed.String(), nil
}
