// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package runconfig loads the broker's YAML configuration file and resolves
// it, together with secrets from files and the environment, into the
// collaborators the authorization core is built from.
package runconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted when the matching *_file setting is empty.
const (
	HMACSecretEnvVar           = "THV_AUTHBROKER_HMAC_SECRET"
	UpstreamClientSecretEnvVar = "THV_AUTHBROKER_UPSTREAM_CLIENT_SECRET" // #nosec G101 - env var name, not a credential
	RedisPasswordEnvVar        = "THV_AUTHBROKER_REDIS_PASSWORD"         // #nosec G101 - env var name, not a credential
)

// DefaultListenAddress is used when server.listen is unset.
const DefaultListenAddress = "127.0.0.1:8080"

// RunConfig is the serializable broker configuration.
type RunConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Tokens   TokenConfig    `yaml:"tokens,omitempty"`
	Signing  SigningConfig  `yaml:"signing"`
	Storage  StorageConfig  `yaml:"storage,omitempty"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Metrics  MetricsConfig  `yaml:"metrics,omitempty"`

	// AllowImplicitRegistration registers unknown clients on their first
	// authorization request.
	AllowImplicitRegistration bool `yaml:"allow_implicit_registration,omitempty"`

	// RotateRefreshTokens issues a new refresh token on every refresh.
	RotateRefreshTokens bool `yaml:"rotate_refresh_tokens,omitempty"`
}

// ServerConfig describes how the broker is reached.
type ServerConfig struct {
	Listen      string `yaml:"listen,omitempty"`
	Issuer      string `yaml:"issuer"`
	BaseURL     string `yaml:"base_url,omitempty"`
	ServerName  string `yaml:"server_name,omitempty"`
	CallbackURL string `yaml:"callback_url,omitempty"`
	Audience    string `yaml:"audience,omitempty"`

	// RegisterRateLimit is the sustained registrations per second;
	// negative disables limiting.
	RegisterRateLimit float64 `yaml:"register_rate_limit,omitempty"`
	RegisterBurst     int     `yaml:"register_burst,omitempty"`
}

// TokenConfig holds lifetimes (Go duration strings) and scope defaults.
type TokenConfig struct {
	SessionTTL       time.Duration `yaml:"session_ttl,omitempty"`
	AuthCodeTTL      time.Duration `yaml:"auth_code_ttl,omitempty"`
	AccessTokenTTL   time.Duration `yaml:"access_token_ttl,omitempty"`
	RefreshTokenTTL  time.Duration `yaml:"refresh_token_ttl,omitempty"`
	OperationTimeout time.Duration `yaml:"operation_timeout,omitempty"`
	DefaultScope     string        `yaml:"default_scope,omitempty"`
	ScopesSupported  []string      `yaml:"scopes_supported,omitempty"`
}

// SigningConfig selects the token signer. A signing key file selects
// asymmetric JWS signing; otherwise tokens are signed with an HMAC secret
// read from HMACSecretFile or HMACSecretEnvVar.
type SigningConfig struct {
	HMACSecretFile string `yaml:"hmac_secret_file,omitempty"`

	SigningKeyFile   string   `yaml:"signing_key_file,omitempty"`
	KeyID            string   `yaml:"key_id,omitempty"`
	Algorithm        string   `yaml:"algorithm,omitempty"`
	FallbackKeyFiles []string `yaml:"fallback_key_files,omitempty"`
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	// Type is memory (default), redis or sqlite.
	Type   string        `yaml:"type,omitempty"`
	Redis  *RedisConfig  `yaml:"redis,omitempty"`
	SQLite *SQLiteConfig `yaml:"sqlite,omitempty"`
}

// RedisConfig configures Redis storage.
type RedisConfig struct {
	Addr         string          `yaml:"addr,omitempty"`
	Sentinel     *SentinelConfig `yaml:"sentinel,omitempty"`
	DB           int             `yaml:"db,omitempty"`
	Username     string          `yaml:"username,omitempty"`
	PasswordFile string          `yaml:"password_file,omitempty"`
	KeyPrefix    string          `yaml:"key_prefix,omitempty"`
	DialTimeout  time.Duration   `yaml:"dial_timeout,omitempty"`
	ReadTimeout  time.Duration   `yaml:"read_timeout,omitempty"`
	WriteTimeout time.Duration   `yaml:"write_timeout,omitempty"`
}

// SentinelConfig configures a Sentinel-managed Redis deployment.
type SentinelConfig struct {
	MasterName string   `yaml:"master_name"`
	Addrs      []string `yaml:"addrs"`
	DB         int      `yaml:"db,omitempty"`
}

// SQLiteConfig configures SQLite storage.
type SQLiteConfig struct {
	Path            string        `yaml:"path"`
	CleanupInterval time.Duration `yaml:"cleanup_interval,omitempty"`
}

// UpstreamConfig describes the upstream identity provider.
type UpstreamConfig struct {
	// Type is oidc (default) or oauth2.
	Type                  string          `yaml:"type,omitempty"`
	Issuer                string          `yaml:"issuer,omitempty"`
	AuthorizationEndpoint string          `yaml:"authorization_endpoint,omitempty"`
	TokenEndpoint         string          `yaml:"token_endpoint,omitempty"`
	UserInfo              *UserInfoConfig `yaml:"userinfo,omitempty"`
	ClientID              string          `yaml:"client_id"`
	ClientSecretFile      string          `yaml:"client_secret_file,omitempty"`
	Scopes                []string        `yaml:"scopes,omitempty"`
	ForceConsentScreen    bool            `yaml:"force_consent_screen,omitempty"`

	// CABundleFile replaces the system roots when talking to the IdP.
	CABundleFile    string        `yaml:"ca_bundle_file,omitempty"`
	BlockPrivateIPs bool          `yaml:"block_private_ips,omitempty"`
	Timeout         time.Duration `yaml:"timeout,omitempty"`
}

// UserInfoConfig locates the subject of OAuth2 upstream users.
type UserInfoConfig struct {
	EndpointURL       string            `yaml:"endpoint_url"`
	HTTPMethod        string            `yaml:"http_method,omitempty"`
	AdditionalHeaders map[string]string `yaml:"additional_headers,omitempty"`
	SubjectField      string            `yaml:"subject_field,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
}

// Load reads, parses and validates the configuration file at path.
func Load(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is provided by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates YAML configuration. Unknown keys are errors.
func Parse(data []byte) (*RunConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg RunConfig
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("config is empty")
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings that can be checked without touching the
// filesystem or the environment.
func (c *RunConfig) Validate() error {
	if c.Server.Issuer == "" {
		return errors.New("server.issuer is required")
	}
	if c.Signing.SigningKeyFile == "" && (c.Signing.KeyID != "" || c.Signing.Algorithm != "" ||
		len(c.Signing.FallbackKeyFiles) > 0) {
		return errors.New("signing.key_id, signing.algorithm and signing.fallback_key_files require signing.signing_key_file")
	}

	switch c.Storage.Type {
	case "", "memory":
	case "redis":
		if c.Storage.Redis == nil {
			return errors.New("storage.redis is required for redis storage")
		}
	case "sqlite":
		if c.Storage.SQLite == nil || c.Storage.SQLite.Path == "" {
			return errors.New("storage.sqlite.path is required for sqlite storage")
		}
	default:
		return fmt.Errorf("unknown storage.type %q", c.Storage.Type)
	}

	switch c.Upstream.Type {
	case "", "oidc", "oauth2":
	default:
		return fmt.Errorf("unknown upstream.type %q (must be oidc or oauth2)", c.Upstream.Type)
	}
	if c.Upstream.ClientID == "" {
		return errors.New("upstream.client_id is required")
	}
	return nil
}

// ListenAddress returns server.listen or DefaultListenAddress.
func (c *RunConfig) ListenAddress() string {
	if c.Server.Listen != "" {
		return c.Server.Listen
	}
	return DefaultListenAddress
}
