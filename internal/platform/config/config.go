// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package config handles application-wide settings and environment parsing.

It leverages 'caarlos0/env' to map OS environment variables into a strongly-typed
Go struct, providing early validation and default values.

Usage:

	cfg, err := config.Load()
	if err != nil {
	    log.Fatal(err)
	}

Architecture:

  - Immutability: Once loaded, configuration is read-only.
  - DI-Friendly: Passed to core components (DB, Redis, Guard) via constructors.
  - Optional Backends: An empty DATABASE_URL or REDIS_URL selects the in-memory
    implementation of the corresponding repositories.
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// # Configuration Schema

// Config holds all runtime configuration for the Warden API server.
type Config struct {

	// Server settings
	ServerPort  string `env:"SERVER_PORT"  envDefault:"8080"`
	Environment string `env:"ENVIRONMENT"  envDefault:"development"`
	Debug       bool   `env:"DEBUG"        envDefault:"false"`

	// Relational Database (PostgreSQL). Empty selects in-memory storage.
	DatabaseURL string `env:"DATABASE_URL"`

	// MigrationPath is the filesystem path to the SQL migrations directory.
	MigrationPath string `env:"MIGRATION_PATH" envDefault:"./data/migrations"`

	// Key-Value Cache (Redis). Empty selects the in-process user lock and no settings cache.
	RedisURL string `env:"REDIS_URL"`

	// SettingsCacheTTL bounds how long a settings snapshot may live in Redis.
	SettingsCacheTTL time.Duration `env:"SETTINGS_CACHE_TTL" envDefault:"5m"`

	// Token verification for the administrative and session API
	JWTPubKeyPath string `env:"JWT_PUBLIC_KEY_PATH,required,notEmpty"`
	JWTIssuer     string `env:"JWT_ISSUER" envDefault:"warden"`

	// Session admission behaviour
	AutoEvictSessions    bool   `env:"AUTO_EVICT_SESSIONS"    envDefault:"false"`
	LimitReductionPolicy string `env:"LIMIT_REDUCTION_POLICY" envDefault:"block_new"`

	// SessionSweepInterval is how often expired sessions are deactivated.
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"1m"`

	// Second factor
	TOTPIssuer string `env:"TOTP_ISSUER" envDefault:"Warden"`

	// Rate limiting
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS"   envDefault:"100"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"150"`

	// TrustProxyHeaders honours X-Real-IP and X-Forwarded-For. Enable only
	// behind a proxy that overwrites them.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// Cross-Origin Resource Sharing
	AllowedOriginSuffix string `env:"ALLOWED_ORIGIN_SUFFIX"`
}

// # Configuration Loading

// Load parses environment variables into a [Config] struct.
func Load() (*Config, error) {

	// Initialize an empty config struct
	cfg := &Config{}

	// This will fail if any field marked with 'required' is missing.
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate rejects values the env tags cannot express.
func (c *Config) validate() error {
	switch c.LimitReductionPolicy {
	case "block_new", "force_expire":
	default:
		return fmt.Errorf("config: LIMIT_REDUCTION_POLICY must be block_new or force_expire, got %q", c.LimitReductionPolicy)
	}
	if c.SessionSweepInterval <= 0 {
		return fmt.Errorf("config: SESSION_SWEEP_INTERVAL must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("config: rate limit values must be positive")
	}
	return nil
}

// IsDevelopment reports whether the server is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the server is running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// AllowsOrigin reports whether a browser origin may call the API outside development.
func (c *Config) AllowsOrigin(origin string) bool {
	return c.AllowedOriginSuffix != "" && strings.HasSuffix(origin, c.AllowedOriginSuffix)
}

// UsePostgres reports whether a relational database is configured.
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// UseRedis reports whether a Redis instance is configured.
func (c *Config) UseRedis() bool {
	return c.RedisURL != ""
}
