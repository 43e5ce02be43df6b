// Package config loads application configuration from environment
// variables, once, at startup. The resulting struct is treated as
// immutable for the life of the process.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every runtime setting of the server.
//
// Using a struct for config (instead of scattered os.Getenv calls)
// keeps all knobs discoverable in one place and lets env tags declare
// defaults next to the field they apply to.
type Config struct {
	Port   int    `env:"PORT" envDefault:"8080"`
	DBPath string `env:"DB_PATH" envDefault:"data/wificards.db"`

	// BaseURL is the externally visible origin, used to build
	// confirmation links and the default OAuth callback.
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// JWTSecret signs access and confirmation tokens. Must be set;
	// use JWT_SECRET=$(openssl rand -hex 32).
	JWTSecret string `env:"JWT_SECRET"`

	GitHubClientID     string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	GitHubCallbackURL  string `env:"GITHUB_CALLBACK_URL"`

	// StaticDir, when set, is mounted at / to serve the built
	// frontend. Empty means API-only.
	StaticDir string `env:"STATIC_DIR"`

	// CookieSecure marks session cookies Secure; leave false only for
	// plain-HTTP local development.
	CookieSecure bool `env:"COOKIE_SECURE" envDefault:"false"`

	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"24h"`
	ConfirmTokenTTL time.Duration `env:"CONFIRM_TOKEN_TTL" envDefault:"48h"`

	// Rate limits, requests per minute per client.
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitAuth    int `env:"RATE_LIMIT_AUTH" envDefault:"10"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment into a Config and validates the fields
// that have no usable default.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing environment: %w", err)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("config: JWT_SECRET must be set")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("config: PORT %d out of range", cfg.Port)
	}
	if cfg.GitHubCallbackURL == "" {
		cfg.GitHubCallbackURL = cfg.BaseURL + "/auth/github/callback"
	}

	return cfg, nil
}
