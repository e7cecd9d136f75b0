// Package config loads process configuration from the environment using
// struct tags, the way the sibling pack's services do, rather than the
// manual os.Getenv switch the teacher originally wrote.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds every environment-driven setting the core and its thin
// HTTP shell need.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"development"`
	Port   string `env:"PORT" envDefault:"8080"`
	AppURL string `env:"APP_URL" envDefault:"http://localhost:8080"`

	MongoURI string `env:"MONGO_URI,required"`
	MongoDB  string `env:"MONGO_DATABASE,required"`

	JWTSecret         string `env:"JWT_SECRET,required"`
	AllowPublicSignup bool   `env:"ALLOW_PUBLIC_REGISTRATION" envDefault:"false"`

	RedisURL string `env:"REDIS_URL"`

	SentryDSN string `env:"SENTRY_DSN"`

	OAuthIssuerURL    string `env:"OAUTH_ISSUER_URL"`
	OAuthClientID     string `env:"OAUTH_CLIENT_ID"`
	OAuthClientSecret string `env:"OAUTH_CLIENT_SECRET"`
	OAuthRedirectURL  string `env:"OAUTH_REDIRECT_URL"`

	ExternalSessionBaseDir string `env:"EXTERNAL_SESSION_BASE_DIR" envDefault:"./data/sessions"`
	CacheDir               string `env:"CACHE_DIR" envDefault:"./data/cache"`

	CameraBaseURL string `env:"CAMERA_BASE_URL"`
	CameraAPIKey  string `env:"CAMERA_API_KEY"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
}

// Load parses Config from the current environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing environment: %w", err)
	}
	return cfg, nil
}

// IsProduction reports whether the process is running with APP_ENV=production.
func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}
