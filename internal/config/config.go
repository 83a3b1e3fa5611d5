package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	AuthModeDevelopment = "development"
	AuthModeJWT         = "jwt"

	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	LogLevel       string   `mapstructure:"LOG_LEVEL"`
	AuthMode       string   `mapstructure:"AUTH_MODE"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir  string   `mapstructure:"MIGRATIONS_DIR"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	DefaultTenant  string   `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	CacheBackend      string        `mapstructure:"CACHE_BACKEND"`
	CacheCapacity     uint64        `mapstructure:"CACHE_CAPACITY"`
	CacheDefaultTTL   time.Duration `mapstructure:"CACHE_DEFAULT_TTL"`
	CacheSingleFlight bool          `mapstructure:"CACHE_SINGLE_FLIGHT"`
	RedisURL          string        `mapstructure:"REDIS_URL"`

	MongoURL      string `mapstructure:"MONGO_URL"`
	MongoDatabase string `mapstructure:"MONGO_DATABASE"`

	ReconcileInterval time.Duration `mapstructure:"RECONCILE_INTERVAL"`
	ReconcileOnStart  bool          `mapstructure:"RECONCILE_ON_START"`

	// TenantLegacyFallback keeps the process-wide tenant id for code that
	// runs outside a request scope.
	TenantLegacyFallback bool `mapstructure:"TENANT_LEGACY_FALLBACK"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "AUTH_MODE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
	"DEFAULT_TENANT", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "REQUEST_TIMEOUT",
	"CACHE_BACKEND", "CACHE_CAPACITY", "CACHE_DEFAULT_TTL", "CACHE_SINGLE_FLIGHT", "REDIS_URL",
	"MONGO_URL", "MONGO_DATABASE",
	"RECONCILE_INTERVAL", "RECONCILE_ON_START",
	"TENANT_LEGACY_FALLBACK",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("CACHE_BACKEND", CacheBackendMemory)
	v.SetDefault("CACHE_CAPACITY", 10000)
	v.SetDefault("CACHE_DEFAULT_TTL", "5m")
	v.SetDefault("CACHE_SINGLE_FLIGHT", false)
	v.SetDefault("MONGO_DATABASE", "practice")
	v.SetDefault("RECONCILE_INTERVAL", "24h")
	v.SetDefault("RECONCILE_ON_START", false)
	v.SetDefault("TENANT_LEGACY_FALLBACK", true)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.ResolvedAuthMode() == AuthModeDevelopment {
		log.Warn().Msg("development auth is active: requests without a token act as an admin of the default tenant; set ENV=production and AUTH_ISSUER or AUTH_SIGNING_KEY")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set, otherwise "development" for
// ENV=development and "jwt" everywhere else.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	return AuthModeJWT
}

// Level parses LOG_LEVEL, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks that the configuration is consistent and safe to run.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case AuthModeDevelopment:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed with ENV=production")
		}
	case AuthModeJWT:
		if c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when AUTH_MODE is %q (current ENV=%q)", mode, c.Env)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthModeDevelopment, AuthModeJWT, mode)
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}

	switch c.CacheBackend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when CACHE_BACKEND is %q", CacheBackendRedis)
		}
	default:
		return fmt.Errorf("CACHE_BACKEND must be %q or %q, got %q", CacheBackendMemory, CacheBackendRedis, c.CacheBackend)
	}
	if c.CacheDefaultTTL <= 0 {
		return fmt.Errorf("CACHE_DEFAULT_TTL must be positive, got %s", c.CacheDefaultTTL)
	}

	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive, got %s", c.ReconcileInterval)
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive and RATE_LIMIT_BURST at least 1")
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	if c.MongoURL != "" && c.MongoDatabase == "" {
		return fmt.Errorf("MONGO_DATABASE is required when MONGO_URL is set")
	}

	return nil
}
