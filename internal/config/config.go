package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	AuthMode    string   `mapstructure:"AUTH_MODE"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	DefaultScheme string `mapstructure:"DEFAULT_SCHEME"`
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`

	// LockBackend is "none" or "redis".
	LockBackend string        `mapstructure:"LOCK_BACKEND"`
	RedisURL    string        `mapstructure:"REDIS_URL"`
	LockTTL     time.Duration `mapstructure:"LOCK_TTL"`

	// EventsBackend is "log", "amqp" or "webhook".
	EventsBackend string   `mapstructure:"EVENTS_BACKEND"`
	AMQPURL       string   `mapstructure:"AMQP_URL"`
	AMQPExchange  string   `mapstructure:"AMQP_EXCHANGE"`
	WebhookURLs   []string `mapstructure:"WEBHOOK_URLS"`
	WebhookEvents []string `mapstructure:"WEBHOOK_EVENTS"`
	WebhookSecret string   `mapstructure:"WEBHOOK_SECRET"`

	ReferralValidityMonths int `mapstructure:"REFERRAL_VALIDITY_MONTHS"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
	"DEFAULT_SCHEME", "MIGRATIONS_DIR",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT",
	"LOCK_BACKEND", "REDIS_URL", "LOCK_TTL",
	"EVENTS_BACKEND", "AMQP_URL", "AMQP_EXCHANGE", "WEBHOOK_URLS", "WEBHOOK_EVENTS", "WEBHOOK_SECRET",
	"REFERRAL_VALIDITY_MONTHS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("DEFAULT_SCHEME", "default")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "2M")
	v.SetDefault("LOCK_BACKEND", "none")
	v.SetDefault("LOCK_TTL", "30s")
	v.SetDefault("EVENTS_BACKEND", "log")
	v.SetDefault("AMQP_EXCHANGE", "claims.events")
	v.SetDefault("REFERRAL_VALIDITY_MONTHS", 3)

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	cfg.WebhookURLs = splitList(cfg.WebhookURLs)
	cfg.WebhookEvents = splitList(cfg.WebhookEvents)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

// splitList expands a single comma-separated env value and drops blanks.
func splitList(in []string) []string {
	if len(in) == 1 && strings.Contains(in[0], ",") {
		in = strings.Split(in[0], ",")
	}
	out := in[:0]
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE, or "development" in a development
// environment and "jwt" everywhere else.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed when ENV=production")
		}
	case "jwt":
		if c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when AUTH_MODE is \"jwt\"")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}

	switch c.LockBackend {
	case "none":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when LOCK_BACKEND is \"redis\"")
		}
	default:
		return fmt.Errorf("LOCK_BACKEND must be \"none\" or \"redis\", got %q", c.LockBackend)
	}

	switch c.EventsBackend {
	case "log":
	case "amqp":
		if c.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required when EVENTS_BACKEND is \"amqp\"")
		}
	case "webhook":
		if len(c.WebhookURLs) == 0 {
			return fmt.Errorf("WEBHOOK_URLS is required when EVENTS_BACKEND is \"webhook\"")
		}
	default:
		return fmt.Errorf("EVENTS_BACKEND must be \"log\", \"amqp\" or \"webhook\", got %q", c.EventsBackend)
	}

	if c.ReferralValidityMonths <= 0 {
		return fmt.Errorf("REFERRAL_VALIDITY_MONTHS must be positive, got %d", c.ReferralValidityMonths)
	}
	return nil
}
