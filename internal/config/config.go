package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	ServiceName string `mapstructure:"SERVICE_NAME"`
	Version     string `mapstructure:"VERSION"`

	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	DBLockTimeout      time.Duration `mapstructure:"DB_LOCK_TIMEOUT"`
	DBStatementTimeout time.Duration `mapstructure:"DB_STATEMENT_TIMEOUT"`
	DBTxRetries        int           `mapstructure:"DB_TX_RETRIES"`

	RedisURL       string        `mapstructure:"REDIS_URL"`
	ConfigCacheTTL time.Duration `mapstructure:"CONFIG_CACHE_TTL"`

	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	DefaultTenant  string        `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`

	// Timezone is the hospital's wall clock; section start times and the
	// cancellation cutoff are computed in it.
	Timezone string `mapstructure:"TIMEZONE"`

	OTLPEndpoint string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool    `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	TraceSample  float64 `mapstructure:"OTEL_TRACES_SAMPLE_RATE"`

	AttendanceCron   string `mapstructure:"ATTENDANCE_CRON"`
	PaymentSweepCron string `mapstructure:"PAYMENT_SWEEP_CRON"`
}

var keys = []string{
	"PORT", "ENV", "SERVICE_NAME", "VERSION",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_LOCK_TIMEOUT", "DB_STATEMENT_TIMEOUT", "DB_TX_RETRIES",
	"REDIS_URL", "CONFIG_CACHE_TTL",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"DEFAULT_TENANT", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT", "BODY_LIMIT",
	"TIMEZONE",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE", "OTEL_TRACES_SAMPLE_RATE",
	"ATTENDANCE_CRON", "PAYMENT_SWEEP_CRON",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("SERVICE_NAME", "registration-server")
	v.SetDefault("VERSION", "dev")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_LOCK_TIMEOUT", "3s")
	v.SetDefault("DB_STATEMENT_TIMEOUT", "10s")
	v.SetDefault("DB_TX_RETRIES", 3)
	v.SetDefault("CONFIG_CACHE_TTL", "5m")
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "15s")
	v.SetDefault("BODY_LIMIT", "256K")
	v.SetDefault("TIMEZONE", "Asia/Shanghai")
	v.SetDefault("OTEL_TRACES_SAMPLE_RATE", 1.0)
	v.SetDefault("ATTENDANCE_CRON", "30 23 * * *")
	v.SetDefault("PAYMENT_SWEEP_CRON", "@every 1m")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// A missing .env is fine; the environment alone is enough.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location loads the configured hospital timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate refuses configurations that would run without real token checks
// outside development, or with timeouts that would let lock waits hang.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if c.IsProduction() && c.AuthSigningKey != "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is for development only; configure AUTH_JWKS_URL in production")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.DBLockTimeout <= 0 {
		return fmt.Errorf("DB_LOCK_TIMEOUT must be positive")
	}
	if c.DBStatementTimeout > 0 && c.DBStatementTimeout < c.DBLockTimeout {
		return fmt.Errorf("DB_STATEMENT_TIMEOUT (%s) must not be shorter than DB_LOCK_TIMEOUT (%s)", c.DBStatementTimeout, c.DBLockTimeout)
	}
	if c.DBTxRetries < 0 {
		return fmt.Errorf("DB_TX_RETRIES must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}
