package config

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/ehr/surveillance/internal/domain/epiweek"
)

type Config struct {
	Port              string   `mapstructure:"PORT"`
	Env               string   `mapstructure:"ENV"`
	LogLevel          string   `mapstructure:"LOG_LEVEL"`
	AuthMode          string   `mapstructure:"AUTH_MODE"`
	DatabaseURL       string   `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL          string   `mapstructure:"REDIS_URL"`
	AuthIssuer        string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey    string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins       []string `mapstructure:"CORS_ORIGINS"`
	Timezone          string   `mapstructure:"TIMEZONE"`
	EpiWeekStart      string   `mapstructure:"EPI_WEEK_START"`
	EpiWeekAnchor     string   `mapstructure:"EPI_WEEK_ANCHOR"`
	CodeSequence      string   `mapstructure:"CODE_SEQUENCE"`
	CodePendingPrefix string   `mapstructure:"CODE_PENDING_PREFIX"`
	RequireDiagnosis  bool     `mapstructure:"REQUIRE_DIAGNOSIS"`
	RequireReporter   bool     `mapstructure:"REQUIRE_REPORTER"`
	BlobBackend       string   `mapstructure:"BLOB_BACKEND"`
	S3Bucket          string   `mapstructure:"S3_BUCKET"`
	S3Endpoint        string   `mapstructure:"S3_ENDPOINT"`
	MigrationsDir     string   `mapstructure:"MIGRATIONS_DIR"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "AUTH_MODE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
	"TIMEZONE", "EPI_WEEK_START", "EPI_WEEK_ANCHOR",
	"CODE_SEQUENCE", "CODE_PENDING_PREFIX", "REQUIRE_DIAGNOSIS", "REQUIRE_REPORTER",
	"BLOB_BACKEND", "S3_BUCKET", "S3_ENDPOINT", "MIGRATIONS_DIR",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("TIMEZONE", "UTC")
	v.SetDefault("EPI_WEEK_START", "sunday")
	v.SetDefault("EPI_WEEK_ANCHOR", "wednesday")
	v.SetDefault("CODE_SEQUENCE", "notification")
	v.SetDefault("CODE_PENDING_PREFIX", "TEMP")
	v.SetDefault("BLOB_BACKEND", "memory")
	v.SetDefault("MIGRATIONS_DIR", "migrations")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.ResolvedAuthMode() == AuthDevelopment {
		log.Warn().Msg("development auth is active: every request is treated as an administrator; set ENV=production and AUTH_SIGNING_KEY for real deployments")
	}

	return cfg, nil
}

const (
	AuthDevelopment = "development"
	AuthJWT         = "jwt"
)

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set, otherwise "development" for
// ENV=development and "jwt" for everything else.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthDevelopment
	}
	return AuthJWT
}

// Location loads TIMEZONE.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE: %w", err)
	}
	return loc, nil
}

// EpiWeekPolicy builds the epi-week convention from EPI_WEEK_START,
// EPI_WEEK_ANCHOR and TIMEZONE.
func (c *Config) EpiWeekPolicy() (epiweek.Policy, error) {
	start, err := epiweek.ParseWeekday(c.EpiWeekStart)
	if err != nil {
		return epiweek.Policy{}, fmt.Errorf("EPI_WEEK_START: %w", err)
	}
	anchor, err := epiweek.ParseWeekday(c.EpiWeekAnchor)
	if err != nil {
		return epiweek.Policy{}, fmt.Errorf("EPI_WEEK_ANCHOR: %w", err)
	}
	loc, err := c.Location()
	if err != nil {
		return epiweek.Policy{}, err
	}
	return epiweek.Policy{WeekStart: start, Anchor: anchor, Location: loc}, nil
}

// Validate checks that the configuration is safe to run. Outside
// development auth, AUTH_SIGNING_KEY must be set so that bearer tokens are
// verified.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case AuthDevelopment:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE %q is not allowed in production", mode)
		}
	case AuthJWT:
		if c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY must be set when AUTH_MODE is %q (current ENV=%q)", mode, c.Env)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q or %q, got %q", AuthDevelopment, AuthJWT, mode)
	}

	if _, err := c.EpiWeekPolicy(); err != nil {
		return err
	}
	if strings.TrimSpace(c.CodeSequence) == "" {
		return fmt.Errorf("CODE_SEQUENCE must not be empty")
	}

	switch c.BlobBackend {
	case "memory":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when BLOB_BACKEND is \"s3\"")
		}
	default:
		return fmt.Errorf("BLOB_BACKEND must be \"memory\" or \"s3\", got %q", c.BlobBackend)
	}

	return nil
}
