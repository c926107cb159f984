package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	StoreDriver    string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	SQLitePath     string        `mapstructure:"SQLITE_PATH"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string        `mapstructure:"AUTH_JWKS_URL"`
	JWTSigningKey  string        `mapstructure:"JWT_SIGNING_KEY"`
	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	Timezone       string        `mapstructure:"TIMEZONE"`
	EventsEnabled  bool          `mapstructure:"EVENTS_ENABLED"`
	KafkaBrokers   []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic     string        `mapstructure:"KAFKA_TOPIC"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("SQLITE_PATH", "pillara.db")
	v.SetDefault("CORS_ORIGINS", "http://localhost:8081")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("TIMEZONE", "Local")
	v.SetDefault("EVENTS_ENABLED", false)
	v.SetDefault("KAFKA_TOPIC", "pillara.events")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"SQLITE_PATH", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "JWT_SIGNING_KEY",
		"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
		"BODY_LIMIT", "TIMEZONE", "EVENTS_ENABLED", "KAFKA_BROKERS", "KAFKA_TOPIC",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	if cfg.StoreDriver == DriverPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: requests without a bearer token are served as the dev user.")
	}

	return cfg, nil
}

// splitList normalises comma separated env values; viper only splits
// slices coming from config files.
func splitList(parsed []string, raw string) []string {
	if len(parsed) == 0 && raw != "" {
		parsed = []string{raw}
	}
	var out []string
	for _, item := range parsed {
		for _, s := range strings.Split(item, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves TIMEZONE. Day windows for adherence reports are anchored
// at midnight in this location.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Validate checks that the configuration is safe to run. Outside development
// some form of token verification must be configured.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q, %q or %q, got %q",
			DriverPostgres, DriverSQLite, DriverMemory, c.StoreDriver)
	}
	if c.StoreDriver == DriverMemory && c.IsProduction() {
		return fmt.Errorf("STORE_DRIVER %q is not allowed in production", DriverMemory)
	}

	if !c.IsDev() && c.JWTSigningKey == "" && c.AuthJWKSURL == "" {
		return fmt.Errorf(
			"JWT_SIGNING_KEY or AUTH_JWKS_URL must be set when ENV=%q; "+
				"refusing to start without token verification", c.Env)
	}
	if c.JWTSigningKey != "" && len(c.JWTSigningKey) < 32 {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 bytes, got %d", len(c.JWTSigningKey))
	}

	if c.EventsEnabled {
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when EVENTS_ENABLED is true")
		}
		if strings.TrimSpace(c.KafkaTopic) == "" {
			return fmt.Errorf("KAFKA_TOPIC must not be empty when EVENTS_ENABLED is true")
		}
	}

	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}

	return nil
}
