package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/history/internal/platform/dateutil"
	"github.com/ehr/history/internal/platform/retry"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	LegacyBaseURL       string        `mapstructure:"LEGACY_BASE_URL"`
	LegacyTimeout       time.Duration `mapstructure:"LEGACY_TIMEOUT"`
	LegacySessionCookie string        `mapstructure:"LEGACY_SESSION_COOKIE"`

	StoreDriver string `mapstructure:"STORE_DRIVER"`
	SQLitePath  string `mapstructure:"SQLITE_PATH"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	RetryBaseDelay     time.Duration `mapstructure:"RETRY_BASE_DELAY"`
	RetryMaxDelay      time.Duration `mapstructure:"RETRY_MAX_DELAY"`
	RetryBackoffFactor float64       `mapstructure:"RETRY_BACKOFF_FACTOR"`
	RetryMaxAttempts   int           `mapstructure:"RETRY_MAX_ATTEMPTS"`
	FilterDebounce     time.Duration `mapstructure:"FILTER_DEBOUNCE"`

	AutomationRulesFile string   `mapstructure:"AUTOMATION_RULES_FILE"`
	AutoLoadSections    []string `mapstructure:"AUTO_LOAD_SECTIONS"`
	CORSOrigins         []string `mapstructure:"CORS_ORIGINS"`
	TimelineStartDate   string   `mapstructure:"TIMELINE_START_DATE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"LEGACY_BASE_URL", "LEGACY_TIMEOUT", "LEGACY_SESSION_COOKIE",
	"STORE_DRIVER", "SQLITE_PATH", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"RETRY_BASE_DELAY", "RETRY_MAX_DELAY", "RETRY_BACKOFF_FACTOR", "RETRY_MAX_ATTEMPTS",
	"FILTER_DEBOUNCE", "AUTOMATION_RULES_FILE", "AUTO_LOAD_SECTIONS", "CORS_ORIGINS",
	"TIMELINE_START_DATE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LEGACY_TIMEOUT", "30s")
	v.SetDefault("STORE_DRIVER", StoreMemory)
	v.SetDefault("SQLITE_PATH", "history.db")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("RETRY_BASE_DELAY", "1s")
	v.SetDefault("RETRY_MAX_DELAY", "10s")
	v.SetDefault("RETRY_BACKOFF_FACTOR", 2.0)
	v.SetDefault("RETRY_MAX_ATTEMPTS", 3)
	v.SetDefault("FILTER_DEBOUNCE", "250ms")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("TIMELINE_START_DATE", "01/01/1900")

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

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.AutoLoadSections = splitList(cfg.AutoLoadSections, v.GetString("AUTO_LOAD_SECTIONS"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList accepts both a decoded list and a comma separated env value.
func splitList(decoded []string, raw string) []string {
	if len(decoded) == 1 && strings.Contains(decoded[0], ",") {
		raw = decoded[0]
		decoded = nil
	}
	if len(decoded) > 0 {
		return decoded
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
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

// RetryPolicy builds the fetch retry policy from the RETRY_* keys.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		BaseDelay:     c.RetryBaseDelay,
		MaxDelay:      c.RetryMaxDelay,
		BackoffFactor: c.RetryBackoffFactor,
		MaxAttempts:   c.RetryMaxAttempts,
	}
}

// AutoLoad reports whether key fetches as soon as a patient is bound.
func (c *Config) AutoLoad(key string) bool {
	for _, s := range c.AutoLoadSections {
		if s == key || s == "*" {
			return true
		}
	}
	return false
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.LegacyBaseURL == "" {
		return fmt.Errorf("LEGACY_BASE_URL is required")
	}
	switch c.StoreDriver {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is %q", StoreSQLite)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", StorePostgres)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q, %q, or %q, got %q", StoreMemory, StoreSQLite, StorePostgres, c.StoreDriver)
	}
	if c.RetryMaxAttempts < 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must not be negative, got %d", c.RetryMaxAttempts)
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("RETRY_BASE_DELAY must be positive and not above RETRY_MAX_DELAY")
	}
	if c.RetryBackoffFactor < 1 {
		return fmt.Errorf("RETRY_BACKOFF_FACTOR must be at least 1, got %g", c.RetryBackoffFactor)
	}
	if _, ok := dateutil.ParseDate(c.TimelineStartDate); !ok {
		return fmt.Errorf("TIMELINE_START_DATE must be dd/mm/yyyy, got %q", c.TimelineStartDate)
	}
	return nil
}
