package config

import (
	"testing"
	"time"
)

func TestLoad_RequiresLegacyBaseURL(t *testing.T) {
	t.Setenv("LEGACY_BASE_URL", "")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when LEGACY_BASE_URL is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LEGACY_BASE_URL", "http://legacy.local")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.StoreDriver != StoreMemory {
		t.Errorf("expected memory store, got %s", cfg.StoreDriver)
	}
	if cfg.LegacyTimeout != 30*time.Second {
		t.Errorf("expected 30s legacy timeout, got %s", cfg.LegacyTimeout)
	}
	if cfg.FilterDebounce != 250*time.Millisecond {
		t.Errorf("expected 250ms debounce, got %s", cfg.FilterDebounce)
	}
	if cfg.TimelineStartDate != "01/01/1900" {
		t.Errorf("unexpected timeline start %s", cfg.TimelineStartDate)
	}

	p := cfg.RetryPolicy()
	if p.BaseDelay != time.Second || p.MaxDelay != 10*time.Second || p.BackoffFactor != 2 || p.MaxAttempts != 3 {
		t.Errorf("unexpected retry policy %+v", p)
	}
}

func TestLoad_Lists(t *testing.T) {
	t.Setenv("LEGACY_BASE_URL", "http://legacy.local")
	t.Setenv("CORS_ORIGINS", "http://a.local, http://b.local")
	t.Setenv("AUTO_LOAD_SECTIONS", "exams,documents")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b.local" {
		t.Errorf("unexpected origins %q", cfg.CORSOrigins)
	}
	if !cfg.AutoLoad("exams") || !cfg.AutoLoad("documents") || cfg.AutoLoad("consultations") {
		t.Errorf("unexpected auto-load sections %q", cfg.AutoLoadSections)
	}
}

func TestLoad_PostgresRequiresDatabaseURL(t *testing.T) {
	t.Setenv("LEGACY_BASE_URL", "http://legacy.local")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func validConfig() *Config {
	return &Config{
		LegacyBaseURL:      "http://legacy.local",
		StoreDriver:        StoreMemory,
		RetryBaseDelay:     time.Second,
		RetryMaxDelay:      10 * time.Second,
		RetryBackoffFactor: 2,
		RetryMaxAttempts:   3,
		TimelineStartDate:  "01/01/1900",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"unknown driver", func(c *Config) { c.StoreDriver = "redis" }, true},
		{"sqlite without path", func(c *Config) { c.StoreDriver = StoreSQLite }, true},
		{"sqlite with path", func(c *Config) { c.StoreDriver = StoreSQLite; c.SQLitePath = "x.db" }, false},
		{"max below base", func(c *Config) { c.RetryMaxDelay = time.Millisecond }, true},
		{"shrinking backoff", func(c *Config) { c.RetryBackoffFactor = 0.5 }, true},
		{"negative attempts", func(c *Config) { c.RetryMaxAttempts = -1 }, true},
		{"zero attempts", func(c *Config) { c.RetryMaxAttempts = 0 }, false},
		{"bad start date", func(c *Config) { c.TimelineStartDate = "sempre" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() || !c.IsProduction() {
		t.Error("expected production mode")
	}
}
