package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.MaxConcurrency != 3 || cfg.MaxRetries != 3 || cfg.MaxPagesLimit != 50 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.PageTimeout != 60*time.Second || cfg.RetryBaseDelay != 2*time.Second {
		t.Errorf("timeouts = %v / %v", cfg.PageTimeout, cfg.RetryBaseDelay)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MAX_CONCURRENCY", "8")
	t.Setenv("RETRY_BASE_DELAY_MS", "250")
	t.Setenv("PAGE_TIMEOUT_SECONDS", "15")
	t.Setenv("BROWSER_HEADLESS", "false")
	t.Setenv("LOW_CONFIDENCE_POLICY", "SKIP")
	t.Setenv("MAX_RETRIES", "not-a-number")

	cfg := Load()
	if cfg.MaxConcurrency != 8 {
		t.Errorf("MaxConcurrency = %d", cfg.MaxConcurrency)
	}
	if cfg.RetryBaseDelay != 250*time.Millisecond {
		t.Errorf("RetryBaseDelay = %v", cfg.RetryBaseDelay)
	}
	if cfg.PageTimeout != 15*time.Second {
		t.Errorf("PageTimeout = %v", cfg.PageTimeout)
	}
	if cfg.BrowserHeadless {
		t.Errorf("BrowserHeadless should be false")
	}
	if cfg.LowConfidencePolicy != "skip" {
		t.Errorf("LowConfidencePolicy = %q", cfg.LowConfidencePolicy)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("unparseable MAX_RETRIES should fall back, got %d", cfg.MaxRetries)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero workers", func(c *Config) { c.MaxConcurrency = 0 }, "MAX_CONCURRENCY"},
		{"negative rate", func(c *Config) { c.RateLimitMs = -1 }, "RATE_LIMIT_MS"},
		{"zero ceiling", func(c *Config) { c.MaxPagesLimit = 0 }, "MAX_PAGES_LIMIT"},
		{"default above ceiling", func(c *Config) { c.MaxPagesDefault = 99 }, "MAX_PAGES_DEFAULT"},
		{"unknown policy", func(c *Config) { c.LowConfidencePolicy = "drop" }, "LOW_CONFIDENCE_POLICY"},
		{"template without keyword", func(c *Config) { c.SearchURLTemplate = "https://x/search" }, "SEARCH_URL_TEMPLATE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v; want error mentioning %s", err, tt.want)
			}
		})
	}
}

func TestDSNPrefersDatabaseURL(t *testing.T) {
	cfg := Load()
	if !strings.Contains(cfg.DSN(), "dbname=") {
		t.Errorf("DSN = %q", cfg.DSN())
	}
	cfg.DatabaseURL = "postgres://u:p@db:5432/goofish?sslmode=disable"
	if cfg.DSN() != cfg.DatabaseURL {
		t.Errorf("DSN = %q; want DATABASE_URL", cfg.DSN())
	}
}
