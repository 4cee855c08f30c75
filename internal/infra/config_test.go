package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("POLL_INTERVAL_SECONDS", "")
	t.Setenv("MAX_SECTION_RETRIES", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.PollInterval != 3*time.Second {
		t.Fatalf("PollInterval = %v, want 3s", cfg.PollInterval)
	}
	if cfg.MaxSectionRetries != 2 {
		t.Fatalf("MaxSectionRetries = %d, want 2", cfg.MaxSectionRetries)
	}
}

func TestLoadConfigClampsNegativeRetries(t *testing.T) {
	t.Setenv("MAX_SECTION_RETRIES", "-3")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MaxSectionRetries != 0 {
		t.Fatalf("MaxSectionRetries = %d, want 0", cfg.MaxSectionRetries)
	}
}

func TestRequireDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if err := cfg.RequireDatabase(); err == nil {
		t.Fatal("RequireDatabase should fail without DATABASE_URL")
	}

	t.Setenv("DATABASE_URL", "postgres://example")
	cfg, err = LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if err := cfg.RequireDatabase(); err != nil {
		t.Fatalf("RequireDatabase returned error: %v", err)
	}
}
