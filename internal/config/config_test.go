package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QUOTEWELL_TOKEN_SECRET", "0123456789abcdef0123456789abcdef")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Addr)
	}
	if cfg.DefaultContactLimit != 500 {
		t.Fatalf("unexpected default limit: %d", cfg.DefaultContactLimit)
	}
	if cfg.RateBurst != 20 || cfg.RatePerSecond != 10 {
		t.Fatalf("unexpected rate limits: %d/%d", cfg.RateBurst, cfg.RatePerSecond)
	}
}

func TestLoadRequiresTokenSecret(t *testing.T) {
	t.Setenv("QUOTEWELL_TOKEN_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing token secret")
	}
}
