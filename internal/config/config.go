package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the process-wide configuration, loaded once at startup.
type Config struct {
	Addr  string `env:"QUOTEWELL_ADDR" envDefault:":8080"`
	PGDSN string `env:"QUOTEWELL_PG_DSN"`

	// TokenSecret keys the quote token integrity tag. Rotating it
	// invalidates every outstanding quote link.
	TokenSecret string `env:"QUOTEWELL_TOKEN_SECRET,required,notEmpty"`

	DefaultContactLimit uint64 `env:"QUOTEWELL_DEFAULT_CONTACT_LIMIT" envDefault:"500"`

	RateBurst     int `env:"QUOTEWELL_RATE_BURST" envDefault:"20"`
	RatePerSecond int `env:"QUOTEWELL_RATE_PER_SEC" envDefault:"10"`
}

// Load parses configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
