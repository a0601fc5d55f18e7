package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config carries all runtime settings for the lifecycle service.
// Values come from LIFECYCLE_* environment variables.
type Config struct {
	Addr        string `env:"LIFECYCLE_ADDR" envDefault:":8080"`
	DatabaseDSN string `env:"LIFECYCLE_PG_DSN"`
	AuthSecret  string `env:"LIFECYCLE_AUTH_SECRET"`

	GracePeriodDays int           `env:"LIFECYCLE_GRACE_DAYS" envDefault:"30"`
	SweepInterval   time.Duration `env:"LIFECYCLE_SWEEP_INTERVAL" envDefault:"1h"`
	SweepBatch      int           `env:"LIFECYCLE_SWEEP_BATCH" envDefault:"50"`

	BillingBaseURL string        `env:"LIFECYCLE_BILLING_URL"`
	BillingToken   string        `env:"LIFECYCLE_BILLING_TOKEN"`
	BillingTimeout time.Duration `env:"LIFECYCLE_BILLING_TIMEOUT" envDefault:"10s"`

	RateBurst     int `env:"LIFECYCLE_RATE_BURST" envDefault:"20"`
	RatePerSecond int `env:"LIFECYCLE_RATE_PER_SEC" envDefault:"10"`
}

// Load parses configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.GracePeriodDays <= 0 {
		return Config{}, fmt.Errorf("LIFECYCLE_GRACE_DAYS must be positive, got %d", cfg.GracePeriodDays)
	}
	if cfg.SweepBatch <= 0 {
		return Config{}, fmt.Errorf("LIFECYCLE_SWEEP_BATCH must be positive, got %d", cfg.SweepBatch)
	}
	return cfg, nil
}

// GracePeriod returns the grace window as a duration.
func (c Config) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodDays) * 24 * time.Hour
}
