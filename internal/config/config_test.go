package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Addr)
	}
	if cfg.GracePeriodDays != 30 {
		t.Fatalf("unexpected grace days: %d", cfg.GracePeriodDays)
	}
	if cfg.GracePeriod() != 30*24*time.Hour {
		t.Fatalf("unexpected grace period: %v", cfg.GracePeriod())
	}
	if cfg.SweepInterval != time.Hour {
		t.Fatalf("unexpected sweep interval: %v", cfg.SweepInterval)
	}
}

func TestLoadOverridesAndValidation(t *testing.T) {
	t.Setenv("LIFECYCLE_GRACE_DAYS", "7")
	t.Setenv("LIFECYCLE_SWEEP_BATCH", "10")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GracePeriodDays != 7 || cfg.SweepBatch != 10 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}

	t.Setenv("LIFECYCLE_GRACE_DAYS", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for zero grace period")
	}
}
