package app

import (
	"context"
	"testing"
	"time"

	"fee-engine/internal/config"
	"fee-engine/pkg/logger"
)

func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Config{
		App:  config.AppConfig{Env: "local", Port: 8080, Storage: "memory"},
		Auth: config.AuthConfig{JWTSecret: "s"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	return cfg
}

func TestBuild_MemoryStorage(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Engine.ResolverStrict = true
	cfg.Engine.BulkConcurrency = 3

	a, err := Build(context.Background(), cfg, logger.Discard())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()

	if a.DB != nil || a.Redis != nil {
		t.Fatalf("memory storage must not open connections")
	}
	if !a.Resolver.Strict {
		t.Fatalf("resolver strict flag not applied")
	}
	if a.Fees.BulkConcurrency != 3 || a.Reconciliation.Concurrency != cfg.Recon.Concurrency {
		t.Fatalf("concurrency not applied: bulk=%d recon=%d", a.Fees.BulkConcurrency, a.Reconciliation.Concurrency)
	}
	if err := a.Ready(context.Background()); err != nil {
		t.Fatalf("memory engine must be ready: %v", err)
	}

	h := a.Handlers()
	if h.Fees == nil || h.Configurations == nil || h.Promotions == nil || h.Ledger == nil || h.Reconciliation == nil {
		t.Fatalf("handlers not fully wired: %+v", h)
	}
}

func TestBreakerSettings_OverridesOnlySetFields(t *testing.T) {
	s := breakerSettings(config.LedgerConfig{BreakerTimeout: time.Minute, BreakerFailureRatio: 0.9})
	if s.Timeout != time.Minute || s.FailureRatio != 0.9 {
		t.Fatalf("overrides not applied: %+v", s)
	}
	if s.MaxRequests != 3 || s.MinRequests != 5 || s.Interval != 30*time.Second {
		t.Fatalf("defaults lost: %+v", s)
	}
}
