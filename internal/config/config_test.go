package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:  AppConfig{Env: "local", Port: 8080},
		DB:   DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "fees"},
		Auth: AuthConfig{JWTSecret: "secret"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	err := c.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"APP_ENV", "APP_PORT", "DB_HOST", "JWT_SECRET"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err)
		}
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer, c.Auth.JWTAudience = "iss", "aud"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected error for production without DB_SSLMODE, got %v", err)
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Engine.MinorUnits != 2 || c.Engine.PromoCounter != "postgres" || c.Recon.Locker != "memory" {
		t.Fatalf("unexpected engine defaults: %+v %+v", c.Engine, c.Recon)
	}
	if c.Auth.AccessTokenTTL != 15*time.Minute || c.Recon.LockTTL != 5*time.Minute {
		t.Fatalf("unexpected ttl defaults")
	}
	if c.Ledger.BreakerFailureRatio != 0.6 || c.Ledger.BreakerMinRequests != 5 {
		t.Fatalf("unexpected breaker defaults: %+v", c.Ledger)
	}
}

func TestValidate_MemoryStorage(t *testing.T) {
	c := Config{App: AppConfig{Env: "dev", Port: 8080, Storage: "memory"}, Auth: AuthConfig{JWTSecret: "s"}}
	if err := c.Validate(); err != nil {
		t.Fatalf("memory storage needs no DB, got %v", err)
	}
	if c.Engine.PromoCounter != "memory" {
		t.Fatalf("expected memory promo counter, got %q", c.Engine.PromoCounter)
	}

	c.App.Env = "production"
	if err := c.Validate(); err == nil {
		t.Fatalf("memory storage must be rejected in production")
	}
}

func TestValidate_RedisSelectionRequiresRedis(t *testing.T) {
	c := validLocal()
	c.Engine.PromoCounter = "redis"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "REDIS_HOST") {
		t.Fatalf("expected redis host error, got %v", err)
	}
	c.Redis = RedisConfig{Host: "localhost", Port: 6379}
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoad_ParsesEngineAndRecon(t *testing.T) {
	env := map[string]string{
		"APP_ENV":                      "local",
		"APP_PORT":                     "9090",
		"APP_STORAGE":                  "memory",
		"JWT_SECRET":                   "s",
		"ENGINE_MINOR_UNITS":           "3",
		"ENGINE_RESOLVER_STRICT":       "true",
		"RECON_ABS_TOLERANCE":          "0.01",
		"RECON_REL_TOLERANCE_PCT":      "0.5",
		"RECON_VARIANCE_TOLERANCE_PCT": "1",
		"RECON_LOCK_TTL":               "90s",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.Port != 9090 || c.Engine.MinorUnits != 3 || !c.Engine.ResolverStrict {
		t.Fatalf("unexpected app/engine: %+v %+v", c.App, c.Engine)
	}
	if c.Recon.AbsoluteTolerance.String() != "0.01" || c.Recon.RelativeTolerancePct.String() != "0.5" {
		t.Fatalf("unexpected tolerances: %+v", c.Recon)
	}
	if c.Recon.LockTTL != 90*time.Second {
		t.Fatalf("lock ttl = %s", c.Recon.LockTTL)
	}
}

func TestLoad_RejectsMalformedValues(t *testing.T) {
	t.Setenv("APP_ENV", "local")
	t.Setenv("APP_PORT", "eighty")
	t.Setenv("RECON_ABS_TOLERANCE", "1,5")
	t.Setenv("ENGINE_RESOLVER_STRICT", "maybe")

	_, err := Load()
	if err == nil {
		t.Fatalf("expected parse errors")
	}
	for _, want := range []string{"APP_PORT", "RECON_ABS_TOLERANCE", "ENGINE_RESOLVER_STRICT"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err)
		}
	}
}

func TestLoadDotEnv_DoesNotOverrideEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("FEE_TEST_A=from-file\nFEE_TEST_B=from-file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("FEE_TEST_A", "from-env")
	t.Setenv("FEE_TEST_B", "")
	os.Unsetenv("FEE_TEST_B")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if got := os.Getenv("FEE_TEST_A"); got != "from-env" {
		t.Fatalf("env must win, got %q", got)
	}
	if got := os.Getenv("FEE_TEST_B"); got != "from-file" {
		t.Fatalf("file value missing, got %q", got)
	}

	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing file is not an error, got %v", err)
	}
}
