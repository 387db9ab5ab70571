package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all configuration required by the API and reconciler processes.
// All values come from env, optionally seeded from a .env file.
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Engine EngineConfig
	Recon  ReconConfig
	Ledger LedgerConfig
}

type AppConfig struct {
	Env  string
	Port int

	// Storage selects where policies, logs, ledger and reconciliations live:
	// postgres, or memory for local runs.
	Storage string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// MaxOpenConns caps the pool; zero keeps the driver defaults from pkg/utils.
	MaxOpenConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

type EngineConfig struct {
	// MinorUnits is the ledger currency's decimal places.
	MinorUnits int32
	// ResolverStrict turns an ambiguous configuration match into an error.
	ResolverStrict  bool
	BulkConcurrency int
	// PromoCounter selects the atomic usage counter: postgres or redis.
	PromoCounter string
}

type ReconConfig struct {
	AbsoluteTolerance    decimal.Decimal
	RelativeTolerancePct decimal.Decimal
	VarianceTolerancePct decimal.Decimal
	Concurrency          int
	// Locker selects the run lock: memory (single process) or redis.
	Locker  string
	LockTTL time.Duration
}

type LedgerConfig struct {
	BreakerMaxRequests  uint32
	BreakerInterval     time.Duration
	BreakerTimeout      time.Duration
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
}

// LoadDotEnv seeds the environment from .env when the file exists. Variables already
// set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Storage = strings.TrimSpace(os.Getenv("APP_STORAGE"))
	c.App.Port, parseErrs = intVar(parseErrs, "APP_PORT", true)

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = intVar(parseErrs, "DB_PORT", false)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	c.DB.MaxOpenConns, parseErrs = intVar(parseErrs, "DB_MAX_OPEN_CONNS", false)

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = intVar(parseErrs, "REDIS_PORT", false)
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate().
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")

	var units int
	units, parseErrs = intVar(parseErrs, "ENGINE_MINOR_UNITS", false)
	c.Engine.MinorUnits = int32(units)
	c.Engine.ResolverStrict, parseErrs = boolVar(parseErrs, "ENGINE_RESOLVER_STRICT")
	c.Engine.BulkConcurrency, parseErrs = intVar(parseErrs, "ENGINE_BULK_CONCURRENCY", false)
	c.Engine.PromoCounter = strings.TrimSpace(os.Getenv("ENGINE_PROMO_COUNTER"))

	c.Recon.AbsoluteTolerance, parseErrs = decimalVar(parseErrs, "RECON_ABS_TOLERANCE")
	c.Recon.RelativeTolerancePct, parseErrs = decimalVar(parseErrs, "RECON_REL_TOLERANCE_PCT")
	c.Recon.VarianceTolerancePct, parseErrs = decimalVar(parseErrs, "RECON_VARIANCE_TOLERANCE_PCT")
	c.Recon.Concurrency, parseErrs = intVar(parseErrs, "RECON_CONCURRENCY", false)
	c.Recon.Locker = strings.TrimSpace(os.Getenv("RECON_LOCKER"))
	c.Recon.LockTTL = mustDuration("RECON_LOCK_TTL")

	var n int
	n, parseErrs = intVar(parseErrs, "LEDGER_BREAKER_MAX_REQUESTS", false)
	c.Ledger.BreakerMaxRequests = uint32(n)
	n, parseErrs = intVar(parseErrs, "LEDGER_BREAKER_MIN_REQUESTS", false)
	c.Ledger.BreakerMinRequests = uint32(n)
	c.Ledger.BreakerInterval = mustDuration("LEDGER_BREAKER_INTERVAL")
	c.Ledger.BreakerTimeout = mustDuration("LEDGER_BREAKER_TIMEOUT")
	c.Ledger.BreakerFailureRatio, parseErrs = floatVar(parseErrs, "LEDGER_BREAKER_FAILURE_RATIO")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.Storage == "" {
		c.App.Storage = "postgres"
	}
	switch c.App.Storage {
	case "postgres":
		errs = append(errs, c.validateDB()...)
	case "memory":
		if c.IsProduction() {
			errs = append(errs, errors.New("APP_STORAGE=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("APP_STORAGE must be postgres or memory, got %q", c.App.Storage))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}

	if c.Engine.MinorUnits == 0 {
		c.Engine.MinorUnits = 2
	}
	if c.Engine.MinorUnits < 0 || c.Engine.MinorUnits > 8 {
		errs = append(errs, fmt.Errorf("ENGINE_MINOR_UNITS must be between 0 and 8, got %d", c.Engine.MinorUnits))
	}
	if c.Engine.BulkConcurrency <= 0 {
		c.Engine.BulkConcurrency = 8
	}
	if c.Engine.PromoCounter == "" {
		c.Engine.PromoCounter = "postgres"
	}
	switch c.Engine.PromoCounter {
	case "postgres":
		if c.App.Storage == "memory" {
			c.Engine.PromoCounter = "memory"
		}
	case "redis":
	case "memory":
		if c.App.Storage != "memory" {
			errs = append(errs, errors.New("ENGINE_PROMO_COUNTER=memory requires APP_STORAGE=memory"))
		}
	default:
		errs = append(errs, fmt.Errorf("ENGINE_PROMO_COUNTER must be postgres or redis, got %q", c.Engine.PromoCounter))
	}

	if c.Recon.AbsoluteTolerance.IsNegative() || c.Recon.RelativeTolerancePct.IsNegative() || c.Recon.VarianceTolerancePct.IsNegative() {
		errs = append(errs, errors.New("RECON_*_TOLERANCE values must not be negative"))
	}
	if c.Recon.Concurrency <= 0 {
		c.Recon.Concurrency = 4
	}
	if c.Recon.Locker == "" {
		c.Recon.Locker = "memory"
	}
	if c.Recon.Locker != "memory" && c.Recon.Locker != "redis" {
		errs = append(errs, fmt.Errorf("RECON_LOCKER must be memory or redis, got %q", c.Recon.Locker))
	}
	if c.Recon.LockTTL <= 0 {
		c.Recon.LockTTL = 5 * time.Minute
	}

	if c.UsesRedis() {
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required when redis is selected"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}

	if c.Ledger.BreakerMaxRequests == 0 {
		c.Ledger.BreakerMaxRequests = 3
	}
	if c.Ledger.BreakerMinRequests == 0 {
		c.Ledger.BreakerMinRequests = 5
	}
	if c.Ledger.BreakerInterval <= 0 {
		c.Ledger.BreakerInterval = 30 * time.Second
	}
	if c.Ledger.BreakerTimeout <= 0 {
		c.Ledger.BreakerTimeout = 10 * time.Second
	}
	if c.Ledger.BreakerFailureRatio == 0 {
		c.Ledger.BreakerFailureRatio = 0.6
	}
	if c.Ledger.BreakerFailureRatio < 0 || c.Ledger.BreakerFailureRatio > 1 {
		errs = append(errs, fmt.Errorf("LEDGER_BREAKER_FAILURE_RATIO must be within (0, 1], got %v", c.Ledger.BreakerFailureRatio))
	}

	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.MaxOpenConns < 0 {
		errs = append(errs, fmt.Errorf("DB_MAX_OPEN_CONNS must be >= 0, got %d", c.DB.MaxOpenConns))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) UsesRedis() bool {
	return c.Engine.PromoCounter == "redis" || c.Recon.Locker == "redis"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func intVar(errs []error, key string, required bool) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		if required {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
		return 0, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func boolVar(errs []error, key string) (bool, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, errs
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, append(errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
	}
	return b, errs
}

func floatVar(errs []error, key string) (float64, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a number, got %q", key, v))
	}
	return f, errs
}

// decimalVar parses money-like values exactly; floats would drift.
func decimalVar(errs []error, key string) (decimal.Decimal, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return decimal.Zero, errs
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, append(errs, fmt.Errorf("%s must be a decimal, got %q", key, v))
	}
	return d, errs
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
