// Package app assembles the engine from configuration. Both binaries build through it
// so the API and the batch reconciler always run the same wiring.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"fee-engine/internal/audit"
	"fee-engine/internal/config"
	"fee-engine/internal/fees"
	"fee-engine/internal/httpapi"
	"fee-engine/internal/ledger"
	"fee-engine/internal/metrics"
	"fee-engine/internal/pricing"
	"fee-engine/internal/promo"
	"fee-engine/internal/reconciliation"
	"fee-engine/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const promoKeyPrefix = "fee:promo"

type promoStore interface {
	httpapi.PromotionStore
	promo.UsageCounter
	promo.UsageRecorder
}

type pricingStore interface {
	pricing.Repository
	pricing.ConfigSource
}

// App holds the wired services and the connections they share.
type App struct {
	Config  config.Config
	Log     *slog.Logger
	Metrics *metrics.Metrics

	Audit          *audit.Service
	Configurations *pricing.Service
	Resolver       *pricing.Resolver
	Promotions     httpapi.PromotionStore
	Fees           *fees.Calculator
	Ledger         *ledger.Service
	LedgerReader   *ledger.BreakerReader
	Reconciliation *reconciliation.Runner

	DB    *sql.DB
	Redis *redis.Client
}

// Build opens storage for cfg and wires every service. cfg must already be validated.
// The caller owns the returned App and must Close it.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{Config: cfg, Log: log, Metrics: metrics.New()}

	if cfg.App.Storage == "postgres" {
		db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{
			MaxOpenConns: cfg.DB.MaxOpenConns,
			MaxIdleConns: cfg.DB.MaxOpenConns,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.DB = db
	}
	if cfg.UsesRedis() {
		rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open redis: %w", err)
		}
		a.Redis = rdb
	}

	var (
		auditRepo audit.Repository
		configs   pricingStore
		promos    promoStore
		logs      interface {
			fees.LogStore
			reconciliation.LogSource
		}
		entries ledger.Repository
		recs    reconciliation.Store
	)
	if a.DB != nil {
		auditRepo = audit.NewPostgresRepo(a.DB)
		configs = pricing.NewPostgresRepo(a.DB)
		promos = promo.NewPostgresStore(a.DB)
		logs = fees.NewPostgresLogStore(a.DB)
		entries = ledger.NewPostgresRepo(a.DB)
		recs = reconciliation.NewPostgresStore(a.DB)
	} else {
		auditRepo = audit.NewMemoryRepo()
		configs = pricing.NewMemoryRepo()
		promos = promo.NewMemoryStore()
		logs = fees.NewMemoryLogStore()
		entries = ledger.NewMemoryRepo()
		recs = reconciliation.NewMemoryStore()
	}

	var counter promo.UsageCounter = promos
	if cfg.Engine.PromoCounter == "redis" {
		counter = promo.NewRedisCounter(a.Redis, promoKeyPrefix, promos, log)
	}

	var locker reconciliation.Locker = reconciliation.NewMemoryLocker()
	if cfg.Recon.Locker == "redis" {
		locker = reconciliation.NewRedisLocker(a.Redis, cfg.Recon.LockTTL)
	}

	places := cfg.Engine.MinorUnits

	a.Audit = audit.NewService(auditRepo)
	a.Configurations = pricing.NewService(configs, a.Audit, log, places)
	a.Resolver = pricing.NewResolver(configs, log, a.Metrics)
	a.Resolver.Strict = cfg.Engine.ResolverStrict
	a.Promotions = promos

	promoEngine := promo.NewEngine(promos, counter, log, a.Metrics, places)
	a.Fees = fees.NewCalculator(a.Resolver, pricing.NewCalculator(places), promoEngine, logs, a.Audit, log, a.Metrics)
	a.Fees.BulkConcurrency = cfg.Engine.BulkConcurrency

	a.Ledger = ledger.NewService(entries, places)
	a.LedgerReader = ledger.NewBreakerReader(a.Ledger, breakerSettings(cfg.Ledger), log, a.Metrics)

	a.Reconciliation = reconciliation.NewRunner(recs, logs, a.LedgerReader, locker, a.Audit, reconciliation.Tolerance{
		Absolute:    cfg.Recon.AbsoluteTolerance,
		RelativePct: cfg.Recon.RelativeTolerancePct,
		VariancePct: cfg.Recon.VarianceTolerancePct,
	}, log, a.Metrics)
	a.Reconciliation.Concurrency = cfg.Recon.Concurrency

	return a, nil
}

func breakerSettings(c config.LedgerConfig) ledger.BreakerSettings {
	s := ledger.DefaultBreakerSettings()
	if c.BreakerMaxRequests > 0 {
		s.MaxRequests = c.BreakerMaxRequests
	}
	if c.BreakerInterval > 0 {
		s.Interval = c.BreakerInterval
	}
	if c.BreakerTimeout > 0 {
		s.Timeout = c.BreakerTimeout
	}
	if c.BreakerMinRequests > 0 {
		s.MinRequests = c.BreakerMinRequests
	}
	if c.BreakerFailureRatio > 0 {
		s.FailureRatio = c.BreakerFailureRatio
	}
	return s
}

// Handlers exposes the wired services to the HTTP layer.
func (a *App) Handlers() httpapi.Handlers {
	return httpapi.Handlers{
		Fees:           a.Fees,
		Configurations: a.Configurations,
		Resolver:       a.Resolver,
		Promotions:     a.Promotions,
		Ledger:         a.Ledger,
		Reconciliation: a.Reconciliation,
		Ready:          a.Ready,
	}
}

// Ready pings the backing stores.
func (a *App) Ready(ctx context.Context) error {
	if a.DB != nil {
		if err := utils.HealthCheck(ctx, a.DB, 2*time.Second); err != nil {
			return err
		}
	}
	if a.Redis != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := a.Redis.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
	}
	return nil
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
