// Command reconciler runs fee reconciliation for every client with calculations in a
// period. It exits non-zero if any client failed.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fee-engine/internal/app"
	"fee-engine/internal/config"
	"fee-engine/pkg/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	period := flag.String("period", "", "period to reconcile: YYYY-MM or YYYY-MM-DD (default: previous month)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("dotenv load failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "fee-reconciler")
	slog.SetDefault(log)

	key := *period
	if key == "" {
		key = time.Now().UTC().AddDate(0, -1, 0).Format("2006-01")
	}

	engine, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("engine init failed", "err", err)
		os.Exit(1)
	}
	defer engine.Close()

	started := time.Now()
	outcomes, err := engine.Reconciliation.RunAll(ctx, key)
	if err != nil {
		log.Error("reconciliation failed", "period", key, "err", err)
		engine.Close()
		os.Exit(1)
	}

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			log.Error("client reconciliation failed", "period", key, "client_id", o.ClientID, "err", o.Err)
			continue
		}
		log.Info("client reconciled", "period", key, "client_id", o.ClientID,
			"status", o.Reconciliation.Status, "variance", o.Reconciliation.Variance.String())
	}
	log.Info("reconciliation finished", "period", key, "clients", len(outcomes), "failed", failed,
		"took", time.Since(started).String())

	if failed > 0 {
		engine.Close()
		os.Exit(2)
	}
}
