package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"fee-engine/internal/audit"
	"fee-engine/internal/fees"
	"fee-engine/internal/ledger"
	"fee-engine/internal/metrics"
	"fee-engine/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Store persists one record per (period, client_id).
type Store interface {
	GetReconciliation(ctx context.Context, period, clientID string) (FeeReconciliation, bool, error)
	UpsertReconciliation(ctx context.Context, rec FeeReconciliation) error
	ListReconciliations(ctx context.Context, period string) ([]FeeReconciliation, error)
}

// LogSource is the read side of the calculation log.
type LogSource interface {
	ListCalculationLogs(ctx context.Context, clientID string, from, to time.Time) ([]fees.CalculationLog, error)
	ListClients(ctx context.Context, from, to time.Time) ([]string, error)
}

type Auditor interface {
	LogReconciliationResolved(ctx context.Context, actor audit.Actor, clientID, reconciliationID, notes string) error
}

// Runner reconciles computed fees against the ledger.
//
// State machine: PENDING -> IN_PROGRESS -> COMPLETED | DISCREPANCY -> (manual) RESOLVED.
// A run never marks a record COMPLETED on missing data: if the ledger cannot be read the
// record stays IN_PROGRESS and the run fails with ErrLedgerUnavailable.
type Runner struct {
	store   Store
	logs    LogSource
	ledger  ledger.Reader
	locks   Locker
	audit   Auditor
	log     *slog.Logger
	metrics *metrics.Metrics
	tol     Tolerance

	// Concurrency bounds RunAll.
	Concurrency int

	clock func() time.Time
}

func NewRunner(store Store, logs LogSource, l ledger.Reader, locks Locker, auditor Auditor, tol Tolerance, log *slog.Logger, m *metrics.Metrics) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if locks == nil {
		locks = NewMemoryLocker()
	}
	return &Runner{
		store:       store,
		logs:        logs,
		ledger:      l,
		locks:       locks,
		audit:       auditor,
		log:         log,
		metrics:     m,
		tol:         tol,
		Concurrency: 4,
		clock:       time.Now,
	}
}

// Run reconciles one client over one period and upserts the result.
//
// Reruns over unchanged logs and ledger leave the stored record byte-identical,
// including its timestamps and a RESOLVED status.
func (r *Runner) Run(ctx context.Context, periodKey, clientID string) (FeeReconciliation, error) {
	started := r.clock()
	p, err := ParsePeriod(periodKey)
	if err != nil {
		return FeeReconciliation{}, err
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return FeeReconciliation{}, fmt.Errorf("%w: client_id required", ErrInvalidRequest)
	}
	log := logger.From(ctx, r.log).With("period", p.Key, "client_id", clientID)

	unlock, err := r.locks.Lock(ctx, lockKey(p.Key, clientID))
	if err != nil {
		return FeeReconciliation{}, err
	}
	defer unlock()

	prev, found, err := r.store.GetReconciliation(ctx, p.Key, clientID)
	if err != nil {
		return FeeReconciliation{}, err
	}

	now := r.clock().UTC()
	rec := prev
	if !found {
		rec = FeeReconciliation{
			ID:          uuid.NewString(),
			Period:      p.Key,
			ClientID:    clientID,
			PeriodStart: p.From,
			PeriodEnd:   p.To,
			Status:      StatusPending,
			CreatedAt:   now,
		}
	}

	rec.Status = StatusInProgress
	rec.UpdatedAt = now
	if err := r.store.UpsertReconciliation(ctx, rec); err != nil {
		return FeeReconciliation{}, err
	}
	log.Info("reconciliation started", "id", rec.ID)

	logs, err := r.logs.ListCalculationLogs(ctx, clientID, p.From, p.To)
	if err != nil {
		r.metrics.ObserveReconciliation("failed", r.clock().Sub(started))
		return rec, fmt.Errorf("reconciliation: read calculation logs: %w", err)
	}
	totals, err := r.ledger.GetLedgerTotals(ctx, clientID, p.From, p.To)
	if err != nil {
		log.Error("ledger unavailable, record left in progress", "id", rec.ID, "err", err)
		r.metrics.ObserveReconciliation("ledger_unavailable", r.clock().Sub(started))
		return rec, fmt.Errorf("%w: %w", ErrLedgerUnavailable, err)
	}

	next := compute(logs, totals, r.tol)
	if found && unchanged(prev, next) {
		rec = prev
	} else {
		next.applyTo(&rec)
		rec.UpdatedAt = now
	}
	if err := r.store.UpsertReconciliation(ctx, rec); err != nil {
		return FeeReconciliation{}, err
	}

	r.metrics.ObserveReconciliation(string(rec.Status), r.clock().Sub(started))
	log.Info("reconciliation finished",
		"id", rec.ID,
		"status", rec.Status,
		"variance", rec.Variance.String(),
		"discrepancies", len(rec.Discrepancies),
	)
	return rec, nil
}

// unchanged reports whether a rerun would not alter the stored record. A RESOLVED record
// stays resolved as long as the underlying figures are the same.
func unchanged(prev FeeReconciliation, next figures) bool {
	stored := figuresOf(prev)
	switch prev.Status {
	case StatusCompleted, StatusDiscrepancy:
	case StatusResolved:
		stored.Status = next.Status
	default:
		return false
	}
	a, errA := json.Marshal(stored)
	b, errB := json.Marshal(next)
	return errA == nil && errB == nil && string(a) == string(b)
}

// Resolve closes a DISCREPANCY with operator notes. It is a human action and is audited.
func (r *Runner) Resolve(ctx context.Context, periodKey, clientID string, actor audit.Actor, notes string) (FeeReconciliation, error) {
	p, err := ParsePeriod(periodKey)
	if err != nil {
		return FeeReconciliation{}, err
	}
	notes = strings.TrimSpace(notes)
	if clientID == "" || notes == "" || actor.UserID == "" {
		return FeeReconciliation{}, fmt.Errorf("%w: client_id, notes and actor are required", ErrInvalidRequest)
	}

	unlock, err := r.locks.Lock(ctx, lockKey(p.Key, clientID))
	if err != nil {
		return FeeReconciliation{}, err
	}
	defer unlock()

	rec, found, err := r.store.GetReconciliation(ctx, p.Key, clientID)
	if err != nil {
		return FeeReconciliation{}, err
	}
	if !found {
		return FeeReconciliation{}, ErrNotFound
	}
	if rec.Status != StatusDiscrepancy {
		return FeeReconciliation{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, StatusResolved)
	}

	now := r.clock().UTC()
	rec.Status = StatusResolved
	rec.ResolutionNotes = notes
	rec.ResolvedBy = actor.UserID
	rec.ResolvedAt = &now
	rec.UpdatedAt = now
	if err := r.store.UpsertReconciliation(ctx, rec); err != nil {
		return FeeReconciliation{}, err
	}

	if r.audit != nil {
		if err := r.audit.LogReconciliationResolved(ctx, actor, clientID, rec.ID, notes); err != nil {
			logger.From(ctx, r.log).Error("audit reconciliation resolution failed", "id", rec.ID, "err", err)
		}
	}
	return rec, nil
}

func (r *Runner) Get(ctx context.Context, periodKey, clientID string) (FeeReconciliation, error) {
	p, err := ParsePeriod(periodKey)
	if err != nil {
		return FeeReconciliation{}, err
	}
	rec, found, err := r.store.GetReconciliation(ctx, p.Key, clientID)
	if err != nil {
		return FeeReconciliation{}, err
	}
	if !found {
		return FeeReconciliation{}, ErrNotFound
	}
	return rec, nil
}

func (r *Runner) List(ctx context.Context, periodKey string) ([]FeeReconciliation, error) {
	p, err := ParsePeriod(periodKey)
	if err != nil {
		return nil, err
	}
	return r.store.ListReconciliations(ctx, p.Key)
}

type Outcome struct {
	ClientID       string
	Reconciliation FeeReconciliation
	Err            error
}

// RunAll reconciles every client with calculation logs in the period. One client's
// failure does not stop the others.
func (r *Runner) RunAll(ctx context.Context, periodKey string) ([]Outcome, error) {
	p, err := ParsePeriod(periodKey)
	if err != nil {
		return nil, err
	}
	clients, err := r.logs.ListClients(ctx, p.From, p.To)
	if err != nil {
		return nil, err
	}

	out := make([]Outcome, len(clients))
	g, gctx := errgroup.WithContext(ctx)
	limit := r.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, client := range clients {
		i, client := i, client
		g.Go(func() error {
			rec, err := r.Run(gctx, p.Key, client)
			out[i] = Outcome{ClientID: client, Reconciliation: rec, Err: err}
			if errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}
