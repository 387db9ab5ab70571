package fees

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fee-engine/internal/audit"
	"fee-engine/internal/metrics"
	"fee-engine/internal/pricing"
	"fee-engine/internal/promo"
	"fee-engine/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// LogStore is the append-only store of calculation logs.
type LogStore interface {
	// AppendCalculationLog stores log. A second non-MANUAL log for the same
	// (transaction_id, fee_type) fails with ErrDuplicateCalculation.
	AppendCalculationLog(ctx context.Context, log CalculationLog) error

	// FindCalculation returns the effective (latest) log for (transaction_id, fee_type).
	FindCalculation(ctx context.Context, transactionID string, feeType pricing.FeeType) (CalculationLog, bool, error)

	// ListCalculationLogs returns every log for clientID whose transaction falls in
	// [from, to), ordered by created_at then id. Corrections follow the transaction
	// they correct, whenever they were recorded.
	ListCalculationLogs(ctx context.Context, clientID string, from, to time.Time) ([]CalculationLog, error)

	// ListClients returns the distinct clients with transactions in [from, to), sorted.
	ListClients(ctx context.Context, from, to time.Time) ([]string, error)
}

type ConfigResolver interface {
	Resolve(ctx context.Context, clientID string, feeType pricing.FeeType, at time.Time) (pricing.Resolution, error)
}

type PromoApplier interface {
	Apply(ctx context.Context, req promo.Request) promo.Result
	Release(ctx context.Context, res promo.Result, clientID string) error
}

type CorrectionAuditor interface {
	LogManualCorrection(ctx context.Context, actor audit.Actor, clientID, transactionID, reason, metadata string) error
}

type Request struct {
	TransactionID string                `json:"transaction_id"`
	ClientID      string                `json:"client_id"`
	FeeType       pricing.FeeType       `json:"fee_type"`
	Amount        decimal.Decimal       `json:"amount"`
	PaymentMethod string                `json:"payment_method,omitempty"`
	PromoCode     string                `json:"promo_code,omitempty"`
	Volume        pricing.VolumeContext `json:"volume_context"`

	// At is when the transaction happened. It selects the configuration in effect and
	// the reconciliation period of the log. Zero means now.
	At time.Time `json:"at,omitempty"`
}

func (r Request) validate() error {
	switch {
	case r.TransactionID == "":
		return fmt.Errorf("%w: transaction_id is required", ErrInvalidRequest)
	case r.ClientID == "":
		return fmt.Errorf("%w: client_id is required", ErrInvalidRequest)
	case !r.FeeType.Valid():
		return fmt.Errorf("%w: unknown fee_type %q", ErrInvalidRequest, r.FeeType)
	case r.Amount.IsNegative():
		return fmt.Errorf("%w: amount must be >= 0", ErrInvalidRequest)
	}
	return nil
}

// Calculator turns a transaction into an immutable calculation log.
//
// Contract:
// - resolve -> compute -> promotion -> append. Every intermediate value is logged.
// - NoApplicableConfiguration fails the call and writes nothing.
// - InvalidConfiguration is fatal for the call and is never defaulted.
// - Promotion failures are soft: the base fee stands and the reason is recorded.
// - Calculate is idempotent per (transaction_id, fee_type): a repeated call returns the
//   stored log without re-applying the promotion. A call that loses the append race
//   releases the promotion use it took.
// - Safe for concurrent use; calls for different transactions share nothing but the
//   promotion counters.
type Calculator struct {
	resolver ConfigResolver
	pricer   pricing.Calculator
	promos   PromoApplier
	logs     LogStore
	audit    CorrectionAuditor
	log      *slog.Logger
	metrics  *metrics.Metrics
	clock    func() time.Time

	// BulkConcurrency bounds CalculateBulk fan-out.
	BulkConcurrency int
}

func NewCalculator(resolver ConfigResolver, pricer pricing.Calculator, promos PromoApplier, logs LogStore, auditor CorrectionAuditor, log *slog.Logger, m *metrics.Metrics) *Calculator {
	if log == nil {
		log = slog.Default()
	}
	return &Calculator{
		resolver:        resolver,
		pricer:          pricer,
		promos:          promos,
		logs:            logs,
		audit:           auditor,
		log:             log,
		metrics:         m,
		clock:           time.Now,
		BulkConcurrency: 8,
	}
}

func (c *Calculator) Calculate(ctx context.Context, req Request) (CalculationLog, error) {
	return c.calculate(ctx, req, false)
}

func (c *Calculator) calculate(ctx context.Context, req Request, bulk bool) (CalculationLog, error) {
	if err := req.validate(); err != nil {
		return CalculationLog{}, err
	}
	l := logger.From(ctx, c.log).With("transaction_id", req.TransactionID, "client_id", req.ClientID, "fee_type", req.FeeType)

	if existing, found, err := c.logs.FindCalculation(ctx, req.TransactionID, req.FeeType); err != nil {
		return CalculationLog{}, fmt.Errorf("lookup calculation: %w", err)
	} else if found {
		l.Debug("calculation already recorded", "log_id", existing.ID)
		return existing, nil
	}

	now := c.clock().UTC()
	at := req.At
	if at.IsZero() {
		at = now
	}

	res, err := c.resolver.Resolve(ctx, req.ClientID, req.FeeType, at)
	if err != nil {
		c.fail(l, err)
		return CalculationLog{}, err
	}
	cfg := res.Configuration

	base, err := c.pricer.Compute(cfg, req.Amount, req.PaymentMethod, req.Volume)
	if err != nil {
		c.fail(l.With("configuration_id", cfg.ID), err)
		return CalculationLog{}, err
	}

	pr := c.promos.Apply(ctx, promo.Request{
		Code:              req.PromoCode,
		ClientID:          req.ClientID,
		FeeType:           req.FeeType,
		PaymentMethod:     req.PaymentMethod,
		TransactionAmount: req.Amount,
		BaseFee:           base.Amount,
	})

	entry := CalculationLog{
		ID:                 uuid.NewString(),
		TransactionID:      req.TransactionID,
		FeeType:            req.FeeType,
		ClientID:           req.ClientID,
		FeeConfigurationID: cfg.ID,
		TransactionAmount:  req.Amount,
		PaymentMethod:      req.PaymentMethod,
		CalculatedAmount:   base.Amount,
		Method:             methodFor(cfg, pr, bulk),
		Details: Details{
			Base:                   base.Details,
			Volume:                 req.Volume,
			ConfigurationConflicts: res.Conflicts,
			PromoCode:              promo.NormalizeCode(req.PromoCode),
			PromoRejection:         pr.RejectionReason,
			CalculatedAtUTC:        at.UTC(),
		},
		DiscountAmount: pr.DiscountAmount,
		FinalFeeAmount: pr.FinalFee,
		TransactionAt:  at.UTC(),
		CreatedAt:      now,
	}
	if pr.Applied() {
		code := pr.PromoCode
		entry.PromoCodeApplied = &code
		if pr.Rebate {
			rebate := pr.DiscountAmount
			entry.Details.CashbackRebate = &rebate
		}
	}

	if err := c.logs.AppendCalculationLog(ctx, entry); err != nil {
		if errors.Is(err, ErrDuplicateCalculation) {
			// A concurrent call for the same transaction won; return its log and give
			// back the promotion use this call took.
			if rerr := c.promos.Release(ctx, pr, req.ClientID); rerr != nil {
				l.Warn("promo release failed", "promo_code", pr.PromoCode, "err", rerr)
			}
			if existing, found, ferr := c.logs.FindCalculation(ctx, req.TransactionID, req.FeeType); ferr == nil && found {
				l.Warn("concurrent calculation for transaction", "log_id", existing.ID, "promo_applied", pr.Applied())
				return existing, nil
			}
		}
		c.metrics.IncCalculationError("store")
		return CalculationLog{}, fmt.Errorf("append calculation log: %w", err)
	}

	c.metrics.IncCalculation(string(entry.FeeType), string(entry.Method))
	l.Info("fee calculated",
		"log_id", entry.ID,
		"configuration_id", cfg.ID,
		"method", entry.Method,
		"base_fee", entry.CalculatedAmount.String(),
		"final_fee", entry.FinalFeeAmount.String(),
	)
	return entry, nil
}

func (c *Calculator) fail(l *slog.Logger, err error) {
	switch {
	case errors.Is(err, pricing.ErrNoApplicableConfiguration):
		c.metrics.IncCalculationError("no_applicable_configuration")
		l.Info("no applicable fee configuration", "err", err)
	case errors.Is(err, pricing.ErrInvalidConfiguration), errors.Is(err, pricing.ErrConfigurationConflict):
		c.metrics.IncCalculationError("invalid_configuration")
		l.Error("invalid fee configuration", "err", err)
	default:
		c.metrics.IncCalculationError("other")
		l.Error("fee calculation failed", "err", err)
	}
}

func methodFor(cfg pricing.FeeConfiguration, pr promo.Result, bulk bool) Method {
	switch {
	case pr.Applied():
		return MethodPromo
	case cfg.Structure != nil && cfg.Structure.Kind() == pricing.StructureCustom:
		return MethodCustom
	case bulk:
		return MethodBulk
	default:
		return MethodAuto
	}
}

// BulkResult pairs each request of CalculateBulk with its outcome.
type BulkResult struct {
	Request Request         `json:"request"`
	Log     *CalculationLog `json:"log,omitempty"`
	Error   string          `json:"error,omitempty"`
	Err     error           `json:"-"`
}

// CalculateBulk calculates many transactions concurrently. One failure never affects the
// others; results are returned in request order.
func (c *Calculator) CalculateBulk(ctx context.Context, reqs []Request) []BulkResult {
	out := make([]BulkResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	if c.BulkConcurrency > 0 {
		g.SetLimit(c.BulkConcurrency)
	}
	for i, r := range reqs {
		i, r := i, r
		g.Go(func() error {
			out[i].Request = r
			entry, err := c.calculate(gctx, r, true)
			if err != nil {
				out[i].Err = err
				out[i].Error = err.Error()
				return nil
			}
			out[i].Log = &entry
			return nil
		})
	}
	_ = g.Wait()
	return out
}

type CorrectionRequest struct {
	TransactionID string          `json:"transaction_id"`
	FeeType       pricing.FeeType `json:"fee_type"`
	FinalFee      decimal.Decimal `json:"final_fee_amount"`
	Reason        string          `json:"reason"`
}

// Lookup returns the effective log for (transactionID, feeType) or ErrNotFound.
func (c *Calculator) Lookup(ctx context.Context, transactionID string, feeType pricing.FeeType) (CalculationLog, error) {
	entry, found, err := c.logs.FindCalculation(ctx, transactionID, feeType)
	if err != nil {
		return CalculationLog{}, err
	}
	if !found {
		return CalculationLog{}, ErrNotFound
	}
	return entry, nil
}

// RecordManualCorrection appends a MANUAL log that supersedes the effective log for the
// transaction. History is never edited.
func (c *Calculator) RecordManualCorrection(ctx context.Context, actor audit.Actor, req CorrectionRequest) (CalculationLog, error) {
	switch {
	case req.TransactionID == "" || !req.FeeType.Valid():
		return CalculationLog{}, fmt.Errorf("%w: transaction_id and a valid fee_type are required", ErrInvalidRequest)
	case req.Reason == "":
		return CalculationLog{}, fmt.Errorf("%w: reason is required", ErrInvalidRequest)
	case actor.UserID == "":
		return CalculationLog{}, fmt.Errorf("%w: actor is required", ErrInvalidRequest)
	case req.FinalFee.IsNegative():
		return CalculationLog{}, fmt.Errorf("%w: final_fee_amount must be >= 0", ErrInvalidRequest)
	}

	prev, found, err := c.logs.FindCalculation(ctx, req.TransactionID, req.FeeType)
	if err != nil {
		return CalculationLog{}, err
	}
	if !found {
		return CalculationLog{}, ErrNotFound
	}

	now := c.clock().UTC()
	entry := prev
	entry.ID = uuid.NewString()
	entry.Method = MethodManual
	entry.PromoCodeApplied = nil
	entry.DiscountAmount = decimal.Zero
	entry.FinalFeeAmount = req.FinalFee.RoundBank(c.pricer.Places)
	entry.TransactionAt = prev.AccountedAt()
	entry.CreatedBy = actor.UserID
	entry.CreatedAt = now
	entry.Details.Correction = &Correction{CorrectsLogID: prev.ID, Reason: req.Reason}
	entry.Details.CashbackRebate = nil

	if err := c.logs.AppendCalculationLog(ctx, entry); err != nil {
		return CalculationLog{}, fmt.Errorf("append manual correction: %w", err)
	}
	c.metrics.IncCalculation(string(entry.FeeType), string(entry.Method))

	l := logger.From(ctx, c.log)
	l.Info("manual fee correction recorded",
		"transaction_id", entry.TransactionID,
		"log_id", entry.ID,
		"corrects", prev.ID,
		"actor", actor.UserID,
	)
	if c.audit != nil {
		meta := fmt.Sprintf(`{"corrects_log_id":%q,"previous_fee":%q,"final_fee":%q}`, prev.ID, prev.FinalFeeAmount.String(), entry.FinalFeeAmount.String())
		if err := c.audit.LogManualCorrection(ctx, actor, entry.ClientID, entry.TransactionID, req.Reason, meta); err != nil {
			l.Warn("audit append failed", "transaction_id", entry.TransactionID, "err", err)
		}
	}
	return entry, nil
}
