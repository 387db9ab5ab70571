package promo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fee-engine/internal/metrics"
	"fee-engine/internal/pricing"
	"fee-engine/pkg/logger"

	"github.com/shopspring/decimal"
)

// Catalog is the read side of the promotion store.
// GetPromotion looks up a normalized code; found=false when it does not exist.
type Catalog interface {
	GetPromotion(ctx context.Context, code string) (PromotionalFee, bool, error)
}

// UsageCounter owns promotion usage counters.
//
// IncrementUsage must be an atomic conditional write: it increments the global and the
// per-client counter together only if neither limit would be passed, and returns false
// otherwise. Two callers competing for the last use must not both get true.
type UsageCounter interface {
	Usage(ctx context.Context, p PromotionalFee, clientID string) (Usage, error)
	IncrementUsage(ctx context.Context, p PromotionalFee, clientID string) (bool, error)

	// ReleaseUsage gives back one use taken by IncrementUsage. Counters never go below zero.
	ReleaseUsage(ctx context.Context, p PromotionalFee, clientID string) error
}

type Request struct {
	Code              string
	ClientID          string
	FeeType           pricing.FeeType
	PaymentMethod     string
	TransactionAmount decimal.Decimal
	BaseFee           decimal.Decimal
}

// Result of applying an optional promo code. A rejected promo leaves FinalFee = BaseFee.
type Result struct {
	BaseFee        decimal.Decimal `json:"base_fee"`
	FinalFee       decimal.Decimal `json:"final_fee"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`

	// PromoCode is the normalized code, set only when the promo was applied.
	PromoCode string `json:"promo_code,omitempty"`
	PromoID   int64  `json:"promo_id,omitempty"`
	Rebate    bool   `json:"rebate,omitempty"`

	RejectionReason RejectionReason `json:"rejection_reason,omitempty"`

	// Err wraps ErrPromoRejected or ErrPromoUsageRaceLost when the promo was rejected.
	Err error `json:"-"`
}

func (r Result) Applied() bool { return r.PromoCode != "" }

// Engine validates and applies promotional discounts.
//
// Contract:
// - A failed promo never fails the fee: every rejection is soft and recorded.
// - Checks run in a fixed order and the first failure is the recorded reason:
//   status, validity window, minimum amount, payment method, fee type, per-client usage.
// - Counters are touched only after every check passes, through one atomic
//   IncrementUsage. A lost race is recorded as usage_race_lost and never retried.
type Engine struct {
	catalog Catalog
	counter UsageCounter
	log     *slog.Logger
	metrics *metrics.Metrics
	places  int32
	clock   func() time.Time
}

func NewEngine(catalog Catalog, counter UsageCounter, log *slog.Logger, m *metrics.Metrics, places int32) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{catalog: catalog, counter: counter, log: log, metrics: m, places: places, clock: time.Now}
}

// WithClock sets the time source for status and window checks.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	return e
}

// Release returns the use consumed by an applied result whose fee was never recorded,
// for example when a concurrent calculation for the same transaction won.
func (e *Engine) Release(ctx context.Context, res Result, clientID string) error {
	if !res.Applied() {
		return nil
	}
	p, found, err := e.catalog.GetPromotion(ctx, res.PromoCode)
	if err != nil {
		return fmt.Errorf("release %s: %w", res.PromoCode, err)
	}
	if !found {
		return fmt.Errorf("release %s: %w", res.PromoCode, ErrNotFound)
	}
	if err := e.counter.ReleaseUsage(ctx, p, clientID); err != nil {
		return fmt.Errorf("release %s: %w", res.PromoCode, err)
	}
	e.metrics.IncPromoOutcome("released")
	logger.From(ctx, e.log).Info("promo use released", "promo_code", res.PromoCode, "client_id", clientID)
	return nil
}

func (e *Engine) Apply(ctx context.Context, req Request) Result {
	base := Result{BaseFee: req.BaseFee, FinalFee: req.BaseFee, DiscountAmount: decimal.Zero}
	code := NormalizeCode(req.Code)
	if code == "" {
		return base
	}

	reject := func(reason RejectionReason, cause error) Result {
		out := base
		out.RejectionReason = reason
		if reason == ReasonUsageRaceLost {
			out.Err = fmt.Errorf("%w: code=%s", ErrPromoUsageRaceLost, code)
		} else {
			out.Err = fmt.Errorf("%w: code=%s reason=%s", ErrPromoRejected, code, reason)
		}
		l := logger.From(ctx, e.log)
		if cause != nil {
			l.Warn("promo store error", "promo_code", code, "reason", reason, "err", cause)
		} else {
			l.Debug("promo rejected", "promo_code", code, "client_id", req.ClientID, "reason", reason)
		}
		e.metrics.IncPromoOutcome(string(reason))
		return out
	}

	p, found, err := e.catalog.GetPromotion(ctx, code)
	if err != nil {
		return reject(ReasonStoreUnavailable, err)
	}
	// Another client's promotion is indistinguishable from an unknown code.
	if !found || !p.OwnedBy(req.ClientID) {
		return reject(ReasonNotFound, nil)
	}

	usage, err := e.counter.Usage(ctx, p, req.ClientID)
	if err != nil {
		return reject(ReasonStoreUnavailable, err)
	}

	now := e.clock()

	// 1. status
	switch p.EffectiveStatus(now, usage.Global) {
	case StatusInactive:
		return reject(ReasonInactive, nil)
	case StatusExpired:
		return reject(ReasonExpired, nil)
	case StatusExhausted:
		return reject(ReasonExhausted, nil)
	}
	// 2. window
	if now.Before(p.ValidFrom) || now.After(p.ValidUntil) {
		return reject(ReasonOutsideWindow, nil)
	}
	// 3. minimum amount
	if p.MinimumTransactionAmount != nil && req.TransactionAmount.LessThan(*p.MinimumTransactionAmount) {
		return reject(ReasonBelowMinimumAmount, nil)
	}
	// 4. payment method
	if !p.allowsPaymentMethod(req.PaymentMethod) {
		return reject(ReasonPaymentMethod, nil)
	}
	// 5. fee type
	if !p.allowsFeeType(req.FeeType) {
		return reject(ReasonFeeType, nil)
	}
	// 6. per-client usage
	if p.UsagePerClient != nil && usage.Client >= *p.UsagePerClient {
		return reject(ReasonClientLimitReached, nil)
	}

	ok, err := e.counter.IncrementUsage(ctx, p, req.ClientID)
	if err != nil {
		return reject(ReasonStoreUnavailable, err)
	}
	if !ok {
		return reject(ReasonUsageRaceLost, nil)
	}

	o := Apply(p.Discount, req.BaseFee, e.places)
	e.metrics.IncPromoOutcome("applied")
	return Result{
		BaseFee:        req.BaseFee,
		FinalFee:       o.Final,
		DiscountAmount: o.Discount,
		PromoCode:      p.PromoCode,
		PromoID:        p.ID,
		Rebate:         o.Rebate,
	}
}
