package promo

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"fee-engine/internal/pricing"

	"github.com/shopspring/decimal"
)

// PromotionalFee is a discount rule applied on top of a computed base fee.
//
// Invariants:
// - PromoCode is unique case-insensitively; it is stored and looked up upper-cased.
// - UsedCount never exceeds UsageLimit. Only the UsageCounter changes it.
// - Status is ACTIVE or INACTIVE. EXPIRED and EXHAUSTED are derived (EffectiveStatus),
//   never written.
type PromotionalFee struct {
	ID        int64   `json:"id" db:"id"`
	PromoCode string  `json:"promo_code" db:"promo_code"`
	ClientID  *string `json:"client_id,omitempty" db:"client_id"`

	// Discount is one of PercentageDiscount, FlatDiscount, Waiver or Cashback.
	// Stored as discount_type + discount_value + max_discount_amount.
	Discount Discount `json:"-" db:"-"`

	ValidFrom  time.Time `json:"valid_from" db:"valid_from"`
	ValidUntil time.Time `json:"valid_until" db:"valid_until"`

	MinimumTransactionAmount *decimal.Decimal  `json:"minimum_transaction_amount,omitempty" db:"minimum_transaction_amount"`
	ApplicablePaymentMethods []string          `json:"applicable_payment_methods,omitempty" db:"applicable_payment_methods"`
	ApplicableFeeTypes       []pricing.FeeType `json:"applicable_fee_types,omitempty" db:"applicable_fee_types"`

	// UsageLimit and UsagePerClient nil mean unlimited.
	UsageLimit     *int64 `json:"usage_limit,omitempty" db:"usage_limit"`
	UsedCount      int64  `json:"used_count" db:"used_count"`
	UsagePerClient *int64 `json:"usage_per_client,omitempty" db:"usage_per_client"`

	Status Status `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusInactive  Status = "INACTIVE"
	StatusExpired   Status = "EXPIRED"
	StatusExhausted Status = "EXHAUSTED"
)

// EffectiveStatus derives the status at now given the current global usage.
func (p PromotionalFee) EffectiveStatus(now time.Time, used int64) Status {
	if p.Status != StatusActive {
		return StatusInactive
	}
	if now.After(p.ValidUntil) {
		return StatusExpired
	}
	if p.UsageLimit != nil && used >= *p.UsageLimit {
		return StatusExhausted
	}
	return StatusActive
}

// OwnedBy reports whether clientID may use the promotion. Global promotions (no owner)
// are usable by every client.
func (p PromotionalFee) OwnedBy(clientID string) bool {
	return p.ClientID == nil || *p.ClientID == "" || *p.ClientID == clientID
}

func (p PromotionalFee) allowsPaymentMethod(method string) bool {
	if len(p.ApplicablePaymentMethods) == 0 {
		return true
	}
	for _, m := range p.ApplicablePaymentMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func (p PromotionalFee) allowsFeeType(t pricing.FeeType) bool {
	if len(p.ApplicableFeeTypes) == 0 {
		return true
	}
	for _, ft := range p.ApplicableFeeTypes {
		if ft == t {
			return true
		}
	}
	return false
}

// NormalizeCode is the canonical form of a promo code for storage and lookup.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks a promotion at write time.
func (p PromotionalFee) Validate() error {
	var errs []error
	if NormalizeCode(p.PromoCode) == "" {
		errs = append(errs, errors.New("promo_code is required"))
	}
	if p.Discount == nil {
		errs = append(errs, errors.New("discount is required"))
	} else if err := validateDiscount(p.Discount); err != nil {
		errs = append(errs, err)
	}
	if p.ValidFrom.IsZero() || p.ValidUntil.IsZero() {
		errs = append(errs, errors.New("valid_from and valid_until are required"))
	} else if p.ValidUntil.Before(p.ValidFrom) {
		errs = append(errs, errors.New("valid_until must not be before valid_from"))
	}
	if p.MinimumTransactionAmount != nil && p.MinimumTransactionAmount.IsNegative() {
		errs = append(errs, errors.New("minimum_transaction_amount must be >= 0"))
	}
	if p.UsageLimit != nil && *p.UsageLimit < 0 {
		errs = append(errs, errors.New("usage_limit must be >= 0"))
	}
	if p.UsagePerClient != nil && *p.UsagePerClient < 0 {
		errs = append(errs, errors.New("usage_per_client must be >= 0"))
	}
	if p.UsedCount < 0 {
		errs = append(errs, errors.New("used_count must be >= 0"))
	}
	for _, ft := range p.ApplicableFeeTypes {
		if !ft.Valid() {
			errs = append(errs, fmt.Errorf("unknown fee_type %q", ft))
		}
	}
	switch p.Status {
	case StatusActive, StatusInactive:
	default:
		errs = append(errs, fmt.Errorf("status must be ACTIVE or INACTIVE, got %q", p.Status))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidPromotion, errors.Join(errs...))
}

// Usage is the current usage of a promotion, globally and for one client.
type Usage struct {
	Global int64
	Client int64
}

// RejectionReason records the first validation check a promo failed.
type RejectionReason string

const (
	ReasonNotFound           RejectionReason = "not_found"
	ReasonInactive           RejectionReason = "inactive"
	ReasonExpired            RejectionReason = "expired"
	ReasonExhausted          RejectionReason = "exhausted"
	ReasonOutsideWindow      RejectionReason = "outside_validity_window"
	ReasonBelowMinimumAmount RejectionReason = "below_minimum_amount"
	ReasonPaymentMethod      RejectionReason = "payment_method_not_applicable"
	ReasonFeeType            RejectionReason = "fee_type_not_applicable"
	ReasonClientLimitReached RejectionReason = "client_usage_limit_reached"
	ReasonUsageRaceLost      RejectionReason = "usage_race_lost"
	ReasonStoreUnavailable   RejectionReason = "store_unavailable"
)

var (
	// ErrPromoRejected is soft: the base fee stands and the reason is recorded.
	ErrPromoRejected = errors.New("promo: rejected")

	// ErrPromoUsageRaceLost means the conditional increment lost to a concurrent caller.
	// It is handled exactly like ErrPromoRejected.
	ErrPromoUsageRaceLost = fmt.Errorf("%w: usage race lost", ErrPromoRejected)

	ErrInvalidPromotion = errors.New("promo: invalid promotion")
	ErrDuplicateCode    = errors.New("promo: duplicate promo code")
	ErrNotFound         = errors.New("promo: not found")
)
