package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeeConfiguration is a versioned pricing rule.
//
// Invariants:
// - At most one configuration may be active, approved and validity-overlapping for a
//   given (client, fee_type) at any instant.
// - Configurations are superseded (their window is closed), never deleted; old rows are
//   retained for recomputation and audit.
// - ClientID nil means the configuration is the platform default for every client.
type FeeConfiguration struct {
	ID       int64   `json:"id" db:"id"`
	ClientID *string `json:"client_id,omitempty" db:"client_id"`
	FeeType  FeeType `json:"fee_type" db:"fee_type"`

	// Structure is one of Flat, Percentage, Tiered, Hybrid, VolumeBased or Custom.
	// Stored as fee_structure + structure_params (JSONB).
	Structure Structure `json:"-" db:"-"`

	BaseRate   decimal.Decimal  `json:"base_rate" db:"base_rate"`
	MinimumFee decimal.Decimal  `json:"minimum_fee" db:"minimum_fee"`
	MaximumFee *decimal.Decimal `json:"maximum_fee,omitempty" db:"maximum_fee"`

	// PaymentMethodRates overrides BaseRate for the listed payment methods.
	PaymentMethodRates map[string]decimal.Decimal `json:"payment_method_rates,omitempty" db:"payment_method_rates"`

	// Validity window: EffectiveFrom inclusive, EffectiveUntil exclusive.
	EffectiveFrom  time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveUntil *time.Time `json:"effective_until,omitempty" db:"effective_until"`

	IsActive         bool           `json:"is_active" db:"is_active"`
	RequiresApproval bool           `json:"requires_approval" db:"requires_approval"`
	ApprovalStatus   ApprovalStatus `json:"approval_status" db:"approval_status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Usable reports whether the configuration may price a fee at the given instant.
func (c FeeConfiguration) Usable(at time.Time) bool {
	if !c.IsActive || c.ApprovalStatus != ApprovalStatusApproved {
		return false
	}
	return c.ActiveAt(at)
}

// ActiveAt reports whether at falls inside [EffectiveFrom, EffectiveUntil).
func (c FeeConfiguration) ActiveAt(at time.Time) bool {
	if at.Before(c.EffectiveFrom) {
		return false
	}
	if c.EffectiveUntil != nil && !at.Before(*c.EffectiveUntil) {
		return false
	}
	return true
}

// Overlaps reports whether the validity windows of c and o intersect.
func (c FeeConfiguration) Overlaps(o FeeConfiguration) bool {
	if c.EffectiveUntil != nil && !o.EffectiveFrom.Before(*c.EffectiveUntil) {
		return false
	}
	if o.EffectiveUntil != nil && !c.EffectiveFrom.Before(*o.EffectiveUntil) {
		return false
	}
	return true
}

// IsDefault reports whether the configuration applies to all clients.
func (c FeeConfiguration) IsDefault() bool { return c.ClientID == nil || *c.ClientID == "" }

type FeeType string

const (
	FeeTypeTransaction FeeType = "transaction"
	FeeTypeProcessing  FeeType = "processing"
	FeeTypeSettlement  FeeType = "settlement"
	FeeTypeRefund      FeeType = "refund"
	FeeTypeChargeback  FeeType = "chargeback"
	FeeTypeMonthly     FeeType = "monthly"
	FeeTypeAnnual      FeeType = "annual"
	FeeTypeSetup       FeeType = "setup"
)

func (t FeeType) Valid() bool {
	switch t {
	case FeeTypeTransaction, FeeTypeProcessing, FeeTypeSettlement, FeeTypeRefund,
		FeeTypeChargeback, FeeTypeMonthly, FeeTypeAnnual, FeeTypeSetup:
		return true
	default:
		return false
	}
}

type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "PENDING"
	ApprovalStatusApproved ApprovalStatus = "APPROVED"
	ApprovalStatusRejected ApprovalStatus = "REJECTED"
)

// VolumeContext carries the client's cumulative processed volume before the current
// transaction. VOLUME_BASED configurations pick their slab from it.
type VolumeContext struct {
	MonthlyVolume decimal.Decimal `json:"monthly_volume"`
	AnnualVolume  decimal.Decimal `json:"annual_volume"`
}
