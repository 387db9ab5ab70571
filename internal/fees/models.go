package fees

import (
	"errors"
	"time"

	"fee-engine/internal/pricing"
	"fee-engine/internal/promo"

	"github.com/shopspring/decimal"
)

// CalculationLog is an immutable record of one fee evaluation.
//
// Invariants:
// - Exactly one non-MANUAL log exists per (transaction_id, fee_type).
// - Logs are never updated or deleted. A correction is a new MANUAL log for the same
//   transaction; the latest log for (transaction_id, fee_type) is the effective one.
type CalculationLog struct {
	ID            string          `json:"id" db:"id"`
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	FeeType       pricing.FeeType `json:"fee_type" db:"fee_type"`
	ClientID      string          `json:"client_id" db:"client_id"`

	FeeConfigurationID int64 `json:"fee_configuration_id" db:"fee_configuration_id"`

	TransactionAmount decimal.Decimal `json:"transaction_amount" db:"transaction_amount"`
	PaymentMethod     string          `json:"payment_method,omitempty" db:"payment_method"`

	// CalculatedAmount is the base fee after clamping, before any promotion.
	CalculatedAmount decimal.Decimal `json:"calculated_amount" db:"calculated_amount"`
	Method           Method          `json:"calculation_method" db:"calculation_method"`
	Details          Details         `json:"calculation_details" db:"calculation_details"`

	PromoCodeApplied *string         `json:"promo_code_applied,omitempty" db:"promo_code_applied"`
	DiscountAmount   decimal.Decimal `json:"discount_amount" db:"discount_amount"`
	FinalFeeAmount   decimal.Decimal `json:"final_fee_amount" db:"final_fee_amount"`

	// TransactionAt is when the transaction happened. It places the log in a
	// reconciliation period; MANUAL logs inherit it from the log they correct.
	TransactionAt time.Time `json:"transaction_at" db:"transaction_at"`

	// CreatedBy is the operator for MANUAL logs, empty otherwise.
	CreatedBy string    `json:"created_by,omitempty" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AccountedAt is the instant used for period windows.
func (l CalculationLog) AccountedAt() time.Time {
	if l.TransactionAt.IsZero() {
		return l.CreatedAt
	}
	return l.TransactionAt
}

type Method string

const (
	MethodAuto   Method = "AUTO"
	MethodManual Method = "MANUAL"
	MethodPromo  Method = "PROMO"
	MethodBulk   Method = "BULK"
	MethodCustom Method = "CUSTOM"
)

// Details is the full explanation stored with a log.
type Details struct {
	Base pricing.Details `json:"base"`

	// Volume is the volume context the calculation ran with.
	Volume pricing.VolumeContext `json:"volume"`

	// ConfigurationConflicts lists other usable configurations that lost the resolver
	// tie-break. Non-empty means the policy registry needs attention.
	ConfigurationConflicts []int64 `json:"configuration_conflicts,omitempty"`

	PromoCode       string                `json:"promo_code,omitempty"`
	PromoRejection  promo.RejectionReason `json:"promo_rejection_reason,omitempty"`
	CashbackRebate  *decimal.Decimal      `json:"cashback_rebate,omitempty"`
	Correction      *Correction           `json:"correction,omitempty"`
	CalculatedAtUTC time.Time             `json:"calculated_at"`
}

// Correction describes a MANUAL log.
type Correction struct {
	CorrectsLogID string `json:"corrects_log_id"`
	Reason        string `json:"reason"`
}

var (
	ErrInvalidRequest       = errors.New("fees: invalid request")
	ErrDuplicateCalculation = errors.New("fees: calculation already recorded for transaction and fee type")
	ErrNotFound             = errors.New("fees: calculation not found")
)
