package reconciliation

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// FeeReconciliation compares what the engine computed against what the ledger charged,
// for one client over one period. There is exactly one record per (period, client_id);
// reruns overwrite it.
type FeeReconciliation struct {
	ID       string `json:"id" db:"id"`
	Period   string `json:"period" db:"period"`
	ClientID string `json:"client_id" db:"client_id"`

	PeriodStart time.Time `json:"period_start" db:"period_start"`
	PeriodEnd   time.Time `json:"period_end" db:"period_end"`

	TotalTransactions      int             `json:"total_transactions" db:"total_transactions"`
	TotalTransactionAmount decimal.Decimal `json:"total_transaction_amount" db:"total_transaction_amount"`

	// TotalFeesCharged comes from the ledger; TotalFeesCollected is the sum of effective
	// calculation logs.
	TotalFeesCharged   decimal.Decimal `json:"total_fees_charged" db:"total_fees_charged"`
	TotalFeesCollected decimal.Decimal `json:"total_fees_collected" db:"total_fees_collected"`

	// Variance = charged - collected. VariancePercentage is nil when nothing was collected.
	Variance           decimal.Decimal  `json:"variance" db:"variance"`
	VariancePercentage *decimal.Decimal `json:"variance_percentage" db:"variance_percentage"`

	FeeBreakdown  map[string]FeeBreakdown `json:"fee_breakdown" db:"fee_breakdown"`
	Discrepancies []Discrepancy           `json:"discrepancy_details" db:"discrepancy_details"`

	Status Status `json:"status" db:"status"`

	ResolutionNotes string     `json:"resolution_notes,omitempty" db:"resolution_notes"`
	ResolvedBy      string     `json:"resolved_by,omitempty" db:"resolved_by"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusPending     Status = "PENDING"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusCompleted   Status = "COMPLETED"
	StatusDiscrepancy Status = "DISCREPANCY"
	StatusResolved    Status = "RESOLVED"
)

// FeeBreakdown aggregates effective logs of one fee type.
type FeeBreakdown struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type DiscrepancyKind string

const (
	// Both sides know the transaction but disagree beyond tolerance.
	KindAmountMismatch DiscrepancyKind = "AMOUNT_MISMATCH"
	// A fee was computed but the ledger never charged it.
	KindMissingCharge DiscrepancyKind = "MISSING_CHARGE"
	// The ledger charged a fee with no calculation log behind it.
	KindMissingLog DiscrepancyKind = "MISSING_LOG"
)

// Discrepancy is one per-transaction mismatch. Delta = ledger - log, with a missing
// side counted as zero.
type Discrepancy struct {
	TransactionID string           `json:"transaction_id"`
	Kind          DiscrepancyKind  `json:"kind"`
	LedgerAmount  *decimal.Decimal `json:"ledger_amount"`
	LogAmount     *decimal.Decimal `json:"log_amount"`
	Delta         decimal.Decimal  `json:"delta"`
}

// Tolerance bounds what counts as a match.
//
// A transaction matches when |delta| <= Absolute or |delta| <= RelativePct% of the log
// amount. A run completes cleanly only when |variance_percentage| <= VariancePct.
type Tolerance struct {
	Absolute    decimal.Decimal
	RelativePct decimal.Decimal
	VariancePct decimal.Decimal
}

var (
	ErrInvalidRequest    = errors.New("reconciliation: invalid request")
	ErrNotFound          = errors.New("reconciliation: not found")
	ErrLedgerUnavailable = errors.New("reconciliation: ledger unavailable")
	ErrRunInProgress     = errors.New("reconciliation: run already in progress")
	ErrInvalidTransition = errors.New("reconciliation: invalid status transition")
)
