package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Entry is an immutable fee movement posted by the payment rail.
// Invariant: entries are never updated or deleted; a refunded fee is a new reversal entry.
type Entry struct {
	ID            string `json:"id" db:"id"`
	ClientID      string `json:"client_id" db:"client_id"`
	TransactionID string `json:"transaction_id" db:"transaction_id"`
	FeeType       string `json:"fee_type,omitempty" db:"fee_type"`

	Type EntryType `json:"type" db:"type"`

	// Amount is signed. Charges are positive, reversals negative.
	Amount decimal.Decimal `json:"amount" db:"amount"`

	// ExternalRef is optional: settlement batch, processor reference, etc.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// IdempotencyKey makes retried posts safe. Unique per client.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	Metadata string `json:"metadata,omitempty" db:"metadata"`

	// ChargedAt places the entry in a reconciliation period.
	ChargedAt time.Time `json:"charged_at" db:"charged_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EntryType string

const (
	EntryTypeCharge   EntryType = "charge"
	EntryTypeReversal EntryType = "reversal"
)

// Totals is what the ledger actually charged a client over a window.
type Totals struct {
	TotalCharged   decimal.Decimal            `json:"total_charged"`
	PerTransaction map[string]decimal.Decimal `json:"per_transaction_charged"`
}

type PostRequest struct {
	ClientID       string          `json:"client_id"`
	TransactionID  string          `json:"transaction_id"`
	FeeType        string          `json:"fee_type,omitempty"`
	Type           EntryType       `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	ExternalRef    string          `json:"external_ref,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       string          `json:"metadata,omitempty"`
	ChargedAt      time.Time       `json:"charged_at"`
}

var (
	ErrInvalidArgument = errors.New("ledger: invalid argument")
	ErrUnavailable     = errors.New("ledger: unavailable")
)
