package ledger

import (
	"context"
	"strings"
	"time"

	"fee-engine/internal/money"

	"github.com/google/uuid"
)

// Repository persists ledger entries.
type Repository interface {
	// Insert stores e unless an entry with the same (client_id, idempotency_key) exists,
	// in which case the stored entry is returned with created=false.
	Insert(ctx context.Context, e Entry) (stored Entry, created bool, err error)
	GetLedgerTotals(ctx context.Context, clientID string, from, to time.Time) (Totals, error)
}

// Service posts fee movements to the ledger.
//
// Money invariants:
// - Entries are append-only.
// - Every post carries an idempotency key; a retried post returns the original entry.
// - Amounts must fit the ledger's minor-unit precision.
type Service struct {
	repo   Repository
	places int32
	clock  func() time.Time
}

func NewService(repo Repository, places int32) *Service {
	return &Service{repo: repo, places: places, clock: time.Now}
}

// Post appends a charge or reversal. Amount is always given as a positive value;
// reversals are stored negated.
func (s *Service) Post(ctx context.Context, req PostRequest) (Entry, bool, error) {
	if err := s.validate(req); err != nil {
		return Entry{}, false, err
	}

	now := s.clock().UTC()
	chargedAt := req.ChargedAt.UTC()
	if req.ChargedAt.IsZero() {
		chargedAt = now
	}
	typ := req.Type
	if typ == "" {
		typ = EntryTypeCharge
	}
	amount := req.Amount
	if typ == EntryTypeReversal {
		amount = amount.Neg()
	}

	return s.repo.Insert(ctx, Entry{
		ID:             uuid.NewString(),
		ClientID:       strings.TrimSpace(req.ClientID),
		TransactionID:  strings.TrimSpace(req.TransactionID),
		FeeType:        req.FeeType,
		Type:           typ,
		Amount:         amount,
		ExternalRef:    req.ExternalRef,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       req.Metadata,
		ChargedAt:      chargedAt,
		CreatedAt:      now,
	})
}

func (s *Service) GetLedgerTotals(ctx context.Context, clientID string, from, to time.Time) (Totals, error) {
	if clientID == "" || !from.Before(to) {
		return Totals{}, ErrInvalidArgument
	}
	return s.repo.GetLedgerTotals(ctx, clientID, from, to)
}

func (s *Service) validate(req PostRequest) error {
	if strings.TrimSpace(req.ClientID) == "" || strings.TrimSpace(req.TransactionID) == "" {
		return ErrInvalidArgument
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return ErrInvalidArgument
	}
	switch req.Type {
	case "", EntryTypeCharge, EntryTypeReversal:
	default:
		return ErrInvalidArgument
	}
	if !req.Amount.IsPositive() || !money.FitsPrecision(req.Amount, s.places) {
		return ErrInvalidArgument
	}
	return nil
}
