package reconciliation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// NOTE: PostgresStore assumes the following table exists:
//
// fee_reconciliations (id uuid primary key, period, client_id, period_start, period_end,
//   total_transactions int, total_transaction_amount numeric, total_fees_charged numeric,
//   total_fees_collected numeric, variance numeric, variance_percentage numeric null,
//   fee_breakdown jsonb, discrepancy_details jsonb, status, resolution_notes, resolved_by,
//   resolved_at timestamptz, created_at timestamptz, updated_at timestamptz,
//   UNIQUE (period, client_id))

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const recColumns = `
id, period, client_id, period_start, period_end, total_transactions, total_transaction_amount,
total_fees_charged, total_fees_collected, variance, variance_percentage, fee_breakdown,
discrepancy_details, status, resolution_notes, resolved_by, resolved_at, created_at, updated_at`

func scanRec(row interface{ Scan(...any) error }) (FeeReconciliation, error) {
	var (
		r         FeeReconciliation
		pct       decimal.NullDecimal
		breakdown []byte
		details   []byte
		notes     sql.NullString
		by        sql.NullString
		at        sql.NullTime
	)
	if err := row.Scan(
		&r.ID,
		&r.Period,
		&r.ClientID,
		&r.PeriodStart,
		&r.PeriodEnd,
		&r.TotalTransactions,
		&r.TotalTransactionAmount,
		&r.TotalFeesCharged,
		&r.TotalFeesCollected,
		&r.Variance,
		&pct,
		&breakdown,
		&details,
		&r.Status,
		&notes,
		&by,
		&at,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return FeeReconciliation{}, err
	}
	if pct.Valid {
		r.VariancePercentage = &pct.Decimal
	}
	r.ResolutionNotes = notes.String
	r.ResolvedBy = by.String
	if at.Valid {
		t := at.Time.UTC()
		r.ResolvedAt = &t
	}
	r.PeriodStart = r.PeriodStart.UTC()
	r.PeriodEnd = r.PeriodEnd.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()

	if err := json.Unmarshal(breakdown, &r.FeeBreakdown); err != nil {
		return FeeReconciliation{}, fmt.Errorf("reconciliation %s fee_breakdown: %w", r.ID, err)
	}
	if err := json.Unmarshal(details, &r.Discrepancies); err != nil {
		return FeeReconciliation{}, fmt.Errorf("reconciliation %s discrepancy_details: %w", r.ID, err)
	}
	return r, nil
}

func (s *PostgresStore) GetReconciliation(ctx context.Context, period, clientID string) (FeeReconciliation, bool, error) {
	q := `SELECT ` + recColumns + `
FROM fee_reconciliations
WHERE period = $1 AND client_id = $2
`
	r, err := scanRec(s.db.QueryRowContext(ctx, q, period, clientID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FeeReconciliation{}, false, nil
		}
		return FeeReconciliation{}, false, err
	}
	return r, true, nil
}

// UpsertReconciliation overwrites the (period, client_id) row. The row id and created_at
// of an existing record are kept.
func (s *PostgresStore) UpsertReconciliation(ctx context.Context, r FeeReconciliation) error {
	breakdown, err := json.Marshal(r.FeeBreakdown)
	if err != nil {
		return err
	}
	details, err := json.Marshal(r.Discrepancies)
	if err != nil {
		return err
	}
	var pct decimal.NullDecimal
	if r.VariancePercentage != nil {
		pct = decimal.NullDecimal{Decimal: *r.VariancePercentage, Valid: true}
	}

	const q = `
INSERT INTO fee_reconciliations (
  id, period, client_id, period_start, period_end, total_transactions, total_transaction_amount,
  total_fees_charged, total_fees_collected, variance, variance_percentage, fee_breakdown,
  discrepancy_details, status, resolution_notes, resolved_by, resolved_at, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NULLIF($15,''),NULLIF($16,''),$17,$18,$19
)
ON CONFLICT (period, client_id) DO UPDATE SET
  total_transactions = EXCLUDED.total_transactions,
  total_transaction_amount = EXCLUDED.total_transaction_amount,
  total_fees_charged = EXCLUDED.total_fees_charged,
  total_fees_collected = EXCLUDED.total_fees_collected,
  variance = EXCLUDED.variance,
  variance_percentage = EXCLUDED.variance_percentage,
  fee_breakdown = EXCLUDED.fee_breakdown,
  discrepancy_details = EXCLUDED.discrepancy_details,
  status = EXCLUDED.status,
  resolution_notes = EXCLUDED.resolution_notes,
  resolved_by = EXCLUDED.resolved_by,
  resolved_at = EXCLUDED.resolved_at,
  updated_at = EXCLUDED.updated_at
`
	_, err = s.db.ExecContext(ctx, q,
		r.ID,
		r.Period,
		r.ClientID,
		r.PeriodStart,
		r.PeriodEnd,
		r.TotalTransactions,
		r.TotalTransactionAmount,
		r.TotalFeesCharged,
		r.TotalFeesCollected,
		r.Variance,
		pct,
		breakdown,
		details,
		r.Status,
		r.ResolutionNotes,
		r.ResolvedBy,
		r.ResolvedAt,
		r.CreatedAt,
		r.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) ListReconciliations(ctx context.Context, period string) ([]FeeReconciliation, error) {
	q := `SELECT ` + recColumns + `
FROM fee_reconciliations
WHERE period = $1
ORDER BY client_id
`
	rows, err := s.db.QueryContext(ctx, q, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FeeReconciliation
	for rows.Next() {
		r, err := scanRec(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
