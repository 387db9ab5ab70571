package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// NOTE: PostgresRepo assumes the following table exists:
//
// fee_ledger_entries (id uuid primary key, client_id, transaction_id, fee_type, type,
//   amount numeric, external_ref, idempotency_key, metadata jsonb, charged_at timestamptz,
//   created_at timestamptz, UNIQUE (client_id, idempotency_key))
//
// The table is INSERT-only.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Insert(ctx context.Context, e Entry) (Entry, bool, error) {
	const q = `
INSERT INTO fee_ledger_entries (
  id, client_id, transaction_id, fee_type, type, amount, external_ref, idempotency_key, metadata,
  charged_at, created_at
) VALUES (
  $1,$2,$3,NULLIF($4,''),$5,$6,NULLIF($7,''),$8,NULLIF($9,'')::jsonb,$10,$11
)
ON CONFLICT (client_id, idempotency_key) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.ClientID,
		e.TransactionID,
		e.FeeType,
		e.Type,
		e.Amount,
		e.ExternalRef,
		e.IdempotencyKey,
		e.Metadata,
		e.ChargedAt,
		e.CreatedAt,
	)
	if err != nil {
		return Entry{}, false, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return e, true, nil
	}

	existing, err := r.findByIdempotency(ctx, e.ClientID, e.IdempotencyKey)
	if err != nil {
		return Entry{}, false, err
	}
	return existing, false, nil
}

func (r *PostgresRepo) findByIdempotency(ctx context.Context, clientID, key string) (Entry, error) {
	const q = `
SELECT id, client_id, transaction_id, fee_type, type, amount, external_ref, idempotency_key, metadata,
       charged_at, created_at
FROM fee_ledger_entries
WHERE client_id = $1 AND idempotency_key = $2
`
	var (
		e        Entry
		feeType  sql.NullString
		ref      sql.NullString
		metadata sql.NullString
	)
	if err := r.db.QueryRowContext(ctx, q, clientID, key).Scan(
		&e.ID,
		&e.ClientID,
		&e.TransactionID,
		&feeType,
		&e.Type,
		&e.Amount,
		&ref,
		&e.IdempotencyKey,
		&metadata,
		&e.ChargedAt,
		&e.CreatedAt,
	); err != nil {
		return Entry{}, err
	}
	e.FeeType = feeType.String
	e.ExternalRef = ref.String
	e.Metadata = metadata.String
	return e, nil
}

func (r *PostgresRepo) GetLedgerTotals(ctx context.Context, clientID string, from, to time.Time) (Totals, error) {
	const q = `
SELECT transaction_id, SUM(amount)
FROM fee_ledger_entries
WHERE client_id = $1 AND charged_at >= $2 AND charged_at < $3
GROUP BY transaction_id
`
	rows, err := r.db.QueryContext(ctx, q, clientID, from, to)
	if err != nil {
		return Totals{}, err
	}
	defer rows.Close()

	out := Totals{TotalCharged: decimal.Zero, PerTransaction: map[string]decimal.Decimal{}}
	for rows.Next() {
		var (
			tx  string
			sum decimal.Decimal
		)
		if err := rows.Scan(&tx, &sum); err != nil {
			return Totals{}, err
		}
		out.PerTransaction[tx] = sum
		out.TotalCharged = out.TotalCharged.Add(sum)
	}
	if err := rows.Err(); err != nil {
		return Totals{}, err
	}
	return out, nil
}
