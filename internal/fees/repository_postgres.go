package fees

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fee-engine/internal/pricing"
	"fee-engine/pkg/utils"
)

// NOTE: PostgresLogStore assumes the following table exists:
//
// fee_calculation_logs (id uuid primary key, transaction_id, fee_type, client_id,
//   fee_configuration_id, transaction_amount numeric, payment_method, calculated_amount numeric,
//   calculation_method, calculation_details jsonb, promo_code_applied, discount_amount numeric,
//   final_fee_amount numeric, transaction_at timestamptz, created_by, created_at timestamptz)
//
// Reconciliation windows on transaction_at:
//
// CREATE INDEX fee_calculation_logs_client_txat ON fee_calculation_logs (client_id, transaction_at);
//
// with a partial unique index enforcing one non-MANUAL log per transaction and fee type:
//
// CREATE UNIQUE INDEX fee_calculation_logs_auto_uniq
//   ON fee_calculation_logs (transaction_id, fee_type) WHERE calculation_method <> 'MANUAL';
//
// The table is INSERT-only.

const logUniqueIndex = "fee_calculation_logs_auto_uniq"

type PostgresLogStore struct {
	db *sql.DB
}

func NewPostgresLogStore(db *sql.DB) *PostgresLogStore { return &PostgresLogStore{db: db} }

const logColumns = `
id, transaction_id, fee_type, client_id, fee_configuration_id, transaction_amount, payment_method,
calculated_amount, calculation_method, calculation_details, promo_code_applied, discount_amount,
final_fee_amount, transaction_at, created_by, created_at`

func scanLog(row interface{ Scan(...any) error }) (CalculationLog, error) {
	var (
		e       CalculationLog
		details []byte
		promo   sql.NullString
		method  sql.NullString
		by      sql.NullString
	)
	if err := row.Scan(
		&e.ID,
		&e.TransactionID,
		&e.FeeType,
		&e.ClientID,
		&e.FeeConfigurationID,
		&e.TransactionAmount,
		&method,
		&e.CalculatedAmount,
		&e.Method,
		&details,
		&promo,
		&e.DiscountAmount,
		&e.FinalFeeAmount,
		&e.TransactionAt,
		&by,
		&e.CreatedAt,
	); err != nil {
		return CalculationLog{}, err
	}
	e.PaymentMethod = method.String
	e.CreatedBy = by.String
	if promo.Valid {
		e.PromoCodeApplied = &promo.String
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return CalculationLog{}, fmt.Errorf("log %s calculation_details: %w", e.ID, err)
		}
	}
	return e, nil
}

func (s *PostgresLogStore) AppendCalculationLog(ctx context.Context, log CalculationLog) error {
	details, err := json.Marshal(log.Details)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO fee_calculation_logs (
  id, transaction_id, fee_type, client_id, fee_configuration_id, transaction_amount, payment_method,
  calculated_amount, calculation_method, calculation_details, promo_code_applied, discount_amount,
  final_fee_amount, transaction_at, created_by, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,NULLIF($7,''),$8,$9,$10,$11,$12,$13,$14,NULLIF($15,''),$16
)
`
	_, err = s.db.ExecContext(ctx, q,
		log.ID,
		log.TransactionID,
		log.FeeType,
		log.ClientID,
		log.FeeConfigurationID,
		log.TransactionAmount,
		log.PaymentMethod,
		log.CalculatedAmount,
		log.Method,
		details,
		log.PromoCodeApplied,
		log.DiscountAmount,
		log.FinalFeeAmount,
		log.AccountedAt(),
		log.CreatedBy,
		log.CreatedAt,
	)
	if utils.IsUniqueViolation(err, logUniqueIndex) {
		return ErrDuplicateCalculation
	}
	return err
}

func (s *PostgresLogStore) FindCalculation(ctx context.Context, transactionID string, feeType pricing.FeeType) (CalculationLog, bool, error) {
	q := `SELECT ` + logColumns + `
FROM fee_calculation_logs
WHERE transaction_id = $1 AND fee_type = $2
ORDER BY created_at DESC, id DESC
LIMIT 1
`
	e, err := scanLog(s.db.QueryRowContext(ctx, q, transactionID, feeType))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CalculationLog{}, false, nil
		}
		return CalculationLog{}, false, err
	}
	return e, true, nil
}

func (s *PostgresLogStore) ListCalculationLogs(ctx context.Context, clientID string, from, to time.Time) ([]CalculationLog, error) {
	q := `SELECT ` + logColumns + `
FROM fee_calculation_logs
WHERE client_id = $1 AND transaction_at >= $2 AND transaction_at < $3
ORDER BY created_at ASC, id ASC
`
	rows, err := s.db.QueryContext(ctx, q, clientID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CalculationLog
	for rows.Next() {
		e, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresLogStore) ListClients(ctx context.Context, from, to time.Time) ([]string, error) {
	const q = `
SELECT DISTINCT client_id
FROM fee_calculation_logs
WHERE transaction_at >= $1 AND transaction_at < $2
ORDER BY client_id
`
	rows, err := s.db.QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
