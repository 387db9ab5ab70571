package promo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fee-engine/pkg/utils"

	"github.com/shopspring/decimal"
)

// NOTE: PostgresStore assumes the following tables exist:
// - promotional_fees (UNIQUE promo_code, stored upper-cased; used_count bigint)
// - promo_client_usage (PRIMARY KEY (promo_id, client_id); used_count bigint)
//
// used_count is changed by IncrementUsage and ReleaseUsage under a row lock on the
// promotion, or mirrored by SyncUsedCount when Redis owns the counters.

const promoUniqueConstraint = "promotional_fees_promo_code_key"

type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const promoColumns = `
id, promo_code, client_id, discount_type, discount_value, max_discount_amount,
valid_from, valid_until, minimum_transaction_amount, applicable_payment_methods, applicable_fee_types,
usage_limit, used_count, usage_per_client, status, created_at, updated_at`

func scanPromotion(row interface{ Scan(...any) error }) (PromotionalFee, error) {
	var (
		p          PromotionalFee
		clientID   sql.NullString
		dtype      DiscountType
		value      decimal.Decimal
		maxAmount  decimal.NullDecimal
		minAmount  decimal.NullDecimal
		methods    []byte
		feeTypes   []byte
		usageLimit sql.NullInt64
		perClient  sql.NullInt64
	)
	if err := row.Scan(
		&p.ID,
		&p.PromoCode,
		&clientID,
		&dtype,
		&value,
		&maxAmount,
		&p.ValidFrom,
		&p.ValidUntil,
		&minAmount,
		&methods,
		&feeTypes,
		&usageLimit,
		&p.UsedCount,
		&perClient,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return PromotionalFee{}, err
	}
	if clientID.Valid {
		p.ClientID = &clientID.String
	}
	var maxPtr *decimal.Decimal
	if maxAmount.Valid {
		maxPtr = &maxAmount.Decimal
	}
	d, err := NewDiscount(dtype, value, maxPtr)
	if err != nil {
		return PromotionalFee{}, err
	}
	p.Discount = d
	if minAmount.Valid {
		p.MinimumTransactionAmount = &minAmount.Decimal
	}
	if usageLimit.Valid {
		p.UsageLimit = &usageLimit.Int64
	}
	if perClient.Valid {
		p.UsagePerClient = &perClient.Int64
	}
	if len(methods) > 0 {
		if err := json.Unmarshal(methods, &p.ApplicablePaymentMethods); err != nil {
			return PromotionalFee{}, fmt.Errorf("promotion %d applicable_payment_methods: %w", p.ID, err)
		}
	}
	if len(feeTypes) > 0 {
		if err := json.Unmarshal(feeTypes, &p.ApplicableFeeTypes); err != nil {
			return PromotionalFee{}, fmt.Errorf("promotion %d applicable_fee_types: %w", p.ID, err)
		}
	}
	return p, nil
}

func (s *PostgresStore) CreatePromotion(ctx context.Context, p PromotionalFee) (PromotionalFee, error) {
	if err := p.Validate(); err != nil {
		return PromotionalFee{}, err
	}
	p.PromoCode = NormalizeCode(p.PromoCode)
	now := s.clock().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	dtype, value, maxAmount := DiscountFields(p.Discount)
	methods, err := json.Marshal(p.ApplicablePaymentMethods)
	if err != nil {
		return PromotionalFee{}, err
	}
	feeTypes, err := json.Marshal(p.ApplicableFeeTypes)
	if err != nil {
		return PromotionalFee{}, err
	}

	const q = `
INSERT INTO promotional_fees (
  promo_code, client_id, discount_type, discount_value, max_discount_amount,
  valid_from, valid_until, minimum_transaction_amount, applicable_payment_methods, applicable_fee_types,
  usage_limit, used_count, usage_per_client, status, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)
RETURNING id
`
	err = s.db.QueryRowContext(ctx, q,
		p.PromoCode,
		p.ClientID,
		dtype,
		value,
		maxAmount,
		p.ValidFrom,
		p.ValidUntil,
		p.MinimumTransactionAmount,
		methods,
		feeTypes,
		p.UsageLimit,
		p.UsedCount,
		p.UsagePerClient,
		p.Status,
		p.CreatedAt,
		p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		if utils.IsUniqueViolation(err, promoUniqueConstraint) {
			return PromotionalFee{}, ErrDuplicateCode
		}
		return PromotionalFee{}, err
	}
	return p, nil
}

func (s *PostgresStore) GetPromotion(ctx context.Context, code string) (PromotionalFee, bool, error) {
	q := `SELECT ` + promoColumns + ` FROM promotional_fees WHERE promo_code = $1`
	p, err := scanPromotion(s.db.QueryRowContext(ctx, q, NormalizeCode(code)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PromotionalFee{}, false, nil
		}
		return PromotionalFee{}, false, err
	}
	return p, true, nil
}

func (s *PostgresStore) Usage(ctx context.Context, p PromotionalFee, clientID string) (Usage, error) {
	const q = `
SELECT f.used_count, COALESCE(u.used_count, 0)
FROM promotional_fees f
LEFT JOIN promo_client_usage u ON u.promo_id = f.id AND u.client_id = $2
WHERE f.id = $1
`
	var u Usage
	if err := s.db.QueryRowContext(ctx, q, p.ID, clientID).Scan(&u.Global, &u.Client); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Usage{}, ErrNotFound
		}
		return Usage{}, err
	}
	return u, nil
}

// IncrementUsage locks the promotion row, re-checks both limits and increments both
// counters in one transaction. Concurrent callers serialize on the row lock, so at most
// usage_limit increments ever commit.
func (s *PostgresStore) IncrementUsage(ctx context.Context, p PromotionalFee, clientID string) (bool, error) {
	ok := false
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const lock = `
SELECT used_count, usage_limit, usage_per_client
FROM promotional_fees
WHERE id = $1
FOR UPDATE
`
		var (
			used      int64
			limit     sql.NullInt64
			perClient sql.NullInt64
		)
		if err := tx.QueryRowContext(ctx, lock, p.ID).Scan(&used, &limit, &perClient); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if limit.Valid && used >= limit.Int64 {
			return nil
		}

		if perClient.Valid {
			const q = `SELECT used_count FROM promo_client_usage WHERE promo_id = $1 AND client_id = $2`
			var clientUsed int64
			err := tx.QueryRowContext(ctx, q, p.ID, clientID).Scan(&clientUsed)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if clientUsed >= perClient.Int64 {
				return nil
			}
		}

		now := s.clock().UTC()
		const incr = `
UPDATE promotional_fees
SET used_count = used_count + 1, updated_at = $2
WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)
`
		res, err := tx.ExecContext(ctx, incr, p.ID, now)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return err
		}

		const upsert = `
INSERT INTO promo_client_usage (promo_id, client_id, used_count, updated_at)
VALUES ($1, $2, 1, $3)
ON CONFLICT (promo_id, client_id)
DO UPDATE SET used_count = promo_client_usage.used_count + 1,
              updated_at = EXCLUDED.updated_at
`
		if _, err := tx.ExecContext(ctx, upsert, p.ID, clientID, now); err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// ReleaseUsage decrements both counters, never below zero.
func (s *PostgresStore) ReleaseUsage(ctx context.Context, p PromotionalFee, clientID string) error {
	return utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		now := s.clock().UTC()
		const global = `
UPDATE promotional_fees
SET used_count = used_count - 1, updated_at = $2
WHERE id = $1 AND used_count > 0
`
		if _, err := tx.ExecContext(ctx, global, p.ID, now); err != nil {
			return err
		}
		const client = `
UPDATE promo_client_usage
SET used_count = used_count - 1, updated_at = $3
WHERE promo_id = $1 AND client_id = $2 AND used_count > 0
`
		_, err := tx.ExecContext(ctx, client, p.ID, clientID, now)
		return err
	})
}

// SyncUsedCount mirrors the Redis global counter into promotional_fees.used_count.
func (s *PostgresStore) SyncUsedCount(ctx context.Context, promoID, used int64) error {
	const q = `UPDATE promotional_fees SET used_count = $2, updated_at = $3 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, promoID, used, s.clock().UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
