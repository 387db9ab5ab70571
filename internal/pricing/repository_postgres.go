package pricing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"fee-engine/pkg/utils"

	"github.com/shopspring/decimal"
)

// NOTE: PostgresRepo assumes the following table exists:
//
// fee_configurations (
//   id bigserial primary key, client_id text null, fee_type text,
//   fee_structure text, structure_params jsonb, base_rate numeric, minimum_fee numeric,
//   maximum_fee numeric null, payment_method_rates jsonb,
//   effective_from timestamptz, effective_until timestamptz null,
//   is_active bool, requires_approval bool, approval_status text,
//   created_at timestamptz, updated_at timestamptz
// )
// with an index on (fee_type, client_id).

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const configColumns = `
id, client_id, fee_type, fee_structure, structure_params, base_rate, minimum_fee, maximum_fee,
payment_method_rates, effective_from, effective_until, is_active, requires_approval, approval_status,
created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfiguration(row rowScanner) (FeeConfiguration, error) {
	var (
		c        FeeConfiguration
		clientID sql.NullString
		kind     StructureKind
		params   []byte
		maxFee   decimal.NullDecimal
		rates    []byte
		until    sql.NullTime
	)
	if err := row.Scan(
		&c.ID,
		&clientID,
		&c.FeeType,
		&kind,
		&params,
		&c.BaseRate,
		&c.MinimumFee,
		&maxFee,
		&rates,
		&c.EffectiveFrom,
		&until,
		&c.IsActive,
		&c.RequiresApproval,
		&c.ApprovalStatus,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return FeeConfiguration{}, err
	}
	if clientID.Valid {
		c.ClientID = &clientID.String
	}
	if maxFee.Valid {
		c.MaximumFee = &maxFee.Decimal
	}
	if until.Valid {
		c.EffectiveUntil = &until.Time
	}
	if len(rates) > 0 {
		if err := json.Unmarshal(rates, &c.PaymentMethodRates); err != nil {
			return FeeConfiguration{}, fmt.Errorf("%w: configuration %d payment_method_rates: %v", ErrInvalidConfiguration, c.ID, err)
		}
	}
	s, err := UnmarshalStructure(kind, params)
	if err != nil {
		return FeeConfiguration{}, fmt.Errorf("configuration %d: %w", c.ID, err)
	}
	c.Structure = s
	return c, nil
}

func (r *PostgresRepo) GetApplicableConfigurations(ctx context.Context, clientID string, feeType FeeType) ([]FeeConfiguration, error) {
	q := `SELECT ` + configColumns + `
FROM fee_configurations
WHERE fee_type = $1
  AND (client_id IS NULL OR client_id = $2)
  AND is_active = true
  AND approval_status = 'APPROVED'
ORDER BY effective_from DESC, id ASC
`
	rows, err := r.db.QueryContext(ctx, q, feeType, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FeeConfiguration
	for rows.Next() {
		c, err := scanConfiguration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Create(ctx context.Context, cfg FeeConfiguration) (FeeConfiguration, error) {
	kind, params, err := MarshalStructure(cfg.Structure)
	if err != nil {
		return FeeConfiguration{}, err
	}
	rates, err := json.Marshal(cfg.PaymentMethodRates)
	if err != nil {
		return FeeConfiguration{}, err
	}

	const q = `
INSERT INTO fee_configurations (
  client_id, fee_type, fee_structure, structure_params, base_rate, minimum_fee, maximum_fee,
  payment_method_rates, effective_from, effective_until, is_active, requires_approval, approval_status,
  created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)
RETURNING id
`
	if err := r.db.QueryRowContext(ctx, q,
		cfg.ClientID,
		cfg.FeeType,
		kind,
		params,
		cfg.BaseRate,
		cfg.MinimumFee,
		nullDecimal(cfg.MaximumFee),
		rates,
		cfg.EffectiveFrom,
		cfg.EffectiveUntil,
		cfg.IsActive,
		cfg.RequiresApproval,
		cfg.ApprovalStatus,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	).Scan(&cfg.ID); err != nil {
		return FeeConfiguration{}, err
	}
	return cfg, nil
}

func (r *PostgresRepo) Get(ctx context.Context, id int64) (FeeConfiguration, error) {
	q := `SELECT ` + configColumns + ` FROM fee_configurations WHERE id = $1`
	c, err := scanConfiguration(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FeeConfiguration{}, ErrNotFound
		}
		return FeeConfiguration{}, err
	}
	return c, nil
}

func (r *PostgresRepo) ApplyApproval(ctx context.Context, approved FeeConfiguration, superseded []FeeConfiguration) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		// Lock every touched row so concurrent approvals for the same scope serialize.
		const lock = `SELECT id FROM fee_configurations WHERE id = $1 FOR UPDATE`
		ids := append([]int64{approved.ID}, idsOf(superseded)...)
		for _, id := range ids {
			var got int64
			if err := tx.QueryRowContext(ctx, lock, id).Scan(&got); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrNotFound
				}
				return err
			}
		}
		if err := updateLifecycle(ctx, tx, approved); err != nil {
			return err
		}
		for _, s := range superseded {
			if err := updateLifecycle(ctx, tx, s); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *PostgresRepo) UpdateLifecycle(ctx context.Context, cfg FeeConfiguration) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		return updateLifecycle(ctx, tx, cfg)
	})
}

func updateLifecycle(ctx context.Context, tx *sql.Tx, cfg FeeConfiguration) error {
	const q = `
UPDATE fee_configurations
SET is_active = $2, approval_status = $3, effective_until = $4, updated_at = $5
WHERE id = $1
`
	res, err := tx.ExecContext(ctx, q, cfg.ID, cfg.IsActive, cfg.ApprovalStatus, cfg.EffectiveUntil, cfg.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func idsOf(cfgs []FeeConfiguration) []int64 {
	out := make([]int64, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, c.ID)
	}
	return out
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
