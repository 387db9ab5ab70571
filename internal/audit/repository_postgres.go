package audit

import (
	"context"
	"database/sql"

	"fee-engine/pkg/utils"
)

const eventsPrimaryKey = "fee_audit_events_pkey"

// PostgresRepo appends events to fee_audit_events.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO fee_audit_events (
  id, client_id, type, actor_user_id, actor_role, ip_address,
  configuration_id, transaction_id, reconciliation_id, message, metadata, created_at
) VALUES (
  $1, NULLIF($2,''), $3, $4, $5, $6, NULLIF($7,0), NULLIF($8,''), NULLIF($9,''), $10, NULLIF($11,'')::jsonb, $12
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.ClientID,
		e.Type,
		e.ActorUserID,
		e.ActorRole,
		e.IPAddress,
		e.ConfigurationID,
		e.TransactionID,
		e.ReconciliationID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	if utils.IsUniqueViolation(err, eventsPrimaryKey) {
		return ErrDuplicateEvent
	}
	return err
}
