package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - actor_user_id is required: every audited action in the engine is a human or
//   service decision (approval, correction, resolution).
// - Audit is best-effort; do not block fee calculation on audit failures.
//
// Storage (Postgres): table fee_audit_events, INSERT-only.
type Event struct {
	ID string `json:"id" db:"id"`

	// ClientID is empty for actions on platform-default configurations.
	ClientID string `json:"client_id,omitempty" db:"client_id"`

	Type EventType `json:"type" db:"type"`

	ActorUserID string `json:"actor_user_id" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	// Target identifiers, depending on the event type.
	ConfigurationID  int64  `json:"configuration_id,omitempty" db:"configuration_id"`
	TransactionID    string `json:"transaction_id,omitempty" db:"transaction_id"`
	ReconciliationID string `json:"reconciliation_id,omitempty" db:"reconciliation_id"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON with full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeConfigCreated          EventType = "config_created"
	EventTypeConfigApproved         EventType = "config_approved"
	EventTypeConfigRejected         EventType = "config_rejected"
	EventTypeConfigDeactivated      EventType = "config_deactivated"
	EventTypeManualCorrection       EventType = "manual_correction"
	EventTypeReconciliationResolved EventType = "reconciliation_resolved"
)

// Actor identifies who performed an audited action.
type Actor struct {
	UserID string
	Role   string
	IP     string
}
