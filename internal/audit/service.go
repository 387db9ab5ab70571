package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// There are no Update or Delete methods.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to client users.
// - Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var (
	ErrInvalidEvent   = errors.New("audit: invalid event")
	ErrDuplicateEvent = errors.New("audit: event id already recorded")
)

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" || e.ActorUserID == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogConfiguration records a configuration lifecycle action (create, approve, reject, deactivate).
func (s *Service) LogConfiguration(ctx context.Context, typ EventType, actor Actor, clientID string, configID int64, message string) error {
	return s.Append(ctx, Event{
		ClientID:        clientID,
		Type:            typ,
		ActorUserID:     actor.UserID,
		ActorRole:       actor.Role,
		IPAddress:       actor.IP,
		ConfigurationID: configID,
		Message:         message,
	})
}

// LogManualCorrection records an operator-entered MANUAL calculation log.
func (s *Service) LogManualCorrection(ctx context.Context, actor Actor, clientID, transactionID, reason, metadata string) error {
	return s.Append(ctx, Event{
		ClientID:      clientID,
		Type:          EventTypeManualCorrection,
		ActorUserID:   actor.UserID,
		ActorRole:     actor.Role,
		IPAddress:     actor.IP,
		TransactionID: transactionID,
		Message:       reason,
		Metadata:      metadata,
	})
}

// LogReconciliationResolved records the human action closing a DISCREPANCY.
func (s *Service) LogReconciliationResolved(ctx context.Context, actor Actor, clientID, reconciliationID, notes string) error {
	return s.Append(ctx, Event{
		ClientID:         clientID,
		Type:             EventTypeReconciliationResolved,
		ActorUserID:      actor.UserID,
		ActorRole:        actor.Role,
		IPAddress:        actor.IP,
		ReconciliationID: reconciliationID,
		Message:          notes,
	})
}
