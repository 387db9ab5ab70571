package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fee-engine/internal/audit"
	"fee-engine/pkg/logger"
)

// Auditor records configuration lifecycle actions. Best-effort.
type Auditor interface {
	LogConfiguration(ctx context.Context, typ audit.EventType, actor audit.Actor, clientID string, configID int64, message string) error
}

// Service authors fee configurations.
//
// Contract:
// - Every write is validated (tier/slab contiguity, rates, window) before it is stored.
// - A configuration that requires approval is stored PENDING and is not usable until
//   Approve. One that does not is approved on creation.
// - Approval supersedes: approved predecessors in the same (client, fee_type) scope whose
//   window overlaps get EffectiveUntil = new.EffectiveFrom. Nothing is deleted.
// - Approval fails with ErrConfigurationConflict when an approved configuration in the
//   scope starts at or after the new one and overlaps it.
type Service struct {
	repo   Repository
	audit  Auditor
	log    *slog.Logger
	places int32
	clock  func() time.Time
}

func NewService(repo Repository, auditor Auditor, log *slog.Logger, places int32) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, audit: auditor, log: log, places: places, clock: time.Now}
}

func (s *Service) Get(ctx context.Context, id int64) (FeeConfiguration, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, actor audit.Actor, cfg FeeConfiguration) (FeeConfiguration, error) {
	if err := cfg.Validate(s.places); err != nil {
		return FeeConfiguration{}, err
	}
	now := s.clock().UTC()
	cfg.ID = 0
	cfg.IsActive = true
	cfg.ApprovalStatus = ApprovalStatusPending
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	created, err := s.repo.Create(ctx, cfg)
	if err != nil {
		return FeeConfiguration{}, err
	}
	s.record(ctx, audit.EventTypeConfigCreated, actor, created, "configuration created")

	if created.RequiresApproval {
		return created, nil
	}
	return s.approve(ctx, actor, created)
}

func (s *Service) Approve(ctx context.Context, actor audit.Actor, id int64) (FeeConfiguration, error) {
	cfg, err := s.repo.Get(ctx, id)
	if err != nil {
		return FeeConfiguration{}, err
	}
	if cfg.ApprovalStatus != ApprovalStatusPending {
		return FeeConfiguration{}, fmt.Errorf("%w: configuration %d is %s", ErrInvalidArgument, id, cfg.ApprovalStatus)
	}
	return s.approve(ctx, actor, cfg)
}

func (s *Service) approve(ctx context.Context, actor audit.Actor, cfg FeeConfiguration) (FeeConfiguration, error) {
	siblings, err := s.repo.GetApplicableConfigurations(ctx, clientKey(cfg), cfg.FeeType)
	if err != nil {
		return FeeConfiguration{}, err
	}

	now := s.clock().UTC()
	var superseded []FeeConfiguration
	for _, o := range siblings {
		if o.ID == cfg.ID || clientKey(o) != clientKey(cfg) {
			continue
		}
		if !o.IsActive || o.ApprovalStatus != ApprovalStatusApproved || !o.Overlaps(cfg) {
			continue
		}
		if !o.EffectiveFrom.Before(cfg.EffectiveFrom) {
			return FeeConfiguration{}, fmt.Errorf("%w: configuration %d overlaps approved configuration %d", ErrConfigurationConflict, cfg.ID, o.ID)
		}
		until := cfg.EffectiveFrom
		o.EffectiveUntil = &until
		o.UpdatedAt = now
		superseded = append(superseded, o)
	}

	cfg.ApprovalStatus = ApprovalStatusApproved
	cfg.UpdatedAt = now
	if err := s.repo.ApplyApproval(ctx, cfg, superseded); err != nil {
		return FeeConfiguration{}, err
	}

	for _, o := range superseded {
		logger.From(ctx, s.log).Info("fee configuration superseded",
			"configuration_id", o.ID,
			"superseded_by", cfg.ID,
			"effective_until", cfg.EffectiveFrom,
		)
	}
	s.record(ctx, audit.EventTypeConfigApproved, actor, cfg, fmt.Sprintf("approved; superseded %v", idsOf(superseded)))
	return cfg, nil
}

func (s *Service) Reject(ctx context.Context, actor audit.Actor, id int64, reason string) (FeeConfiguration, error) {
	cfg, err := s.repo.Get(ctx, id)
	if err != nil {
		return FeeConfiguration{}, err
	}
	if cfg.ApprovalStatus != ApprovalStatusPending {
		return FeeConfiguration{}, fmt.Errorf("%w: configuration %d is %s", ErrInvalidArgument, id, cfg.ApprovalStatus)
	}
	cfg.ApprovalStatus = ApprovalStatusRejected
	cfg.IsActive = false
	cfg.UpdatedAt = s.clock().UTC()
	if err := s.repo.UpdateLifecycle(ctx, cfg); err != nil {
		return FeeConfiguration{}, err
	}
	s.record(ctx, audit.EventTypeConfigRejected, actor, cfg, reason)
	return cfg, nil
}

// Deactivate takes a configuration out of resolution. The row is retained for audit.
func (s *Service) Deactivate(ctx context.Context, actor audit.Actor, id int64) (FeeConfiguration, error) {
	cfg, err := s.repo.Get(ctx, id)
	if err != nil {
		return FeeConfiguration{}, err
	}
	if !cfg.IsActive {
		return cfg, nil
	}
	cfg.IsActive = false
	cfg.UpdatedAt = s.clock().UTC()
	if err := s.repo.UpdateLifecycle(ctx, cfg); err != nil {
		return FeeConfiguration{}, err
	}
	s.record(ctx, audit.EventTypeConfigDeactivated, actor, cfg, "configuration deactivated")
	return cfg, nil
}

func (s *Service) record(ctx context.Context, typ audit.EventType, actor audit.Actor, cfg FeeConfiguration, msg string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogConfiguration(ctx, typ, actor, clientKey(cfg), cfg.ID, msg); err != nil {
		logger.From(ctx, s.log).Warn("audit append failed", "type", typ, "configuration_id", cfg.ID, "err", err)
	}
}

func clientKey(c FeeConfiguration) string {
	if c.ClientID == nil {
		return ""
	}
	return *c.ClientID
}
