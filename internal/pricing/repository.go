package pricing

import "context"

// Repository is the policy-registry store for fee configurations.
//
// Configurations are never deleted. Lifecycle changes (approval, window closing,
// deactivation) go through ApplyApproval / UpdateLifecycle.
type Repository interface {
	ConfigSource

	Create(ctx context.Context, cfg FeeConfiguration) (FeeConfiguration, error)
	Get(ctx context.Context, id int64) (FeeConfiguration, error)

	// ApplyApproval atomically stores approved and closes the windows of superseded.
	ApplyApproval(ctx context.Context, approved FeeConfiguration, superseded []FeeConfiguration) error

	// UpdateLifecycle stores IsActive, ApprovalStatus, EffectiveUntil and UpdatedAt.
	UpdateLifecycle(ctx context.Context, cfg FeeConfiguration) error
}
