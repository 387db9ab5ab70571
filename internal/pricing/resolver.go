package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"fee-engine/internal/metrics"
	"fee-engine/pkg/logger"
)

// ConfigSource is the read side of the policy-registry store.
//
// GetApplicableConfigurations returns every configuration for fee_type that belongs to
// clientID or to no client. Filtering by lifecycle and window is the resolver's job, so
// implementations may return inactive or expired rows.
type ConfigSource interface {
	GetApplicableConfigurations(ctx context.Context, clientID string, feeType FeeType) ([]FeeConfiguration, error)
}

// Resolution is the configuration picked for a (client, fee_type, instant).
// Conflicts lists the IDs of other usable candidates that lost the tie-break; it is empty
// for well-formed data.
type Resolution struct {
	Configuration FeeConfiguration `json:"configuration"`
	Conflicts     []int64          `json:"conflicts,omitempty"`
}

// Resolver finds the single applicable configuration.
//
// Contract:
// - Client-specific configurations win; the client-agnostic default is used only when
//   the client has no usable configuration of its own.
// - Candidates must be APPROVED, active, and have EffectiveFrom <= at < EffectiveUntil.
// - Tie-break: latest EffectiveFrom, then smaller ID.
// - More than one candidate is a data-integrity error. It is logged and counted; with
//   Strict set it fails with ErrConfigurationConflict instead of picking.
type Resolver struct {
	src     ConfigSource
	log     *slog.Logger
	metrics *metrics.Metrics

	Strict bool
}

func NewResolver(src ConfigSource, log *slog.Logger, m *metrics.Metrics) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{src: src, log: log, metrics: m}
}

func (r *Resolver) Resolve(ctx context.Context, clientID string, feeType FeeType, at time.Time) (Resolution, error) {
	if !feeType.Valid() {
		return Resolution{}, fmt.Errorf("%w: unknown fee_type %q", ErrInvalidArgument, feeType)
	}
	all, err := r.src.GetApplicableConfigurations(ctx, clientID, feeType)
	if err != nil {
		return Resolution{}, fmt.Errorf("load configurations: %w", err)
	}

	var own, defaults []FeeConfiguration
	for _, c := range all {
		if c.FeeType != feeType || !c.Usable(at) {
			continue
		}
		switch {
		case c.IsDefault():
			defaults = append(defaults, c)
		case clientID != "" && *c.ClientID == clientID:
			own = append(own, c)
		}
	}

	candidates := own
	if len(candidates) == 0 {
		candidates = defaults
	}
	if len(candidates) == 0 {
		return Resolution{}, fmt.Errorf("%w: client=%q fee_type=%s at=%s", ErrNoApplicableConfiguration, clientID, feeType, at.UTC().Format(time.RFC3339))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.EffectiveFrom.Equal(b.EffectiveFrom) {
			return a.EffectiveFrom.After(b.EffectiveFrom)
		}
		return a.ID < b.ID
	})

	res := Resolution{Configuration: candidates[0]}
	if len(candidates) > 1 {
		for _, c := range candidates[1:] {
			res.Conflicts = append(res.Conflicts, c.ID)
		}
		r.metrics.IncConfigConflict(string(feeType))
		logger.From(ctx, r.log).Error("overlapping active fee configurations",
			"client_id", clientID,
			"fee_type", feeType,
			"at", at,
			"picked_id", res.Configuration.ID,
			"conflicting_ids", res.Conflicts,
		)
		if r.Strict {
			return Resolution{}, fmt.Errorf("%w: client=%q fee_type=%s ids=%v", ErrConfigurationConflict, clientID, feeType, append([]int64{res.Configuration.ID}, res.Conflicts...))
		}
	}
	return res, nil
}
