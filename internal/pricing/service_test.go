package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"fee-engine/internal/audit"
	"fee-engine/internal/money"
	"fee-engine/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var admin = audit.Actor{UserID: "admin-1", Role: "admin"}

func newService() (*Service, *MemoryRepo, *audit.MemoryRepo) {
	repo := NewMemoryRepo()
	events := audit.NewMemoryRepo()
	return NewService(repo, audit.NewService(events), logger.Discard(), 2), repo, events
}

func draft(client *string, from int, requiresApproval bool) FeeConfiguration {
	return FeeConfiguration{
		ClientID:         client,
		FeeType:          FeeTypeTransaction,
		Structure:        Percentage{},
		BaseRate:         d("2.0"),
		EffectiveFrom:    day(from),
		RequiresApproval: requiresApproval,
	}
}

func TestService_CreatePendingUntilApproved(t *testing.T) {
	svc, repo, events := newService()
	ctx := context.Background()

	cfg, err := svc.Create(ctx, admin, draft(strPtr("acme"), 1, true))
	require.NoError(t, err)
	assert.Equal(t, ApprovalStatusPending, cfg.ApprovalStatus)

	r := NewResolver(repo, logger.Discard(), nil)
	_, err = r.Resolve(ctx, "acme", FeeTypeTransaction, day(2))
	assert.True(t, errors.Is(err, ErrNoApplicableConfiguration))

	cfg, err = svc.Approve(ctx, admin, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalStatusApproved, cfg.ApprovalStatus)

	res, err := r.Resolve(ctx, "acme", FeeTypeTransaction, day(2))
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, res.Configuration.ID)

	types := []audit.EventType{}
	for _, e := range events.Events() {
		types = append(types, e.Type)
	}
	assert.Equal(t, []audit.EventType{audit.EventTypeConfigCreated, audit.EventTypeConfigApproved}, types)
}

func TestService_ApproveSupersedesPredecessor(t *testing.T) {
	svc, repo, _ := newService()
	ctx := context.Background()

	old, err := svc.Create(ctx, admin, draft(nil, 1, false))
	require.NoError(t, err)
	next, err := svc.Create(ctx, admin, draft(nil, 10, false))
	require.NoError(t, err)

	old, err = repo.Get(ctx, old.ID)
	require.NoError(t, err)
	require.NotNil(t, old.EffectiveUntil)
	assert.True(t, old.EffectiveUntil.Equal(next.EffectiveFrom))

	r := NewResolver(repo, logger.Discard(), nil)
	res, err := r.Resolve(ctx, "any", FeeTypeTransaction, day(5))
	require.NoError(t, err)
	assert.Equal(t, old.ID, res.Configuration.ID, "history stays resolvable")

	res, err = r.Resolve(ctx, "any", FeeTypeTransaction, day(12))
	require.NoError(t, err)
	assert.Equal(t, next.ID, res.Configuration.ID)
	assert.Empty(t, res.Conflicts)
}

func TestService_ApproveRejectsBackdatedOverlap(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	_, err := svc.Create(ctx, admin, draft(strPtr("acme"), 10, false))
	require.NoError(t, err)
	_, err = svc.Create(ctx, admin, draft(strPtr("acme"), 5, false))
	assert.True(t, errors.Is(err, ErrConfigurationConflict))
}

func TestService_ClientAndDefaultScopesAreIndependent(t *testing.T) {
	svc, repo, _ := newService()
	ctx := context.Background()

	def, err := svc.Create(ctx, admin, draft(nil, 1, false))
	require.NoError(t, err)
	_, err = svc.Create(ctx, admin, draft(strPtr("acme"), 5, false))
	require.NoError(t, err)

	def, err = repo.Get(ctx, def.ID)
	require.NoError(t, err)
	assert.Nil(t, def.EffectiveUntil)
}

func TestService_RejectAndDeactivate(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	cfg, err := svc.Create(ctx, admin, draft(nil, 1, true))
	require.NoError(t, err)
	cfg, err = svc.Reject(ctx, admin, cfg.ID, "wrong rate")
	require.NoError(t, err)
	assert.Equal(t, ApprovalStatusRejected, cfg.ApprovalStatus)
	assert.False(t, cfg.IsActive)

	_, err = svc.Approve(ctx, admin, cfg.ID)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	live, err := svc.Create(ctx, admin, draft(nil, 1, false))
	require.NoError(t, err)
	live, err = svc.Deactivate(ctx, admin, live.ID)
	require.NoError(t, err)
	assert.False(t, live.IsActive)
}

func TestService_CreateValidates(t *testing.T) {
	svc, _, _ := newService()
	bad := draft(nil, 1, false)
	bad.Structure = Tiered{Tiers: []Tier{
		{Min: d("0"), Max: money.Ptr(d("100")), Rate: d("1")},
		{Min: d("150"), Rate: d("1")},
	}}
	_, err := svc.Create(context.Background(), admin, bad)
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
}

func TestValidate_TiersAndSlabs(t *testing.T) {
	cfg := draft(nil, 1, false)

	cfg.Structure = twoTiers()
	assert.NoError(t, cfg.Validate(2))

	cfg.Structure = twoSlabs()
	assert.NoError(t, cfg.Validate(2))

	cfg.Structure = Tiered{Tiers: []Tier{
		{Min: d("0"), Max: money.Ptr(d("100")), Rate: d("1")},
		{Min: d("100"), Rate: d("1")},
	}}
	assert.Error(t, cfg.Validate(2), "tiers sharing a bound overlap")

	cfg.Structure = Tiered{Tiers: []Tier{
		{Min: d("10"), Max: money.Ptr(d("100")), Rate: d("1")},
	}}
	assert.Error(t, cfg.Validate(2), "tiers must start at zero")

	cfg.Structure = Tiered{Tiers: []Tier{
		{Min: d("0"), Rate: d("1")},
		{Min: d("100"), Rate: d("1")},
	}}
	assert.Error(t, cfg.Validate(2), "open tier must be last")

	cfg.Structure = VolumeBased{Slabs: []Slab{
		{Min: d("0"), Max: money.Ptr(d("100")), Rate: d("1")},
		{Min: d("100"), Rate: d("0.5")},
	}}
	assert.NoError(t, cfg.Validate(2), "half-open slabs may share a bound")

	cfg.Structure = Percentage{}
	cfg.MaximumFee = money.Ptr(d("1"))
	cfg.MinimumFee = d("2")
	assert.Error(t, cfg.Validate(2))
}

func TestFeeConfiguration_JSONCarriesTaggedStructure(t *testing.T) {
	cfg := draft(strPtr("acme"), 1, false)
	cfg.Structure = twoTiers()

	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"fee_structure":"TIERED"`)

	var back FeeConfiguration
	require.NoError(t, json.Unmarshal(b, &back))
	tiered, ok := back.Structure.(Tiered)
	require.True(t, ok, "got %T", back.Structure)
	require.Len(t, tiered.Tiers, 2)
	assert.Nil(t, tiered.Tiers[1].Max)

	err = json.Unmarshal([]byte(`{"fee_type":"transaction","structure":{"fee_structure":"STEPPED"}}`), &back)
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
}
