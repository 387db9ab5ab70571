package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"fee-engine/internal/metrics"
	"fee-engine/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func day(n int) time.Time { return time.Date(2024, 1, n, 0, 0, 0, 0, time.UTC) }

func usable(id int64, client *string, from time.Time) FeeConfiguration {
	c := approved(Percentage{}, "1.0")
	c.ID = id
	c.ClientID = client
	c.EffectiveFrom = from
	return c
}

func newResolver(cfgs ...FeeConfiguration) *Resolver {
	return NewResolver(NewMemoryRepo(cfgs...), logger.Discard(), metrics.New())
}

func TestResolve_PrefersClientSpecific(t *testing.T) {
	r := newResolver(
		usable(1, nil, day(1)),
		usable(2, strPtr("acme"), day(1)),
	)
	res, err := r.Resolve(context.Background(), "acme", FeeTypeTransaction, day(5))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Configuration.ID)
	assert.Empty(t, res.Conflicts)

	res, err = r.Resolve(context.Background(), "other", FeeTypeTransaction, day(5))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Configuration.ID)
}

func TestResolve_FallsBackWhenClientConfigNotUsable(t *testing.T) {
	pending := usable(2, strPtr("acme"), day(1))
	pending.ApprovalStatus = ApprovalStatusPending
	inactive := usable(3, strPtr("acme"), day(1))
	inactive.IsActive = false
	expired := usable(4, strPtr("acme"), day(1))
	expired.EffectiveUntil = timePtr(day(3))

	r := newResolver(usable(1, nil, day(1)), pending, inactive, expired)
	res, err := r.Resolve(context.Background(), "acme", FeeTypeTransaction, day(5))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Configuration.ID)
}

func TestResolve_WindowBoundaries(t *testing.T) {
	c := usable(1, nil, day(2))
	c.EffectiveUntil = timePtr(day(4))
	r := newResolver(c)

	_, err := r.Resolve(context.Background(), "acme", FeeTypeTransaction, day(2))
	assert.NoError(t, err, "effective_from is inclusive")

	_, err = r.Resolve(context.Background(), "acme", FeeTypeTransaction, day(4))
	assert.True(t, errors.Is(err, ErrNoApplicableConfiguration), "effective_until is exclusive")

	_, err = r.Resolve(context.Background(), "acme", FeeTypeTransaction, day(1))
	assert.True(t, errors.Is(err, ErrNoApplicableConfiguration))
}

func TestResolve_NoCandidate(t *testing.T) {
	r := newResolver(usable(1, nil, day(1)))
	_, err := r.Resolve(context.Background(), "acme", FeeTypeRefund, day(5))
	assert.True(t, errors.Is(err, ErrNoApplicableConfiguration))
}

func TestResolve_TieBreakLatestEffectiveFromThenSmallerID(t *testing.T) {
	r := newResolver(
		usable(7, strPtr("acme"), day(1)),
		usable(9, strPtr("acme"), day(3)),
		usable(8, strPtr("acme"), day(3)),
	)
	res, err := r.Resolve(context.Background(), "acme", FeeTypeTransaction, day(5))
	require.NoError(t, err)
	assert.Equal(t, int64(8), res.Configuration.ID)
	assert.Equal(t, []int64{9, 7}, res.Conflicts)
}

func TestResolve_StrictFailsOnConflict(t *testing.T) {
	r := newResolver(
		usable(1, strPtr("acme"), day(1)),
		usable(2, strPtr("acme"), day(2)),
	)
	r.Strict = true
	_, err := r.Resolve(context.Background(), "acme", FeeTypeTransaction, day(5))
	assert.True(t, errors.Is(err, ErrConfigurationConflict))
}

func TestResolve_RejectsUnknownFeeType(t *testing.T) {
	_, err := newResolver().Resolve(context.Background(), "acme", FeeType("bogus"), day(1))
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func timePtr(t time.Time) *time.Time { return &t }
