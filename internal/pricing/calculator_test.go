package pricing

import (
	"errors"
	"testing"
	"time"

	"fee-engine/internal/money"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var d = money.MustParse

func approved(s Structure, base string) FeeConfiguration {
	return FeeConfiguration{
		ID:             1,
		FeeType:        FeeTypeTransaction,
		Structure:      s,
		BaseRate:       d(base),
		EffectiveFrom:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		IsActive:       true,
		ApprovalStatus: ApprovalStatusApproved,
	}
}

func twoTiers() Tiered {
	return Tiered{Tiers: []Tier{
		{Min: d("0"), Max: money.Ptr(d("1000")), Rate: d("1.5")},
		{Min: d("1000.01"), Rate: d("1.0")},
	}}
}

func twoSlabs() VolumeBased {
	return VolumeBased{Scope: VolumeScopeMonthly, Slabs: []Slab{
		{Min: d("0"), Max: money.Ptr(d("100000")), Rate: d("2.0")},
		{Min: d("100000.01"), Rate: d("1.5")},
	}}
}

func TestCompute_Percentage(t *testing.T) {
	calc := NewCalculator(2)
	res, err := calc.Compute(approved(Percentage{}, "2.00"), d("1000.00"), "card", VolumeContext{})
	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(d("20.00")), "got %s", res.Amount)
	assert.Equal(t, RateSourceBase, res.Details.RateSource)
	assert.False(t, res.Details.MinClampApplied)
	assert.False(t, res.Details.MaxClampApplied)
}

func TestCompute_PercentagePaymentMethodOverride(t *testing.T) {
	cfg := approved(Percentage{}, "2.00")
	cfg.PaymentMethodRates = map[string]decimal.Decimal{"ach": d("0.5")}

	res, err := NewCalculator(2).Compute(cfg, d("1000.00"), "ach", VolumeContext{})
	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(d("5.00")), "got %s", res.Amount)
	assert.Equal(t, RateSourcePaymentMethod, res.Details.RateSource)
	assert.Equal(t, "ach", res.Details.PaymentMethodOverride)
}

func TestCompute_FlatIgnoresAmount(t *testing.T) {
	cfg := approved(Flat{}, "3.25")
	calc := NewCalculator(2)
	for _, amt := range []string{"0", "0.01", "10", "999999.99"} {
		res, err := calc.Compute(cfg, d(amt), "", VolumeContext{})
		require.NoError(t, err)
		assert.True(t, res.Amount.Equal(d("3.25")), "amount %s gave %s", amt, res.Amount)
	}
}

func TestCompute_TieredExample(t *testing.T) {
	res, err := NewCalculator(2).Compute(approved(twoTiers(), "0"), d("1500.00"), "card", VolumeContext{})
	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(d("15.00")), "got %s", res.Amount)
	require.NotNil(t, res.Details.TierIndex)
	assert.Equal(t, 1, *res.Details.TierIndex)
}

func TestCompute_TieredExactlyOneTierMatches(t *testing.T) {
	tiers := twoTiers().Tiers
	for _, amt := range []string{"0", "0.01", "999.99", "1000", "1000.01", "5000"} {
		n := 0
		for _, tier := range tiers {
			if tier.contains(d(amt)) {
				n++
			}
		}
		assert.Equal(t, 1, n, "amount %s matched %d tiers", amt, n)
	}

	res, err := NewCalculator(2).Compute(approved(twoTiers(), "0"), d("1000.00"), "", VolumeContext{})
	require.NoError(t, err)
	assert.Equal(t, 0, *res.Details.TierIndex)
}

func TestCompute_TieredNoMatchIsInvalidConfiguration(t *testing.T) {
	cfg := approved(Tiered{Tiers: []Tier{{Min: d("0"), Max: money.Ptr(d("100")), Rate: d("1")}}}, "0")
	_, err := NewCalculator(2).Compute(cfg, d("100.01"), "", VolumeContext{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoMatchingTier))
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
}

func TestCompute_VolumeBasedUsesPriorVolume(t *testing.T) {
	calc := NewCalculator(2)
	res, err := calc.Compute(approved(twoSlabs(), "0"), d("500"), "card", VolumeContext{MonthlyVolume: d("150000")})
	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(d("7.50")), "got %s", res.Amount)
	assert.Equal(t, 1, *res.Details.SlabIndex)
	assert.True(t, res.Details.VolumeUsed.Equal(d("150000")))

	// The transaction's own amount is not part of the lookup.
	res, err = calc.Compute(approved(twoSlabs(), "0"), d("500"), "card", VolumeContext{MonthlyVolume: d("99900")})
	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(d("10.00")), "got %s", res.Amount)
	assert.Equal(t, 0, *res.Details.SlabIndex)
}

func TestCompute_VolumeBasedAnnualScope(t *testing.T) {
	s := twoSlabs()
	s.Scope = VolumeScopeAnnual
	res, err := NewCalculator(2).Compute(approved(s, "0"), d("500"), "", VolumeContext{MonthlyVolume: d("10"), AnnualVolume: d("200000")})
	require.NoError(t, err)
	assert.Equal(t, 1, *res.Details.SlabIndex)
	assert.Equal(t, VolumeScopeAnnual, res.Details.VolumeScope)
}

func TestCompute_VolumeBasedNoMatch(t *testing.T) {
	s := VolumeBased{Slabs: []Slab{{Min: d("0"), Max: money.Ptr(d("100")), Rate: d("1")}}}
	_, err := NewCalculator(2).Compute(approved(s, "0"), d("5"), "", VolumeContext{MonthlyVolume: d("100")})
	assert.True(t, errors.Is(err, ErrNoMatchingSlab))
}

func TestCompute_HybridAddsFlatComponent(t *testing.T) {
	res, err := NewCalculator(2).Compute(approved(Hybrid{FlatComponent: d("0.30")}, "2.9"), d("100.00"), "card", VolumeContext{})
	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(d("3.20")), "got %s", res.Amount)
	assert.True(t, res.Details.FlatComponent.Equal(d("0.30")))
}

func TestCompute_CustomOverridesThenFallback(t *testing.T) {
	cfg := approved(Custom{Overrides: []Override{
		{PaymentMethod: "card", MinAmount: money.Ptr(d("1000")), Rate: d("1.0")},
		{PaymentMethod: "card", Rate: d("2.5")},
	}}, "3.0")
	cfg.PaymentMethodRates = map[string]decimal.Decimal{"wallet": d("1.2")}
	calc := NewCalculator(2)

	res, err := calc.Compute(cfg, d("2000"), "card", VolumeContext{})
	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(d("20.00")))
	assert.Equal(t, 0, *res.Details.OverrideIndex)

	res, err = calc.Compute(cfg, d("100"), "card", VolumeContext{})
	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(d("2.50")))
	assert.Equal(t, 1, *res.Details.OverrideIndex)

	res, err = calc.Compute(cfg, d("100"), "wallet", VolumeContext{})
	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(d("1.20")))
	assert.Equal(t, RateSourcePaymentMethod, res.Details.RateSource)
	assert.Nil(t, res.Details.OverrideIndex)

	res, err = calc.Compute(cfg, d("100"), "ach", VolumeContext{})
	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(d("3.00")))
	assert.Equal(t, RateSourceBase, res.Details.RateSource)
}

func TestCompute_ClampRecordsWhichBoundFired(t *testing.T) {
	cfg := approved(Percentage{}, "2.00")
	cfg.MinimumFee = d("0.50")
	cfg.MaximumFee = money.Ptr(d("10.00"))
	calc := NewCalculator(2)

	res, err := calc.Compute(cfg, d("10.00"), "", VolumeContext{})
	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(d("0.50")))
	assert.True(t, res.Details.MinClampApplied)
	assert.True(t, res.Details.Unclamped.Equal(d("0.2")))

	res, err = calc.Compute(cfg, d("10000.00"), "", VolumeContext{})
	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(d("10.00")))
	assert.True(t, res.Details.MaxClampApplied)
	assert.False(t, res.Details.MinClampApplied)
}

func TestClamp_Idempotent(t *testing.T) {
	minimum, maximum := d("1.00"), money.Ptr(d("50.00"))
	for _, v := range []string{"-3", "0", "0.999", "1", "25.555", "50", "50.01", "1000"} {
		once, _, _ := Clamp(d(v), minimum, maximum)
		twice, minFired, maxFired := Clamp(once, minimum, maximum)
		assert.True(t, once.Equal(twice), "value %s: %s != %s", v, once, twice)
		assert.False(t, minFired || maxFired, "value %s: clamp fired on clamped value", v)
	}
}

func TestCompute_RoundsHalfEvenOnce(t *testing.T) {
	// 0.125 -> 0.12 and 0.135 -> 0.14 under half-to-even.
	calc := NewCalculator(2)
	res, err := calc.Compute(approved(Percentage{}, "1.25"), d("10.00"), "", VolumeContext{})
	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(d("0.12")), "got %s", res.Amount)

	res, err = calc.Compute(approved(Percentage{}, "1.35"), d("10.00"), "", VolumeContext{})
	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(d("0.14")), "got %s", res.Amount)
}

func TestCompute_RejectsBadAmounts(t *testing.T) {
	calc := NewCalculator(2)
	_, err := calc.Compute(approved(Percentage{}, "1"), d("-1"), "", VolumeContext{})
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = calc.Compute(approved(Percentage{}, "1"), d("1.005"), "", VolumeContext{})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}
