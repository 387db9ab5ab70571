package pricing

import (
	"fmt"

	"fee-engine/internal/money"

	"github.com/shopspring/decimal"
)

// Rate sources recorded in Details.RateSource.
const (
	RateSourceBase          = "base_rate"
	RateSourcePaymentMethod = "payment_method_rate"
	RateSourceTier          = "tier"
	RateSourceSlab          = "slab"
	RateSourceOverride      = "override"
)

// Details explains how a base fee was produced. Reconciliation and audit rely on it,
// so every computation fills in the fields relevant to its structure.
type Details struct {
	Structure  StructureKind    `json:"structure"`
	Rate       *decimal.Decimal `json:"rate_applied,omitempty"`
	RateSource string           `json:"rate_source,omitempty"`

	PaymentMethodOverride string `json:"payment_method_override,omitempty"`
	TierIndex             *int   `json:"tier_index,omitempty"`
	SlabIndex             *int   `json:"slab_index,omitempty"`
	OverrideIndex         *int   `json:"override_index,omitempty"`

	VolumeScope   VolumeScope      `json:"volume_scope,omitempty"`
	VolumeUsed    *decimal.Decimal `json:"volume_used,omitempty"`
	FlatComponent *decimal.Decimal `json:"flat_component,omitempty"`

	// Unclamped is the raw structure result before clamping and rounding.
	Unclamped       decimal.Decimal `json:"unclamped_amount"`
	MinClampApplied bool            `json:"min_clamp_applied"`
	MaxClampApplied bool            `json:"max_clamp_applied"`
}

type BaseFeeResult struct {
	Amount  decimal.Decimal `json:"amount"`
	Details Details         `json:"details"`
}

// Calculator turns a configuration and a transaction into a base fee.
//
// Contract:
// - Pure: no I/O, no clock, safe for concurrent use.
// - Intermediate values keep full precision; the single rounding step (half-to-even at
//   Places) happens after clamping.
// - Malformed tier/slab data surfaces as ErrInvalidConfiguration, never a default.
type Calculator struct {
	Places int32
}

func NewCalculator(places int32) Calculator {
	return Calculator{Places: places}
}

// Compute prices amount under cfg. method selects payment-method overrides and vol is the
// client's cumulative volume before this transaction.
func (c Calculator) Compute(cfg FeeConfiguration, amount decimal.Decimal, method string, vol VolumeContext) (BaseFeeResult, error) {
	if amount.IsNegative() {
		return BaseFeeResult{}, fmt.Errorf("%w: amount must be >= 0", ErrInvalidArgument)
	}
	if !money.FitsPrecision(amount, c.Places) {
		return BaseFeeResult{}, fmt.Errorf("%w: amount %s exceeds %d decimal places", ErrInvalidArgument, amount, c.Places)
	}
	if cfg.Structure == nil {
		return BaseFeeResult{}, fmt.Errorf("%w: configuration %d has no structure", ErrInvalidConfiguration, cfg.ID)
	}

	d := Details{Structure: cfg.Structure.Kind()}
	var raw decimal.Decimal

	switch s := cfg.Structure.(type) {
	case Flat:
		raw = cfg.BaseRate
		d.RateSource = RateSourceBase

	case Percentage:
		rate := c.effectiveRate(cfg, method, &d)
		raw = money.Percent(amount, rate)

	case Tiered:
		i, ok := matchTier(s.Tiers, amount)
		if !ok {
			return BaseFeeResult{}, fmt.Errorf("%w: amount %s (configuration %d)", ErrNoMatchingTier, amount, cfg.ID)
		}
		rate := s.Tiers[i].Rate
		d.Rate, d.RateSource, d.TierIndex = money.Ptr(rate), RateSourceTier, &i
		raw = money.Percent(amount, rate)

	case VolumeBased:
		scope := s.Scope
		if scope == "" {
			scope = VolumeScopeMonthly
		}
		volume := vol.MonthlyVolume
		if scope == VolumeScopeAnnual {
			volume = vol.AnnualVolume
		}
		i, ok := matchSlab(s.Slabs, volume)
		if !ok {
			return BaseFeeResult{}, fmt.Errorf("%w: volume %s (configuration %d)", ErrNoMatchingSlab, volume, cfg.ID)
		}
		rate := s.Slabs[i].Rate
		d.Rate, d.RateSource, d.SlabIndex = money.Ptr(rate), RateSourceSlab, &i
		d.VolumeScope, d.VolumeUsed = scope, money.Ptr(volume)
		raw = money.Percent(amount, rate)

	case Hybrid:
		d.Rate, d.RateSource = money.Ptr(cfg.BaseRate), RateSourceBase
		d.FlatComponent = money.Ptr(s.FlatComponent)
		raw = money.Percent(amount, cfg.BaseRate).Add(s.FlatComponent)

	case Custom:
		var rate decimal.Decimal
		if i, ok := matchOverride(s.Overrides, method, amount); ok {
			rate = s.Overrides[i].Rate
			d.Rate, d.RateSource, d.OverrideIndex = money.Ptr(rate), RateSourceOverride, &i
		} else {
			rate = c.effectiveRate(cfg, method, &d)
		}
		raw = money.Percent(amount, rate)

	default:
		return BaseFeeResult{}, fmt.Errorf("%w: unsupported structure %T", ErrInvalidConfiguration, cfg.Structure)
	}

	d.Unclamped = raw
	clamped, minFired, maxFired := Clamp(raw, cfg.MinimumFee, cfg.MaximumFee)
	d.MinClampApplied, d.MaxClampApplied = minFired, maxFired

	return BaseFeeResult{Amount: money.Round(clamped, c.Places), Details: d}, nil
}

func (c Calculator) effectiveRate(cfg FeeConfiguration, method string, d *Details) decimal.Decimal {
	if r, ok := cfg.PaymentMethodRates[method]; ok && method != "" {
		d.Rate, d.RateSource, d.PaymentMethodOverride = money.Ptr(r), RateSourcePaymentMethod, method
		return r
	}
	d.Rate, d.RateSource = money.Ptr(cfg.BaseRate), RateSourceBase
	return cfg.BaseRate
}

// Clamp applies max(minimum, min(v, maximum)). maximum nil means no upper bound.
// It reports which bound fired. Clamp is idempotent.
func Clamp(v, minimum decimal.Decimal, maximum *decimal.Decimal) (decimal.Decimal, bool, bool) {
	maxFired := false
	if maximum != nil && v.GreaterThan(*maximum) {
		v = *maximum
		maxFired = true
	}
	if v.LessThan(minimum) {
		return minimum, true, maxFired
	}
	return v, false, maxFired
}

func matchTier(tiers []Tier, amount decimal.Decimal) (int, bool) {
	for i, t := range tiers {
		if t.contains(amount) {
			return i, true
		}
	}
	return -1, false
}

// Slab i covers [Min_i, Min_i+1); the last slab covers [Min, Max) or is open-ended.
// Using the next slab's Min as the upper bound keeps volumes that fall between an
// inclusive Max and the next Min (100000.005) inside the lower slab.
func matchSlab(slabs []Slab, volume decimal.Decimal) (int, bool) {
	for i, s := range slabs {
		if volume.LessThan(s.Min) {
			continue
		}
		if i+1 < len(slabs) {
			if volume.LessThan(slabs[i+1].Min) {
				return i, true
			}
			continue
		}
		if s.Max == nil || volume.LessThan(*s.Max) {
			return i, true
		}
	}
	return -1, false
}

func matchOverride(overrides []Override, method string, amount decimal.Decimal) (int, bool) {
	for i, o := range overrides {
		if o.matches(method, amount) {
			return i, true
		}
	}
	return -1, false
}
