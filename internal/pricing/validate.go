package pricing

import (
	"errors"
	"fmt"

	"fee-engine/internal/money"
)

var (
	// ErrNoApplicableConfiguration means no approved, active configuration covers the
	// (client, fee_type, instant). Callers decide on a platform default or reject the fee.
	ErrNoApplicableConfiguration = errors.New("pricing: no applicable configuration")

	// ErrInvalidConfiguration marks malformed pricing data. It is never auto-corrected.
	ErrInvalidConfiguration = errors.New("pricing: invalid configuration")

	// ErrConfigurationConflict means more than one configuration qualified for the same
	// (client, fee_type, instant).
	ErrConfigurationConflict = errors.New("pricing: overlapping active configurations")

	ErrNoMatchingTier = fmt.Errorf("%w: no matching tier", ErrInvalidConfiguration)
	ErrNoMatchingSlab = fmt.Errorf("%w: no matching volume slab", ErrInvalidConfiguration)

	ErrNotFound        = errors.New("pricing: configuration not found")
	ErrInvalidArgument = errors.New("pricing: invalid argument")
)

// Validate checks a configuration at write time. places is the ledger precision used to
// judge tier/slab contiguity (adjacent ranges may be separated by at most one minor unit).
func (c FeeConfiguration) Validate(places int32) error {
	var errs []error
	if !c.FeeType.Valid() {
		errs = append(errs, fmt.Errorf("unknown fee_type %q", c.FeeType))
	}
	if c.Structure == nil {
		errs = append(errs, errors.New("fee_structure is required"))
	}
	if c.BaseRate.IsNegative() {
		errs = append(errs, errors.New("base_rate must be >= 0"))
	}
	if c.MinimumFee.IsNegative() {
		errs = append(errs, errors.New("minimum_fee must be >= 0"))
	}
	if c.MaximumFee != nil && c.MaximumFee.LessThan(c.MinimumFee) {
		errs = append(errs, errors.New("maximum_fee must be >= minimum_fee"))
	}
	for method, rate := range c.PaymentMethodRates {
		if method == "" {
			errs = append(errs, errors.New("payment_method_rates has an empty method"))
		}
		if rate.IsNegative() {
			errs = append(errs, fmt.Errorf("payment_method_rates[%s] must be >= 0", method))
		}
	}
	if c.EffectiveFrom.IsZero() {
		errs = append(errs, errors.New("effective_from is required"))
	}
	if c.EffectiveUntil != nil && !c.EffectiveUntil.After(c.EffectiveFrom) {
		errs = append(errs, errors.New("effective_until must be after effective_from"))
	}

	switch s := c.Structure.(type) {
	case Tiered:
		errs = append(errs, validateTiers(s.Tiers, places)...)
	case VolumeBased:
		if s.Scope != "" && s.Scope != VolumeScopeMonthly && s.Scope != VolumeScopeAnnual {
			errs = append(errs, fmt.Errorf("unknown volume scope %q", s.Scope))
		}
		errs = append(errs, validateSlabs(s.Slabs, places)...)
	case Hybrid:
		if s.FlatComponent.IsNegative() {
			errs = append(errs, errors.New("flat_component must be >= 0"))
		}
	case Custom:
		for i, o := range s.Overrides {
			if o.Rate.IsNegative() {
				errs = append(errs, fmt.Errorf("override %d: rate must be >= 0", i))
			}
			if o.MinAmount != nil && o.MaxAmount != nil && o.MaxAmount.LessThan(*o.MinAmount) {
				errs = append(errs, fmt.Errorf("override %d: max_amount < min_amount", i))
			}
		}
	case Flat, Percentage, nil:
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfiguration, errors.Join(errs...))
}

// Tiers must be ordered, start at 0, never overlap, and leave no gap wider than one
// minor unit. Only the last tier may be open-ended.
func validateTiers(tiers []Tier, places int32) []error {
	if len(tiers) == 0 {
		return []error{errors.New("tiered structure requires at least one tier")}
	}
	unit := money.Unit(places)
	var errs []error
	for i, t := range tiers {
		if t.Rate.IsNegative() {
			errs = append(errs, fmt.Errorf("tier %d: rate must be >= 0", i))
		}
		if t.Max != nil && t.Max.LessThan(t.Min) {
			errs = append(errs, fmt.Errorf("tier %d: max < min", i))
		}
		if i == 0 {
			if !t.Min.IsZero() {
				errs = append(errs, errors.New("tier 0 must start at 0"))
			}
			continue
		}
		prev := tiers[i-1]
		if prev.Max == nil {
			errs = append(errs, fmt.Errorf("tier %d: only the last tier may be open-ended", i-1))
			continue
		}
		if !t.Min.GreaterThan(*prev.Max) {
			errs = append(errs, fmt.Errorf("tier %d overlaps tier %d", i, i-1))
		} else if t.Min.Sub(*prev.Max).GreaterThan(unit) {
			errs = append(errs, fmt.Errorf("gap between tier %d and tier %d", i-1, i))
		}
	}
	return errs
}

// Slabs are half-open [Min, Max). Adjacent slabs may share the boundary (Max == next Min)
// or be written inclusively (next Min == Max + one minor unit).
func validateSlabs(slabs []Slab, places int32) []error {
	if len(slabs) == 0 {
		return []error{errors.New("volume-based structure requires at least one slab")}
	}
	unit := money.Unit(places)
	var errs []error
	for i, s := range slabs {
		if s.Rate.IsNegative() {
			errs = append(errs, fmt.Errorf("slab %d: rate must be >= 0", i))
		}
		if s.Max != nil && !s.Max.GreaterThan(s.Min) {
			errs = append(errs, fmt.Errorf("slab %d: max must be > min", i))
		}
		if i == 0 {
			if !s.Min.IsZero() {
				errs = append(errs, errors.New("slab 0 must start at 0"))
			}
			continue
		}
		prev := slabs[i-1]
		if prev.Max == nil {
			errs = append(errs, fmt.Errorf("slab %d: only the last slab may be open-ended", i-1))
			continue
		}
		if s.Min.LessThan(*prev.Max) {
			errs = append(errs, fmt.Errorf("slab %d overlaps slab %d", i, i-1))
		} else if s.Min.Sub(*prev.Max).GreaterThan(unit) {
			errs = append(errs, fmt.Errorf("gap between slab %d and slab %d", i-1, i))
		}
	}
	return errs
}
