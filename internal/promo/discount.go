package promo

import (
	"encoding/json"
	"errors"
	"fmt"

	"fee-engine/internal/money"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFlat       DiscountType = "FLAT"
	DiscountWaiver     DiscountType = "WAIVER"
	DiscountCashback   DiscountType = "CASHBACK"
)

// Discount is a closed set of discount shapes; only the types in this file implement it.
type Discount interface {
	Type() DiscountType
	discount()
}

// PercentageDiscount takes Percent of the base fee, capped at MaxAmount when set.
type PercentageDiscount struct {
	Percent   decimal.Decimal
	MaxAmount *decimal.Decimal
}

// FlatDiscount takes a fixed Amount off the base fee.
type FlatDiscount struct {
	Amount decimal.Decimal
}

// Waiver removes the whole base fee.
type Waiver struct{}

// Cashback is a rebate of Percent of the base fee, capped at MaxAmount. It is recorded
// but not subtracted: the charged fee stays at the base fee and the rebate is settled
// out of band.
type Cashback struct {
	Percent   decimal.Decimal
	MaxAmount *decimal.Decimal
}

func (PercentageDiscount) Type() DiscountType { return DiscountPercentage }
func (FlatDiscount) Type() DiscountType       { return DiscountFlat }
func (Waiver) Type() DiscountType             { return DiscountWaiver }
func (Cashback) Type() DiscountType           { return DiscountCashback }

func (PercentageDiscount) discount() {}
func (FlatDiscount) discount()       {}
func (Waiver) discount()             {}
func (Cashback) discount()           {}

// Outcome is a discount applied to one base fee.
type Outcome struct {
	Discount decimal.Decimal
	Final    decimal.Decimal
	Rebate   bool
}

// Apply computes the discount against base, rounded half-to-even at places. The discount
// never exceeds base, so the final fee is never negative.
func Apply(d Discount, base decimal.Decimal, places int32) Outcome {
	if base.IsNegative() {
		base = decimal.Zero
	}
	var amount decimal.Decimal
	rebate := false

	switch v := d.(type) {
	case PercentageDiscount:
		amount = capped(money.Percent(base, v.Percent), v.MaxAmount)
	case FlatDiscount:
		amount = v.Amount
	case Waiver:
		amount = base
	case Cashback:
		amount = capped(money.Percent(base, v.Percent), v.MaxAmount)
		rebate = true
	}

	amount = money.Round(amount, places)
	amount = money.Max(decimal.Zero, money.Min(amount, base))

	if rebate {
		return Outcome{Discount: amount, Final: base, Rebate: true}
	}
	return Outcome{Discount: amount, Final: base.Sub(amount)}
}

func capped(v decimal.Decimal, maximum *decimal.Decimal) decimal.Decimal {
	if maximum != nil && v.GreaterThan(*maximum) {
		return *maximum
	}
	return v
}

func validateDiscount(d Discount) error {
	switch v := d.(type) {
	case PercentageDiscount:
		return validatePercent(v.Percent, v.MaxAmount)
	case Cashback:
		return validatePercent(v.Percent, v.MaxAmount)
	case FlatDiscount:
		if v.Amount.IsNegative() {
			return errors.New("flat discount must be >= 0")
		}
	case Waiver:
	default:
		return fmt.Errorf("unsupported discount %T", d)
	}
	return nil
}

func validatePercent(p decimal.Decimal, maximum *decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(decimal.NewFromInt(100)) {
		return errors.New("discount percent must be within [0, 100]")
	}
	if maximum != nil && maximum.IsNegative() {
		return errors.New("max_discount_amount must be >= 0")
	}
	return nil
}

// DiscountFields flattens a discount into its stored columns.
func DiscountFields(d Discount) (DiscountType, decimal.Decimal, *decimal.Decimal) {
	switch v := d.(type) {
	case PercentageDiscount:
		return v.Type(), v.Percent, v.MaxAmount
	case FlatDiscount:
		return v.Type(), v.Amount, nil
	case Waiver:
		return v.Type(), decimal.Zero, nil
	case Cashback:
		return v.Type(), v.Percent, v.MaxAmount
	}
	return "", decimal.Zero, nil
}

// NewDiscount rebuilds a discount from its stored columns.
func NewDiscount(t DiscountType, value decimal.Decimal, maximum *decimal.Decimal) (Discount, error) {
	switch t {
	case DiscountPercentage:
		return PercentageDiscount{Percent: value, MaxAmount: maximum}, nil
	case DiscountFlat:
		return FlatDiscount{Amount: value}, nil
	case DiscountWaiver:
		return Waiver{}, nil
	case DiscountCashback:
		return Cashback{Percent: value, MaxAmount: maximum}, nil
	}
	return nil, fmt.Errorf("%w: unknown discount_type %q", ErrInvalidPromotion, t)
}

type discountJSON struct {
	Type      DiscountType     `json:"discount_type"`
	Value     decimal.Decimal  `json:"discount_value"`
	MaxAmount *decimal.Decimal `json:"max_discount_amount,omitempty"`
}

// MarshalJSON flattens the discount into discount_type/discount_value/max_discount_amount.
func (p PromotionalFee) MarshalJSON() ([]byte, error) {
	type plain PromotionalFee
	var dj discountJSON
	if p.Discount != nil {
		dj.Type, dj.Value, dj.MaxAmount = DiscountFields(p.Discount)
	}
	return json.Marshal(struct {
		plain
		discountJSON
	}{plain: plain(p), discountJSON: dj})
}

func (p *PromotionalFee) UnmarshalJSON(b []byte) error {
	type plain PromotionalFee
	var aux struct {
		plain
		discountJSON
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*p = PromotionalFee(aux.plain)
	if aux.Type != "" {
		d, err := NewDiscount(aux.Type, aux.Value, aux.MaxAmount)
		if err != nil {
			return err
		}
		p.Discount = d
	}
	return nil
}
