package pricing

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// StructureKind tags the pricing shape. Keep values stable; they are persisted.
type StructureKind string

const (
	StructureFlat        StructureKind = "FLAT"
	StructurePercentage  StructureKind = "PERCENTAGE"
	StructureTiered      StructureKind = "TIERED"
	StructureHybrid      StructureKind = "HYBRID"
	StructureVolumeBased StructureKind = "VOLUME_BASED"
	StructureCustom      StructureKind = "CUSTOM"
)

// Structure is a closed set of pricing shapes. Only the types in this file implement it,
// so a type switch over Structure covers every case.
type Structure interface {
	Kind() StructureKind
	structure()
}

// Flat charges BaseRate regardless of amount.
type Flat struct{}

// Percentage charges amount * rate / 100, where rate is the payment-method override or BaseRate.
type Percentage struct{}

// Tiered charges amount * tier.Rate / 100 for the single tier containing the amount.
type Tiered struct {
	Tiers []Tier `json:"tiers"`
}

// Hybrid charges amount * BaseRate / 100 plus FlatComponent.
type Hybrid struct {
	FlatComponent decimal.Decimal `json:"flat_component"`
}

// VolumeBased charges amount * slab.Rate / 100 for the slab containing the client's
// cumulative volume before this transaction.
type VolumeBased struct {
	Scope VolumeScope `json:"scope"`
	Slabs []Slab      `json:"slabs"`
}

// Custom evaluates Overrides in order; the first matching row supplies the rate.
// When none match it prices like Percentage.
type Custom struct {
	Overrides []Override `json:"overrides"`
}

func (Flat) Kind() StructureKind        { return StructureFlat }
func (Percentage) Kind() StructureKind  { return StructurePercentage }
func (Tiered) Kind() StructureKind      { return StructureTiered }
func (Hybrid) Kind() StructureKind      { return StructureHybrid }
func (VolumeBased) Kind() StructureKind { return StructureVolumeBased }
func (Custom) Kind() StructureKind      { return StructureCustom }

func (Flat) structure()        {}
func (Percentage) structure()  {}
func (Tiered) structure()      {}
func (Hybrid) structure()      {}
func (VolumeBased) structure() {}
func (Custom) structure()      {}

// Tier is an inclusive amount range [Min, Max]. Max nil means open-ended.
type Tier struct {
	Min  decimal.Decimal  `json:"min"`
	Max  *decimal.Decimal `json:"max,omitempty"`
	Rate decimal.Decimal  `json:"rate"`
}

func (t Tier) contains(amount decimal.Decimal) bool {
	if amount.LessThan(t.Min) {
		return false
	}
	return t.Max == nil || !amount.GreaterThan(*t.Max)
}

// Slab is a cumulative-volume range. Max nil means open-ended.
type Slab struct {
	Min  decimal.Decimal  `json:"min"`
	Max  *decimal.Decimal `json:"max,omitempty"`
	Rate decimal.Decimal  `json:"rate"`
}

type VolumeScope string

const (
	VolumeScopeMonthly VolumeScope = "monthly"
	VolumeScopeAnnual  VolumeScope = "annual"
)

// Override is one row of a Custom override table. Empty PaymentMethod matches any method;
// MinAmount/MaxAmount bound the transaction amount inclusively when set.
type Override struct {
	PaymentMethod string           `json:"payment_method,omitempty"`
	MinAmount     *decimal.Decimal `json:"min_amount,omitempty"`
	MaxAmount     *decimal.Decimal `json:"max_amount,omitempty"`
	Rate          decimal.Decimal  `json:"rate"`
}

func (o Override) matches(method string, amount decimal.Decimal) bool {
	if o.PaymentMethod != "" && o.PaymentMethod != method {
		return false
	}
	if o.MinAmount != nil && amount.LessThan(*o.MinAmount) {
		return false
	}
	if o.MaxAmount != nil && amount.GreaterThan(*o.MaxAmount) {
		return false
	}
	return true
}

// MarshalStructure encodes the variant parameters for storage next to its kind.
func MarshalStructure(s Structure) (StructureKind, []byte, error) {
	if s == nil {
		return "", nil, fmt.Errorf("%w: structure is nil", ErrInvalidConfiguration)
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "", nil, err
	}
	return s.Kind(), b, nil
}

// UnmarshalStructure rebuilds a variant from its kind and stored parameters.
func UnmarshalStructure(kind StructureKind, params []byte) (Structure, error) {
	if len(params) == 0 {
		params = []byte("{}")
	}
	var (
		s   Structure
		err error
	)
	switch kind {
	case StructureFlat:
		s = Flat{}
	case StructurePercentage:
		s = Percentage{}
	case StructureTiered:
		var v Tiered
		err = json.Unmarshal(params, &v)
		s = v
	case StructureHybrid:
		var v Hybrid
		err = json.Unmarshal(params, &v)
		s = v
	case StructureVolumeBased:
		var v VolumeBased
		err = json.Unmarshal(params, &v)
		s = v
	case StructureCustom:
		var v Custom
		err = json.Unmarshal(params, &v)
		s = v
	default:
		return nil, fmt.Errorf("%w: unknown fee structure %q", ErrInvalidConfiguration, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s params: %v", ErrInvalidConfiguration, kind, err)
	}
	return s, nil
}

// structureJSON is the wire shape used by the API: the kind tag plus its parameters.
type structureJSON struct {
	Kind   StructureKind   `json:"fee_structure"`
	Params json.RawMessage `json:"params,omitempty"`
}

// MarshalJSON renders the configuration with its structure tagged by fee_structure.
func (c FeeConfiguration) MarshalJSON() ([]byte, error) {
	type plain FeeConfiguration
	var sj *structureJSON
	if c.Structure != nil {
		kind, params, err := MarshalStructure(c.Structure)
		if err != nil {
			return nil, err
		}
		sj = &structureJSON{Kind: kind, Params: params}
	}
	return json.Marshal(struct {
		plain
		Structure *structureJSON `json:"structure,omitempty"`
	}{plain: plain(c), Structure: sj})
}

// UnmarshalJSON accepts the tagged structure shape produced by MarshalJSON.
func (c *FeeConfiguration) UnmarshalJSON(b []byte) error {
	type plain FeeConfiguration
	var aux struct {
		plain
		Structure *structureJSON `json:"structure"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*c = FeeConfiguration(aux.plain)
	if aux.Structure != nil {
		s, err := UnmarshalStructure(aux.Structure.Kind, aux.Structure.Params)
		if err != nil {
			return err
		}
		c.Structure = s
	}
	return nil
}
