package money

import "github.com/shopspring/decimal"

// Amounts are fixed-point decimals in a single ledger currency.
// Intermediate values keep full precision; rounding happens once, at the end
// of a calculation, with round-half-to-even.

// DefaultPlaces is the ledger's minor-unit precision (cents).
const DefaultPlaces int32 = 2

var hundred = decimal.NewFromInt(100)

// Round rounds to the given number of decimal places using banker's rounding.
func Round(d decimal.Decimal, places int32) decimal.Decimal {
	return d.RoundBank(places)
}

// Percent returns amount * rate / 100 without rounding.
func Percent(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Shift(-2)
}

// Ratio returns part / whole * 100 rounded to places, and false if whole is zero.
func Ratio(part, whole decimal.Decimal, places int32) (decimal.Decimal, bool) {
	if whole.IsZero() {
		return decimal.Zero, false
	}
	return part.Mul(hundred).Div(whole).RoundBank(places), true
}

// Unit is the smallest representable amount at the given precision (0.01 for 2 places).
func Unit(places int32) decimal.Decimal {
	return decimal.New(1, -places)
}

// FitsPrecision reports whether d has no digits beyond the given places.
func FitsPrecision(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// Ptr returns a pointer to d. Handy for optional fields.
func Ptr(d decimal.Decimal) *decimal.Decimal { return &d }

// MustParse parses s or panics. Intended for constants and tests.
func MustParse(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
