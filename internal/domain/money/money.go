// Package money provides minor-currency amount arithmetic for the trade core.
//
// All persisted monetary state is an integer number of cents (Cents). Unit
// prices quoted per kilogram arrive as decimal.Decimal so that repeated
// volume*price multiplication does not accumulate float error before the
// final conversion to cents: the escrow total rounds to the nearest cent,
// and the tranche splits taken from it then floor.
package money

import (
	"github.com/shopspring/decimal"
)

// Cents is an integer amount of minor currency units (e.g. US cents).
type Cents int64

// FromDecimalDollars floors a decimal dollar amount to Cents.
func FromDecimalDollars(d decimal.Decimal) Cents {
	return Cents(d.Mul(decimal.NewFromInt(100)).Floor().IntPart())
}

// TotalCents computes round(volumeKg * pricePerKg * 100) as specified for
// escrow creation: volume_kg x price x 100, rounded to the nearest cent
// (half away from zero), unlike the tranche splits below which floor.
func TotalCents(volumeKg, pricePerKg decimal.Decimal) Cents {
	return Cents(volumeKg.Mul(pricePerKg).Mul(decimal.NewFromInt(100)).Round(0).IntPart())
}

// Frac returns floor(total * numerator / denominator), used for escrow
// tranche splits (20%, 60%, 20%). Integer floor division only; any
// remainder is left to the caller to track as an audited residue.
func Frac(total Cents, numerator, denominator int64) Cents {
	return Cents(int64(total) * numerator / denominator)
}
