// Package pricing computes floor and target prices for a negotiation.
//
// All arithmetic uses decimal representation so currency values never pick up
// binary floating point drift. Percentages are applied as exact fractions.
//
// The engine supplies constraints only. It never decides the final offer:
// callers forward the floor and target to whatever produces the offer, and
// clamp any offer that comes back below the floor.
package pricing

import (
	"github.com/shopspring/decimal"
)

// Rule defaults applied when a pricing rule does not specify a value.
var (
	DefaultMinMarginPercent      = decimal.NewFromInt(8)
	DefaultVolumeDiscountPercent = decimal.Zero
)

var (
	five    = decimal.NewFromInt(5)
	fifteen = decimal.NewFromInt(15)
	hundred = decimal.NewFromInt(100)
)

// Inputs are the cost and rule parameters for one material/brand.
type Inputs struct {
	// BaseCost is the per-unit cost of the material.
	BaseCost decimal.Decimal

	// MinMarginPercent is the minimum acceptable margin from the
	// applicable pricing rule.
	MinMarginPercent decimal.Decimal

	// VolumeDiscountPercent is the quantity-based discount from the same
	// rule, applied to the target price only.
	VolumeDiscountPercent decimal.Decimal
}

// Quote holds the computed price constraints.
type Quote struct {
	// FloorPrice is the lowest acceptable price. No offer may go below it.
	FloorPrice decimal.Decimal

	// TargetPrice is the price to aim for, never below FloorPrice.
	TargetPrice decimal.Decimal

	// DesiredMarginPercent is the margin the target price is built on.
	DesiredMarginPercent decimal.Decimal
}

// Compute derives the floor and target prices from cost and rule parameters.
//
// The desired margin is the minimum margin plus five points, but at least
// fifteen percent. The target applies the volume discount to the desired
// price and clamps the result up to the floor.
func Compute(in Inputs) Quote {
	desired := in.MinMarginPercent.Add(five)
	if desired.LessThan(fifteen) {
		desired = fifteen
	}

	floor := Floor(in.BaseCost, in.MinMarginPercent)

	discount := decimal.NewFromInt(1).Sub(in.VolumeDiscountPercent.Div(hundred))
	target := in.BaseCost.
		Mul(decimal.NewFromInt(1).Add(desired.Div(hundred))).
		Mul(discount)
	if target.LessThan(floor) {
		target = floor
	}

	return Quote{
		FloorPrice:           floor,
		TargetPrice:          target,
		DesiredMarginPercent: desired,
	}
}

// Floor returns baseCost marked up by the minimum margin. It is also used on
// its own for alternative-brand floors, where no target is needed.
func Floor(baseCost, minMarginPercent decimal.Decimal) decimal.Decimal {
	return baseCost.Mul(decimal.NewFromInt(1).Add(minMarginPercent.Div(hundred)))
}

// ClampToFloor raises offer to floor when it falls below it.
func ClampToFloor(offer, floor decimal.Decimal) decimal.Decimal {
	if offer.LessThan(floor) {
		return floor
	}
	return offer
}
