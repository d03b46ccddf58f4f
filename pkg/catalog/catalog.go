// Package catalog provides the data-lookup capability backing a negotiation:
// materials, builders, pricing rules, and sales history.
//
// Lookups are read-only except InsertSale, which records a closed deal.
// Monetary columns are surfaced as decimals so pricing arithmetic stays exact.
package catalog

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("catalog: not found")

// Material is one material/brand row.
type Material struct {
	MaterialID    int64
	MaterialName  string
	Brand         string // empty when the material is unbranded
	Unit          string
	BaseCost      decimal.Decimal
	StockQuantity int64
}

// Builder is a counter-party profile.
type Builder struct {
	BuilderID      int64
	BuilderName    string
	City           string
	PaymentHistory string
	TotalOrders    int64
	TotalValue     decimal.Decimal
}

// PricingRule is a volume discount or margin rule applicable to a quantity
// range. MaxQuantity is nil for open-ended ranges.
type PricingRule struct {
	RuleID             int64
	MinQuantity        int64
	MaxQuantity        *int64
	DiscountPercentage decimal.Decimal
	RuleType           string
	MarginPercentage   decimal.Decimal
}

// History summarizes past sales for a builder/material pair, plus the
// material's average sale price over the last 90 days across all builders.
type History struct {
	BuilderOrderCount    int64
	BuilderTotalQuantity int64
	BuilderAvgUnitPrice  decimal.Decimal
	MaterialAvgPrice90d  decimal.Decimal
}
