package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Rule is a discount rule as returned by a RuleProvider.
type Rule struct {
	ID       string
	Code     string
	Discount Discount

	StartDate     time.Time
	EndDate       *time.Time
	UsesRemaining *int

	MinOrderAmount    decimal.NullDecimal
	MaxOrderAmount    decimal.NullDecimal
	MaxDiscountAmount decimal.NullDecimal

	ApplicableProductIDs []string
	ExcludedProductIDs   []string
	ApplicableCategories []string
	ExcludedCategories   []string

	IsBundle         bool
	BundleProductIDs []string

	// PerProductOverrides maps a product ID to the discount that replaces the
	// generic one for that product.
	PerProductOverrides map[string]Discount
}

// HasOverrides reports whether the rule carries per-product overrides.
func (r *Rule) HasOverrides() bool {
	return len(r.PerProductOverrides) > 0
}

// Offer derives the bundle offer of a bundle-typed rule.
func (r *Rule) Offer() BundleOffer {
	return BundleOffer{
		OfferID:            r.ID,
		RequiredProductIDs: r.BundleProductIDs,
		Discount:           r.Discount,
	}
}

// BundleOffer requires every listed product to be in the cart before its
// discount activates.
type BundleOffer struct {
	OfferID            string
	RequiredProductIDs []string
	Discount           Discount
}

// Product is the catalog data needed to add a line item.
type Product struct {
	ID          string
	UnitPrice   decimal.Decimal
	MinQuantity int
	MaxQuantity int
	// AvailableQuantity is nil when stock is not tracked.
	AvailableQuantity *int
	Categories        []string
}
