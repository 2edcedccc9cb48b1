package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CouponMode describes how an applied coupon spreads its discount.
type CouponMode string

// Coupon modes.
const (
	// ModePerItem: per-product overrides attached records to matching lines.
	ModePerItem CouponMode = "per_item"
	// ModeAggregate: a single lump discount over the eligible items.
	ModeAggregate CouponMode = "aggregate"
	// ModeBundle: records attached by a complete bundle offer.
	ModeBundle CouponMode = "bundle"
)

// DiscountRecord is the discount attached to a single line item.
type DiscountRecord struct {
	SourceCode     string          `json:"source_code"`
	Kind           Kind            `json:"kind"`
	Magnitude      decimal.Decimal `json:"magnitude"`
	SavingsPerUnit decimal.Decimal `json:"savings_per_unit"`
	Bundle         bool            `json:"bundle,omitempty"`
}

// LineItem is one cart entry. UnitPrice is the catalog price captured at add
// time and is never overwritten by a discount.
type LineItem struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	Categories  []string        `json:"categories,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	MinQuantity int             `json:"min_quantity"`
	MaxQuantity int             `json:"max_quantity"`
	Discount    *DiscountRecord `json:"discount,omitempty"`
}

// LineTotal returns unitPrice x quantity.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// SourceCode returns the code of the attached record, or "" when undiscounted.
func (li LineItem) SourceCode() string {
	if li.Discount == nil {
		return ""
	}
	return li.Discount.SourceCode
}

// Clone returns a deep copy.
func (li LineItem) Clone() LineItem {
	out := li
	if li.Categories != nil {
		out.Categories = append([]string(nil), li.Categories...)
	}
	if li.Discount != nil {
		rec := *li.Discount
		out.Discount = &rec
	}
	return out
}

// AppliedCoupon is the single cart-level coupon slot.
type AppliedCoupon struct {
	ID             string          `json:"id"`
	RuleID         string          `json:"rule_id"`
	Code           string          `json:"code"`
	Kind           Kind            `json:"kind"`
	Value          decimal.Decimal `json:"value"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Mode           CouponMode      `json:"mode"`
	AppliedAt      time.Time       `json:"applied_at"`

	// Rule is the resolved rule, kept so item mutations can re-evaluate the
	// coupon without another lookup.
	Rule *Rule `json:"-"`
}

// Clone returns a copy sharing the immutable Rule pointer.
func (c *AppliedCoupon) Clone() *AppliedCoupon {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// CartSummary is derived from the line items and coupon; it is never stored.
type CartSummary struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	Discount  decimal.Decimal `json:"discount"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"item_count"`
}

// Equal compares the numeric fields after rounding.
func (s CartSummary) Equal(o CartSummary) bool {
	return s.ItemCount == o.ItemCount &&
		RoundMoney(s.Subtotal).Equal(RoundMoney(o.Subtotal)) &&
		RoundMoney(s.Discount).Equal(RoundMoney(o.Discount)) &&
		RoundMoney(s.Total).Equal(RoundMoney(o.Total))
}

// ItemSavings is one per-item entry of a DiscountPlan.
type ItemSavings struct {
	LineItemID     string          `json:"line_item_id"`
	Kind           Kind            `json:"kind"`
	Magnitude      decimal.Decimal `json:"magnitude"`
	SavingsPerUnit decimal.Decimal `json:"savings_per_unit"`
}

// DiscountPlan is the validated outcome of resolving a code: either per-item
// savings (per-product overrides or a bundle) or a single aggregate amount,
// plus the coupon to attach.
type DiscountPlan struct {
	Coupon    AppliedCoupon   `json:"coupon"`
	Items     []ItemSavings   `json:"items,omitempty"`
	Aggregate decimal.Decimal `json:"aggregate"`
}

// PerItem reports whether the plan attaches records to line items.
func (p *DiscountPlan) PerItem() bool {
	return p.Coupon.Mode == ModePerItem || p.Coupon.Mode == ModeBundle
}

// Snapshot is a read-only copy of a cart handed to the resolver.
type Snapshot struct {
	CartID     string
	Generation uint64
	Items      []LineItem
	Coupon     *AppliedCoupon
}

// Subtotal returns the sum of all line totals.
func (s Snapshot) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range s.Items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}
