// Package pricing derives cart totals from line items and the applied coupon.
//
// There is exactly one discount priority rule: per-item records win over the
// coupon's aggregate amount, which wins over no discount. Everything here is
// a pure function of its inputs.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/solarshop412/solar-shop-sub003/internal/domain"
)

// Reconcile computes the CartSummary for items and coupon. It never panics:
// lines with a non-positive quantity or negative price are ignored, records
// with negative savings are skipped, and savings above the unit price are
// clamped to it.
func Reconcile(items []domain.LineItem, coupon *domain.AppliedCoupon) domain.CartSummary {
	subtotal := decimal.Zero
	itemDiscount := decimal.Zero
	count := 0
	hasRecords := false

	for _, it := range items {
		if !wellFormed(it) {
			continue
		}
		subtotal = subtotal.Add(it.LineTotal())
		count += it.Quantity

		if savings, ok := recordSavings(it); ok {
			hasRecords = true
			itemDiscount = itemDiscount.Add(savings.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
	}

	discount := decimal.Zero
	switch {
	case hasRecords:
		discount = itemDiscount
	case coupon != nil && coupon.DiscountAmount.IsPositive():
		discount = coupon.DiscountAmount
	}

	subtotal = domain.RoundMoney(subtotal)
	discount = domain.RoundMoney(discount)
	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}

	return domain.CartSummary{
		Subtotal:  subtotal,
		Discount:  discount,
		Total:     total,
		ItemCount: count,
	}
}

// PricedLine is a line item with its derived prices.
type PricedLine struct {
	domain.LineItem
	DiscountedUnitPrice decimal.Decimal `json:"discounted_unit_price"`
	LineSubtotal        decimal.Decimal `json:"line_subtotal"`
	LineDiscount        decimal.Decimal `json:"line_discount"`
	LineTotal           decimal.Decimal `json:"line_total"`
}

// Lines prices each well-formed line item individually. Coupon aggregates are
// not distributed over lines.
func Lines(items []domain.LineItem) []PricedLine {
	out := make([]PricedLine, 0, len(items))
	for _, it := range items {
		if !wellFormed(it) {
			continue
		}
		savings, _ := recordSavings(it)
		qty := decimal.NewFromInt(int64(it.Quantity))
		lineSubtotal := domain.RoundMoney(it.LineTotal())
		lineDiscount := domain.RoundMoney(savings.Mul(qty))
		out = append(out, PricedLine{
			LineItem:            it.Clone(),
			DiscountedUnitPrice: it.UnitPrice.Sub(savings),
			LineSubtotal:        lineSubtotal,
			LineDiscount:        lineDiscount,
			LineTotal:           lineSubtotal.Sub(lineDiscount),
		})
	}
	return out
}

func wellFormed(it domain.LineItem) bool {
	return it.Quantity > 0 && !it.UnitPrice.IsNegative()
}

// recordSavings returns the clamped per-unit savings of the item's record and
// whether a usable record is attached.
func recordSavings(it domain.LineItem) (decimal.Decimal, bool) {
	rec := it.Discount
	if rec == nil || rec.SourceCode == "" || rec.SavingsPerUnit.IsNegative() {
		return decimal.Zero, false
	}
	return domain.ClampMoney(rec.SavingsPerUnit, it.UnitPrice), true
}
