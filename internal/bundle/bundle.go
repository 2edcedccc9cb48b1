// Package bundle decides whether a bundle offer is complete for a set of line
// items and spreads the offer's discount over the matching items.
package bundle

import (
	"github.com/shopspring/decimal"

	"github.com/solarshop412/solar-shop-sub003/internal/domain"
)

// State is the completeness of an offer against a cart.
type State int

const (
	StateIncomplete State = iota
	StateComplete
)

func (s State) String() string {
	if s == StateComplete {
		return "complete"
	}
	return "incomplete"
}

// IsComplete reports whether every required product is present as a line
// item. Quantity does not matter. An offer without required products is never
// complete.
func IsComplete(offer domain.BundleOffer, items []domain.LineItem) bool {
	if len(offer.RequiredProductIDs) == 0 {
		return false
	}
	present := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it.Quantity > 0 {
			present[it.ProductID] = struct{}{}
		}
	}
	for _, pid := range offer.RequiredProductIDs {
		if _, ok := present[pid]; !ok {
			return false
		}
	}
	return true
}

// Evaluate returns the offer's state for items.
func Evaluate(offer domain.BundleOffer, items []domain.LineItem) State {
	if IsComplete(offer, items) {
		return StateComplete
	}
	return StateIncomplete
}

// Missing returns the required product IDs not present in items, in offer order.
func Missing(offer domain.BundleOffer, items []domain.LineItem) []string {
	present := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it.Quantity > 0 {
			present[it.ProductID] = struct{}{}
		}
	}
	var missing []string
	for _, pid := range offer.RequiredProductIDs {
		if _, ok := present[pid]; !ok {
			missing = append(missing, pid)
		}
	}
	return missing
}

// Matching returns, in offer order, the first line item for each required
// product. It returns nil when the offer is incomplete.
func Matching(offer domain.BundleOffer, items []domain.LineItem) []domain.LineItem {
	if !IsComplete(offer, items) {
		return nil
	}
	byProduct := make(map[string]domain.LineItem, len(items))
	for _, it := range items {
		if _, seen := byProduct[it.ProductID]; !seen && it.Quantity > 0 {
			byProduct[it.ProductID] = it
		}
	}
	out := make([]domain.LineItem, 0, len(offer.RequiredProductIDs))
	seen := make(map[string]struct{}, len(offer.RequiredProductIDs))
	for _, pid := range offer.RequiredProductIDs {
		if _, dup := seen[pid]; dup {
			continue
		}
		seen[pid] = struct{}{}
		out = append(out, byProduct[pid])
	}
	return out
}

// Apply computes per-item savings for a complete offer. Percentage offers
// discount each matching item by its own unit price. Fixed-amount offers split
// the amount in proportion to unit price; the last item takes the rounding
// remainder so shares add up to the amount, and every share is clamped to its
// item's unit price. Apply returns nil for an incomplete offer.
func Apply(offer domain.BundleOffer, items []domain.LineItem) []domain.ItemSavings {
	matching := Matching(offer, items)
	if len(matching) == 0 {
		return nil
	}

	kind := offer.Discount.Kind()
	magnitude := offer.Discount.Value()
	out := make([]domain.ItemSavings, 0, len(matching))

	switch kind {
	case domain.KindPercentage:
		for _, it := range matching {
			out = append(out, domain.ItemSavings{
				LineItemID:     it.ID,
				Kind:           kind,
				Magnitude:      magnitude,
				SavingsPerUnit: offer.Discount.SavingsPerUnit(it.UnitPrice),
			})
		}
	case domain.KindFixedAmount:
		for i, share := range Shares(magnitude, matching) {
			out = append(out, domain.ItemSavings{
				LineItemID:     matching[i].ID,
				Kind:           kind,
				Magnitude:      magnitude,
				SavingsPerUnit: share,
			})
		}
	default:
		return nil
	}
	return out
}

// Shares splits amount over items proportionally to unit price.
func Shares(amount decimal.Decimal, items []domain.LineItem) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(items))
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.UnitPrice)
	}
	if total.Sign() <= 0 || amount.Sign() <= 0 {
		for i := range shares {
			shares[i] = decimal.Zero
		}
		return shares
	}

	allocated := decimal.Zero
	last := len(items) - 1
	for i, it := range items {
		var share decimal.Decimal
		if i == last {
			share = amount.Sub(allocated)
		} else {
			share = domain.RoundMoney(it.UnitPrice.Div(total).Mul(amount))
		}
		share = domain.ClampMoney(share, it.UnitPrice)
		allocated = allocated.Add(share)
		shares[i] = share
	}
	return shares
}
