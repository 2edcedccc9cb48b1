package discount

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/solarshop412/solar-shop-sub003/internal/bundle"
	"github.com/solarshop412/solar-shop-sub003/internal/domain"
)

// Compute builds the discount plan for a rule that already passed Validate.
// Bundle rules spread the offer over the bundle items. Rules with per-product
// overrides discount each eligible item that has an override. Any other rule
// becomes a single aggregate amount over the eligible items. The rule's
// maxDiscountAmount caps the result.
func Compute(rule *domain.Rule, items []domain.LineItem, now time.Time) (*domain.DiscountPlan, error) {
	plan := &domain.DiscountPlan{
		Coupon: domain.AppliedCoupon{
			RuleID:    rule.ID,
			Code:      rule.Code,
			Kind:      rule.Discount.Kind(),
			Value:     rule.Discount.Value(),
			AppliedAt: now,
			Rule:      rule,
		},
	}

	switch {
	case rule.IsBundle:
		plan.Coupon.Mode = domain.ModeBundle
		plan.Items = bundle.Apply(rule.Offer(), items)
		if plan.Items == nil {
			return nil, domain.Reject(domain.RejectBundleIncomplete, "code %s bundle is incomplete", rule.Code)
		}
	case rule.HasOverrides():
		plan.Coupon.Mode = domain.ModePerItem
		plan.Items = overrideSavings(rule, items)
		if len(plan.Items) == 0 {
			return nil, domain.Reject(domain.RejectNotApplicableToCart,
				"code %s has no offer for the items in the cart", rule.Code)
		}
	default:
		plan.Coupon.Mode = domain.ModeAggregate
		plan.Aggregate = AggregateAmount(rule, items)
		plan.Coupon.DiscountAmount = plan.Aggregate
		return plan, nil
	}

	plan.Items = CapItemSavings(rule, items, plan.Items)
	plan.Coupon.DiscountAmount = itemTotal(items, plan.Items)
	return plan, nil
}

// AggregateAmount applies the rule's generic discount to the subtotal of the
// eligible items, capped by maxDiscountAmount.
func AggregateAmount(rule *domain.Rule, items []domain.LineItem) decimal.Decimal {
	eligible := decimal.Zero
	for _, it := range items {
		if Eligible(rule, it) {
			eligible = eligible.Add(it.LineTotal())
		}
	}
	amount := rule.Discount.Amount(eligible)
	if rule.MaxDiscountAmount.Valid && amount.GreaterThan(rule.MaxDiscountAmount.Decimal) {
		amount = rule.MaxDiscountAmount.Decimal
	}
	return domain.RoundMoney(amount)
}

func overrideSavings(rule *domain.Rule, items []domain.LineItem) []domain.ItemSavings {
	var out []domain.ItemSavings
	for _, it := range items {
		if !Eligible(rule, it) {
			continue
		}
		override, ok := rule.PerProductOverrides[it.ProductID]
		if !ok || override.IsZero() {
			continue
		}
		out = append(out, domain.ItemSavings{
			LineItemID:     it.ID,
			Kind:           override.Kind(),
			Magnitude:      override.Value(),
			SavingsPerUnit: override.SavingsPerUnit(it.UnitPrice),
		})
	}
	return out
}

// CapItemSavings scales per-unit savings down proportionally when their total
// exceeds maxDiscountAmount. Scaled values are rounded down so the total stays
// within the cap.
func CapItemSavings(rule *domain.Rule, items []domain.LineItem, savings []domain.ItemSavings) []domain.ItemSavings {
	if !rule.MaxDiscountAmount.Valid {
		return savings
	}
	ceiling := rule.MaxDiscountAmount.Decimal
	total := itemTotal(items, savings)
	if total.LessThanOrEqual(ceiling) || total.IsZero() {
		return savings
	}

	factor := ceiling.Div(total)
	out := make([]domain.ItemSavings, len(savings))
	for i, s := range savings {
		s.SavingsPerUnit = domain.RoundMoneyDown(s.SavingsPerUnit.Mul(factor))
		out[i] = s
	}
	return out
}

func itemTotal(items []domain.LineItem, savings []domain.ItemSavings) decimal.Decimal {
	qty := make(map[string]int, len(items))
	for _, it := range items {
		qty[it.ID] = it.Quantity
	}
	total := decimal.Zero
	for _, s := range savings {
		total = total.Add(s.SavingsPerUnit.Mul(decimal.NewFromInt(int64(qty[s.LineItemID]))))
	}
	return domain.RoundMoney(total)
}
