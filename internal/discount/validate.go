package discount

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solarshop412/solar-shop-sub003/internal/bundle"
	"github.com/solarshop412/solar-shop-sub003/internal/domain"
)

// NormalizeCode trims and upper-cases a user-entered code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate runs the applicability checks for rule against the cart snapshot
// in order: temporal window, usage, order amount, exclusivity, scope, bundle
// completeness. The first failing check decides the rejection.
func Validate(rule *domain.Rule, snap domain.Snapshot, now time.Time) error {
	if err := validateWindow(rule, now); err != nil {
		return err
	}
	if err := validateUsage(rule, snap); err != nil {
		return err
	}
	if err := validateOrderAmount(rule, snap); err != nil {
		return err
	}
	if err := validateExclusivity(rule, snap); err != nil {
		return err
	}
	if err := validateScope(rule, snap.Items); err != nil {
		return err
	}
	if rule.IsBundle {
		offer := rule.Offer()
		if !bundle.IsComplete(offer, snap.Items) {
			return domain.Reject(domain.RejectBundleIncomplete,
				"code %s needs products %s in the cart", rule.Code, strings.Join(bundle.Missing(offer, snap.Items), ", "))
		}
	}
	return nil
}

func validateWindow(rule *domain.Rule, now time.Time) error {
	if !rule.StartDate.IsZero() && now.Before(rule.StartDate) {
		return domain.Reject(domain.RejectNotYetActive,
			"code %s is valid from %s", rule.Code, rule.StartDate.Format(time.RFC3339))
	}
	if rule.EndDate != nil && now.After(*rule.EndDate) {
		return domain.Reject(domain.RejectExpired,
			"code %s expired at %s", rule.Code, rule.EndDate.Format(time.RFC3339))
	}
	return nil
}

// validateUsage skips the counter when the cart already carries the code:
// re-application does not consume another use.
func validateUsage(rule *domain.Rule, snap domain.Snapshot) error {
	if rule.UsesRemaining == nil || *rule.UsesRemaining > 0 {
		return nil
	}
	if snap.Coupon != nil && snap.Coupon.Code == rule.Code {
		return nil
	}
	return domain.Reject(domain.RejectUsageExhausted, "code %s has no uses left", rule.Code)
}

// InOrderRange reports whether subtotal lies within the rule's order amount
// bounds. Unset bounds always pass.
func InOrderRange(rule *domain.Rule, subtotal decimal.Decimal) bool {
	if rule.MinOrderAmount.Valid && subtotal.LessThan(rule.MinOrderAmount.Decimal) {
		return false
	}
	return !rule.MaxOrderAmount.Valid || !subtotal.GreaterThan(rule.MaxOrderAmount.Decimal)
}

func validateOrderAmount(rule *domain.Rule, snap domain.Snapshot) error {
	subtotal := snap.Subtotal()
	if InOrderRange(rule, subtotal) {
		return nil
	}
	if rule.MinOrderAmount.Valid && subtotal.LessThan(rule.MinOrderAmount.Decimal) {
		return domain.Reject(domain.RejectOrderAmountOutOfRange,
			"code %s needs an order of at least %s", rule.Code, rule.MinOrderAmount.Decimal.StringFixed(domain.MoneyPlaces))
	}
	if rule.MaxOrderAmount.Valid && subtotal.GreaterThan(rule.MaxOrderAmount.Decimal) {
		return domain.Reject(domain.RejectOrderAmountOutOfRange,
			"code %s is limited to orders up to %s", rule.Code, rule.MaxOrderAmount.Decimal.StringFixed(domain.MoneyPlaces))
	}
	return nil
}

func validateExclusivity(rule *domain.Rule, snap domain.Snapshot) error {
	if snap.Coupon != nil && snap.Coupon.Code != rule.Code {
		return domain.Reject(domain.RejectConflictingDiscountPresent,
			"code %s is already applied; remove it first", snap.Coupon.Code)
	}
	for _, it := range snap.Items {
		if src := it.SourceCode(); src != "" && src != rule.Code {
			return domain.Reject(domain.RejectConflictingDiscountPresent,
				"item %s is already discounted by %s", it.ProductID, src)
		}
	}
	return nil
}

func validateScope(rule *domain.Rule, items []domain.LineItem) error {
	if len(items) == 0 {
		return domain.Reject(domain.RejectNotApplicableToCart, "cart is empty")
	}
	if hasIncludeScope(rule) && !slices.ContainsFunc(items, func(it domain.LineItem) bool { return included(rule, it) }) {
		return domain.Reject(domain.RejectNotApplicableToCart,
			"code %s does not apply to any item in the cart", rule.Code)
	}
	for _, it := range items {
		if excluded(rule, it) {
			return domain.Reject(domain.RejectExcludedByCart,
				"code %s cannot be used with product %s", rule.Code, it.ProductID)
		}
	}
	return nil
}

func hasIncludeScope(rule *domain.Rule) bool {
	return len(rule.ApplicableProductIDs) > 0 || len(rule.ApplicableCategories) > 0
}

func included(rule *domain.Rule, it domain.LineItem) bool {
	if !hasIncludeScope(rule) {
		return true
	}
	return slices.Contains(rule.ApplicableProductIDs, it.ProductID) ||
		anyShared(rule.ApplicableCategories, it.Categories)
}

func excluded(rule *domain.Rule, it domain.LineItem) bool {
	return slices.Contains(rule.ExcludedProductIDs, it.ProductID) ||
		anyShared(rule.ExcludedCategories, it.Categories)
}

// Eligible reports whether it passes rule's product and category scope.
func Eligible(rule *domain.Rule, it domain.LineItem) bool {
	return it.Quantity > 0 && included(rule, it) && !excluded(rule, it)
}

func anyShared(a, b []string) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}

func describe(rule *domain.Rule) string {
	return fmt.Sprintf("%s (%s)", rule.Code, rule.Discount)
}
