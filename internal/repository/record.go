package repository

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solarshop412/solar-shop-sub003/internal/domain"
	"github.com/solarshop412/solar-shop-sub003/pkg/validator"
)

// ProductRecord is a product row as stored by a provider.
type ProductRecord struct {
	ID                string          `json:"id" validate:"required"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	MinQuantity       int             `json:"min_quantity" validate:"gte=0"`
	MaxQuantity       int             `json:"max_quantity" validate:"gte=0"`
	AvailableQuantity *int            `json:"available_quantity"`
	Categories        []string        `json:"categories"`
}

// ToDomain validates the record and converts it.
func (r *ProductRecord) ToDomain() (*domain.Product, error) {
	if err := validator.Validate(r); err != nil {
		return nil, fmt.Errorf("invalid product %q: %w", r.ID, err)
	}
	if r.UnitPrice.IsNegative() {
		return nil, fmt.Errorf("invalid product %q: negative unit price", r.ID)
	}
	return &domain.Product{
		ID:                r.ID,
		UnitPrice:         r.UnitPrice,
		MinQuantity:       r.MinQuantity,
		MaxQuantity:       r.MaxQuantity,
		AvailableQuantity: r.AvailableQuantity,
		Categories:        r.Categories,
	}, nil
}

// OverrideRecord is one per-product override of a rule.
type OverrideRecord struct {
	ProductID string          `json:"product_id" validate:"required"`
	Kind      string          `json:"kind" validate:"required,oneof=percentage fixed_amount"`
	Magnitude decimal.Decimal `json:"magnitude"`
}

// RuleRecord is a discount rule as stored by a provider. The discount kind is
// a plain string here; ToDomain turns it into a domain.Discount once.
type RuleRecord struct {
	ID        string          `json:"id" validate:"required"`
	Code      string          `json:"code" validate:"required"`
	Kind      string          `json:"kind" validate:"required,oneof=percentage fixed_amount"`
	Magnitude decimal.Decimal `json:"magnitude"`

	StartDate     time.Time  `json:"start_date"`
	EndDate       *time.Time `json:"end_date"`
	UsesRemaining *int       `json:"uses_remaining"`

	MinOrderAmount    decimal.NullDecimal `json:"min_order_amount"`
	MaxOrderAmount    decimal.NullDecimal `json:"max_order_amount"`
	MaxDiscountAmount decimal.NullDecimal `json:"max_discount_amount"`

	ApplicableProductIDs []string `json:"applicable_product_ids"`
	ExcludedProductIDs   []string `json:"excluded_product_ids"`
	ApplicableCategories []string `json:"applicable_categories"`
	ExcludedCategories   []string `json:"excluded_categories"`

	IsBundle         bool     `json:"is_bundle"`
	BundleProductIDs []string `json:"bundle_product_ids" validate:"required_if=IsBundle true"`

	Overrides []OverrideRecord `json:"overrides" validate:"dive"`
}

// ToDomain validates the record and converts it.
func (r *RuleRecord) ToDomain() (*domain.Rule, error) {
	if err := validator.Validate(r); err != nil {
		return nil, fmt.Errorf("invalid rule %q: %w", r.Code, err)
	}

	d, err := domain.NewDiscount(r.Kind, r.Magnitude)
	if err != nil {
		return nil, fmt.Errorf("invalid rule %q: %w", r.Code, err)
	}

	rule := &domain.Rule{
		ID:                   r.ID,
		Code:                 r.Code,
		Discount:             d,
		StartDate:            r.StartDate,
		EndDate:              r.EndDate,
		UsesRemaining:        r.UsesRemaining,
		MinOrderAmount:       r.MinOrderAmount,
		MaxOrderAmount:       r.MaxOrderAmount,
		MaxDiscountAmount:    r.MaxDiscountAmount,
		ApplicableProductIDs: r.ApplicableProductIDs,
		ExcludedProductIDs:   r.ExcludedProductIDs,
		ApplicableCategories: r.ApplicableCategories,
		ExcludedCategories:   r.ExcludedCategories,
		IsBundle:             r.IsBundle,
		BundleProductIDs:     r.BundleProductIDs,
	}

	for _, amount := range []decimal.NullDecimal{r.MinOrderAmount, r.MaxOrderAmount, r.MaxDiscountAmount} {
		if amount.Valid && amount.Decimal.IsNegative() {
			return nil, fmt.Errorf("invalid rule %q: negative amount limit", r.Code)
		}
	}

	if len(r.Overrides) > 0 {
		rule.PerProductOverrides = make(map[string]domain.Discount, len(r.Overrides))
		for _, o := range r.Overrides {
			od, err := domain.NewDiscount(o.Kind, o.Magnitude)
			if err != nil {
				return nil, fmt.Errorf("invalid override for %q on rule %q: %w", o.ProductID, r.Code, err)
			}
			rule.PerProductOverrides[o.ProductID] = od
		}
	}
	return rule, nil
}
