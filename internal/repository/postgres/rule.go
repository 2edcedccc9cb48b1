package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/solarshop412/solar-shop-sub003/internal/domain"
	"github.com/solarshop412/solar-shop-sub003/internal/repository"
	"github.com/solarshop412/solar-shop-sub003/pkg/database"
	apperrors "github.com/solarshop412/solar-shop-sub003/pkg/errors"
)

// RuleRepository implements repository.RuleProvider using PostgreSQL.
type RuleRepository struct {
	db database.DBTX
}

// NewRuleRepository creates a new PostgreSQL-backed rule provider.
func NewRuleRepository(db database.DBTX) *RuleRepository {
	return &RuleRepository{db: db}
}

var _ repository.RuleProvider = (*RuleRepository)(nil)

// GetRuleByCode loads the rule for a code together with its per-product
// overrides. Codes are compared case-insensitively.
func (r *RuleRepository) GetRuleByCode(ctx context.Context, code string) (_ *domain.Rule, err error) {
	query := `
		SELECT id, code, kind, magnitude::text, start_date, end_date, uses_remaining,
			   min_order_amount::text, max_order_amount::text, max_discount_amount::text,
			   applicable_product_ids, excluded_product_ids,
			   applicable_categories, excluded_categories,
			   is_bundle, bundle_product_ids
		FROM discount_rules
		WHERE upper(code) = upper($1)`

	ctx, end := database.TraceQuery(ctx, "get discount rule", query)
	defer func() { end(err) }()

	var (
		rec                             repository.RuleRecord
		magnitude                       string
		minOrder, maxOrder, maxDiscount *string
		startDate                       *time.Time
		applicableIDs, excludedIDs      []byte
		applicableCats, excludedCats    []byte
		bundleIDs                       []byte
	)
	err = r.db.QueryRow(ctx, query, code).Scan(
		&rec.ID,
		&rec.Code,
		&rec.Kind,
		&magnitude,
		&startDate,
		&rec.EndDate,
		&rec.UsesRemaining,
		&minOrder,
		&maxOrder,
		&maxDiscount,
		&applicableIDs,
		&excludedIDs,
		&applicableCats,
		&excludedCats,
		&rec.IsBundle,
		&bundleIDs,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("discount rule", code)
		}
		return nil, fmt.Errorf("scan discount rule: %w", err)
	}

	if startDate != nil {
		rec.StartDate = *startDate
	}
	if rec.Magnitude, err = decimal.NewFromString(magnitude); err != nil {
		return nil, fmt.Errorf("parse magnitude: %w", err)
	}
	for _, f := range []struct {
		raw *string
		dst *decimal.NullDecimal
	}{
		{minOrder, &rec.MinOrderAmount},
		{maxOrder, &rec.MaxOrderAmount},
		{maxDiscount, &rec.MaxDiscountAmount},
	} {
		if *f.dst, err = nullDecimal(f.raw); err != nil {
			return nil, fmt.Errorf("parse amount limit: %w", err)
		}
	}
	for _, f := range []struct {
		raw []byte
		dst *[]string
	}{
		{applicableIDs, &rec.ApplicableProductIDs},
		{excludedIDs, &rec.ExcludedProductIDs},
		{applicableCats, &rec.ApplicableCategories},
		{excludedCats, &rec.ExcludedCategories},
		{bundleIDs, &rec.BundleProductIDs},
	} {
		if err = unmarshalList(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("unmarshal rule scope: %w", err)
		}
	}

	if rec.Overrides, err = r.overrides(ctx, rec.ID); err != nil {
		return nil, err
	}

	return rec.ToDomain()
}

func (r *RuleRepository) overrides(ctx context.Context, ruleID string) ([]repository.OverrideRecord, error) {
	query := `
		SELECT product_id, kind, magnitude::text
		FROM discount_rule_products
		WHERE rule_id = $1
		ORDER BY product_id`

	rows, err := r.db.Query(ctx, query, ruleID)
	if err != nil {
		return nil, fmt.Errorf("query rule overrides: %w", err)
	}
	defer rows.Close()

	var out []repository.OverrideRecord
	for rows.Next() {
		var (
			o         repository.OverrideRecord
			magnitude string
		)
		if err := rows.Scan(&o.ProductID, &o.Kind, &magnitude); err != nil {
			return nil, fmt.Errorf("scan rule override: %w", err)
		}
		if o.Magnitude, err = decimal.NewFromString(magnitude); err != nil {
			return nil, fmt.Errorf("parse override magnitude: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rule overrides: %w", err)
	}
	return out, nil
}

// RecordUsage consumes one use of a limited rule. Unlimited rules (NULL
// uses_remaining) are left untouched but still count as recorded.
func (r *RuleRepository) RecordUsage(ctx context.Context, ruleID string) (err error) {
	query := `
		UPDATE discount_rules
		SET uses_remaining = uses_remaining - 1, updated_at = NOW()
		WHERE id = $1 AND (uses_remaining IS NULL OR uses_remaining > 0)`

	ctx, end := database.TraceQuery(ctx, "record discount usage", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, ruleID)
	if err != nil {
		return fmt.Errorf("record discount usage: %w", err)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err = r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM discount_rules WHERE id = $1)`, ruleID).Scan(&exists); err != nil {
		return fmt.Errorf("check discount rule existence: %w", err)
	}
	if !exists {
		return apperrors.NotFound("discount rule", ruleID)
	}
	return domain.Reject(domain.RejectUsageExhausted, "discount rule %s has no uses left", ruleID)
}

func nullDecimal(raw *string) (decimal.NullDecimal, error) {
	if raw == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
