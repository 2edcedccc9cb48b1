package rest

import (
	"context"
	"fmt"
	"net/url"

	"github.com/solarshop412/solar-shop-sub003/internal/domain"
	"github.com/solarshop412/solar-shop-sub003/internal/repository"
	apperrors "github.com/solarshop412/solar-shop-sub003/pkg/errors"
)

// ruleSelect embeds the per-product overrides under the "overrides" key.
const ruleSelect = "*,overrides:discount_rule_products(product_id,kind,magnitude)"

// RuleRepository implements repository.RuleProvider against the
// discount_rules table and the record_discount_usage function.
type RuleRepository struct {
	client *Client
}

func NewRuleRepository(client *Client) *RuleRepository {
	return &RuleRepository{client: client}
}

var _ repository.RuleProvider = (*RuleRepository)(nil)

// GetRuleByCode expects codes to be stored upper-case, matching the
// normalization applied before lookup.
func (r *RuleRepository) GetRuleByCode(ctx context.Context, code string) (*domain.Rule, error) {
	query := url.Values{}
	query.Set("select", ruleSelect)
	query.Set("code", "eq."+code)
	query.Set("limit", "1")

	var rows []repository.RuleRecord
	if err := r.client.get(ctx, "discount_rules", query, &rows); err != nil {
		return nil, fmt.Errorf("get discount rule: %w", err)
	}
	if len(rows) == 0 {
		return nil, apperrors.NotFound("discount rule", code)
	}
	return rows[0].ToDomain()
}

type recordUsageRequest struct {
	RuleID string `json:"rule_id"`
}

// RecordUsage calls record_discount_usage, which returns false when the rule
// has no uses left.
func (r *RuleRepository) RecordUsage(ctx context.Context, ruleID string) error {
	var consumed bool
	if err := r.client.rpc(ctx, "record_discount_usage", recordUsageRequest{RuleID: ruleID}, &consumed); err != nil {
		return fmt.Errorf("record discount usage: %w", err)
	}
	if !consumed {
		return domain.Reject(domain.RejectUsageExhausted, "discount rule %s has no uses left", ruleID)
	}
	return nil
}
