package repository

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solarshop412/solar-shop-sub003/internal/domain"
)

func TestRuleRecord_FromJSON(t *testing.T) {
	payload := `{
		"id": "r1", "code": "DUO40", "kind": "fixed_amount", "magnitude": 40,
		"start_date": "2026-01-01T00:00:00Z", "end_date": null, "uses_remaining": 5,
		"min_order_amount": "100.00", "max_order_amount": null, "max_discount_amount": 35.5,
		"is_bundle": true, "bundle_product_ids": ["P1", "P2"],
		"overrides": [{"product_id": "P3", "kind": "percentage", "magnitude": "15"}]
	}`
	var rec RuleRecord
	require.NoError(t, json.Unmarshal([]byte(payload), &rec))

	rule, err := rec.ToDomain()
	require.NoError(t, err)

	assert.Equal(t, domain.KindFixedAmount, rule.Discount.Kind())
	assert.Equal(t, "40", rule.Discount.Value().String())
	assert.Nil(t, rule.EndDate)
	require.NotNil(t, rule.UsesRemaining)
	assert.Equal(t, 5, *rule.UsesRemaining)
	assert.True(t, rule.MinOrderAmount.Valid)
	assert.False(t, rule.MaxOrderAmount.Valid)
	assert.Equal(t, "35.5", rule.MaxDiscountAmount.Decimal.String())
	assert.True(t, rule.IsBundle)
	assert.Equal(t, domain.KindPercentage, rule.PerProductOverrides["P3"].Kind())
}

func TestRuleRecord_Invalid(t *testing.T) {
	tests := []struct {
		name string
		rec  RuleRecord
	}{
		{"missing id", RuleRecord{Code: "X", Kind: "percentage"}},
		{"unknown kind", RuleRecord{ID: "r", Code: "X", Kind: "bogo"}},
		{"bundle without products", RuleRecord{ID: "r", Code: "X", Kind: "percentage", IsBundle: true}},
		{"bad override", RuleRecord{ID: "r", Code: "X", Kind: "percentage", Overrides: []OverrideRecord{{ProductID: "P1", Kind: "nope"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.rec.ToDomain()
			assert.Error(t, err)
		})
	}
}

func TestProductRecord_ToDomain(t *testing.T) {
	var rec ProductRecord
	require.NoError(t, json.Unmarshal([]byte(`{"id":"P1","unit_price":"99.90","min_quantity":1,"max_quantity":5,"available_quantity":3,"categories":["panels"]}`), &rec))

	p, err := rec.ToDomain()
	require.NoError(t, err)
	assert.Equal(t, "99.9", p.UnitPrice.String())
	require.NotNil(t, p.AvailableQuantity)
	assert.Equal(t, 3, *p.AvailableQuantity)
	assert.Equal(t, []string{"panels"}, p.Categories)

	rec.MaxQuantity = -1
	_, err = rec.ToDomain()
	assert.Error(t, err)
}
