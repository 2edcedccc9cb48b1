package repository

import (
	"context"

	"github.com/solarshop412/solar-shop-sub003/internal/domain"
)

// ProductProvider looks up catalog data for products added to a cart.
type ProductProvider interface {
	// GetProduct returns the product or an error wrapping
	// apperrors.ErrNotFound when it does not exist.
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
}

// RuleProvider looks up discount rules and records their use.
type RuleProvider interface {
	// GetRuleByCode returns the rule for a normalized code or an error
	// wrapping apperrors.ErrNotFound.
	GetRuleByCode(ctx context.Context, code string) (*domain.Rule, error)

	// RecordUsage consumes one use of the rule.
	RecordUsage(ctx context.Context, ruleID string) error
}

// Sink mirrors cart state to durable storage after each mutation.
type Sink interface {
	SyncLineItems(ctx context.Context, cartID string, items []domain.LineItem) error

	// SyncAppliedCoupon stores the coupon; nil clears it.
	SyncAppliedCoupon(ctx context.Context, cartID string, coupon *domain.AppliedCoupon) error
}

// NopSink discards everything. Used for anonymous sessions.
type NopSink struct{}

func (NopSink) SyncLineItems(context.Context, string, []domain.LineItem) error { return nil }

func (NopSink) SyncAppliedCoupon(context.Context, string, *domain.AppliedCoupon) error { return nil }

// Stored is a cart read back from a Store.
type Stored struct {
	Items  []domain.LineItem     `json:"items"`
	Coupon *domain.AppliedCoupon `json:"coupon,omitempty"`
}

// Store is a Sink that can read back and drop what it mirrored.
type Store interface {
	Sink

	// Load returns an error wrapping apperrors.ErrNotFound when nothing is
	// mirrored for cartID.
	Load(ctx context.Context, cartID string) (*Stored, error)
	Delete(ctx context.Context, cartID string) error
}
