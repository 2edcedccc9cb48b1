// Package discount turns a user-entered code into a validated discount plan.
package discount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/solarshop412/solar-shop-sub003/internal/domain"
	apperrors "github.com/solarshop412/solar-shop-sub003/pkg/errors"
)

// RuleSource looks up discount rules by code.
type RuleSource interface {
	GetRuleByCode(ctx context.Context, code string) (*domain.Rule, error)
}

// Resolver resolves codes against a RuleSource.
type Resolver struct {
	rules  RuleSource
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the time source used for the validity window.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a Resolver.
func NewResolver(rules RuleSource, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		rules:  rules,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now returns the resolver's current time.
func (r *Resolver) Now() time.Time {
	return r.now()
}

// Resolve looks up code, validates it against snap and computes the plan.
// Business failures are typed rejections (see domain.RejectionKindOf); a
// failed lookup is an apperrors.ExternalFailure.
func (r *Resolver) Resolve(ctx context.Context, code string, snap domain.Snapshot) (*domain.DiscountPlan, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, domain.Reject(domain.RejectCodeNotFound, "no code given")
	}

	rule, err := r.lookup(ctx, code)
	if err != nil {
		return nil, err
	}

	now := r.now()
	if err := Validate(rule, snap, now); err != nil {
		r.logRejection(ctx, rule, err)
		return nil, err
	}

	plan, err := Compute(rule, snap.Items, now)
	if err != nil {
		r.logRejection(ctx, rule, err)
		return nil, err
	}
	plan.Coupon.ID = uuid.New().String()

	r.logger.DebugContext(ctx, "discount code resolved",
		slog.String("code", describe(rule)),
		slog.String("mode", string(plan.Coupon.Mode)),
		slog.String("discount_amount", plan.Coupon.DiscountAmount.StringFixed(domain.MoneyPlaces)),
	)
	return plan, nil
}

func (r *Resolver) lookup(ctx context.Context, code string) (*domain.Rule, error) {
	rule, err := r.rules.GetRuleByCode(ctx, code)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return nil, domain.Reject(domain.RejectCodeNotFound, "code %s does not exist", code)
	case errors.Is(err, apperrors.ErrExternal):
		return nil, err
	case err != nil:
		return nil, apperrors.ExternalFailure(fmt.Errorf("get rule %s: %w", code, err))
	case rule == nil:
		return nil, domain.Reject(domain.RejectCodeNotFound, "code %s does not exist", code)
	}
	// Providers may store codes in any case.
	rule.Code = NormalizeCode(rule.Code)
	if rule.Code == "" {
		rule.Code = code
	}
	return rule, nil
}

func (r *Resolver) logRejection(ctx context.Context, rule *domain.Rule, err error) {
	kind, _ := domain.RejectionKindOf(err)
	r.logger.InfoContext(ctx, "discount code rejected",
		slog.String("code", rule.Code),
		slog.String("rule_id", rule.ID),
		slog.String("kind", string(kind)),
	)
}
