package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solarshop412/solar-shop-sub003/internal/domain"
	pkgkafka "github.com/solarshop412/solar-shop-sub003/pkg/kafka"
	"github.com/solarshop412/solar-shop-sub003/pkg/logger"
)

// Kafka topics for pricing events.
const (
	TopicCouponApplied = "pricing.coupon.applied"
	TopicCouponRemoved = "pricing.coupon.removed"
	TopicCartCleared   = "pricing.cart.cleared"
)

const (
	AggregateTypeCart = "cart"
	SourcePricing     = "pricing-service"
)

// CouponAppliedData is the payload of a coupon.applied event.
type CouponAppliedData struct {
	CartID         string            `json:"cart_id"`
	CouponID       string            `json:"coupon_id"`
	RuleID         string            `json:"rule_id"`
	Code           string            `json:"code"`
	Mode           domain.CouponMode `json:"mode"`
	DiscountAmount decimal.Decimal   `json:"discount_amount"`
	Reapplied      bool              `json:"reapplied"`
}

// CouponRemovedData is the payload of a coupon.removed event.
type CouponRemovedData struct {
	CartID   string `json:"cart_id"`
	CouponID string `json:"coupon_id"`
	Code     string `json:"code"`
}

// CartClearedData is the payload of a cart.cleared event.
type CartClearedData struct {
	CartID string `json:"cart_id"`
}

// Publisher is the part of pkg/kafka.Producer this package needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes pricing domain events.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
	now    func() time.Time
}

// NewProducer creates a pricing event producer.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, logger: logger, now: time.Now}
}

// PublishCouponApplied publishes a coupon.applied event. first is false when
// the code was already on the cart and only got recomputed.
func (p *Producer) PublishCouponApplied(ctx context.Context, cartID string, coupon *domain.AppliedCoupon, first bool) error {
	data := CouponAppliedData{
		CartID:         cartID,
		CouponID:       coupon.ID,
		RuleID:         coupon.RuleID,
		Code:           coupon.Code,
		Mode:           coupon.Mode,
		DiscountAmount: coupon.DiscountAmount,
		Reapplied:      !first,
	}
	return p.publish(ctx, TopicCouponApplied, cartID, data)
}

// PublishCouponRemoved publishes a coupon.removed event.
func (p *Producer) PublishCouponRemoved(ctx context.Context, cartID string, coupon *domain.AppliedCoupon) error {
	data := CouponRemovedData{CartID: cartID, CouponID: coupon.ID, Code: coupon.Code}
	return p.publish(ctx, TopicCouponRemoved, cartID, data)
}

// PublishCartCleared publishes a cart.cleared event.
func (p *Producer) PublishCartCleared(ctx context.Context, cartID string) error {
	return p.publish(ctx, TopicCartCleared, cartID, CartClearedData{CartID: cartID})
}

func (p *Producer) publish(ctx context.Context, topic, cartID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, cartID, AggregateTypeCart, SourcePricing, p.now(), data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("cart_id", cartID),
	)
	return nil
}
