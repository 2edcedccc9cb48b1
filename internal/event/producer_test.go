package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/solarshop412/solar-shop-sub003/internal/domain"
	pkgkafka "github.com/solarshop412/solar-shop-sub003/pkg/kafka"
	"github.com/solarshop412/solar-shop-sub003/pkg/logger"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, event *pkgkafka.Event) error {
	args := m.Called(ctx, topic, event)
	return args.Error(0)
}

func newProducer(pub Publisher) *Producer {
	p := NewProducer(pub, logger.Discard())
	p.now = func() time.Time { return time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC) }
	return p
}

func TestPublishCouponApplied(t *testing.T) {
	pub := new(mockPublisher)
	var captured *pkgkafka.Event
	pub.On("Publish", mock.Anything, TopicCouponApplied, mock.AnythingOfType("*kafka.Event")).
		Run(func(args mock.Arguments) { captured = args.Get(2).(*pkgkafka.Event) }).
		Return(nil)

	coupon := &domain.AppliedCoupon{
		ID: "cp-1", RuleID: "r-1", Code: "SAVE10", Mode: domain.ModePerItem,
		DiscountAmount: decimal.RequireFromString("20.00"),
	}
	ctx := logger.WithCorrelationID(context.Background(), "corr-1")
	require.NoError(t, newProducer(pub).PublishCouponApplied(ctx, "cart-1", coupon, false))

	require.NotNil(t, captured)
	assert.Equal(t, "cart-1", captured.AggregateID)
	assert.Equal(t, AggregateTypeCart, captured.AggregateType)
	assert.Equal(t, "corr-1", captured.CorrelationID)
	assert.Equal(t, time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC), captured.Timestamp)

	var data CouponAppliedData
	require.NoError(t, json.Unmarshal(captured.Data, &data))
	assert.Equal(t, "SAVE10", data.Code)
	assert.True(t, data.Reapplied)
	assert.True(t, data.DiscountAmount.Equal(decimal.NewFromInt(20)))
	pub.AssertExpectations(t)
}

func TestPublishCouponRemoved(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, TopicCouponRemoved, mock.Anything).Return(nil)

	err := newProducer(pub).PublishCouponRemoved(context.Background(), "cart-1", &domain.AppliedCoupon{ID: "cp-1", Code: "SAVE10"})
	require.NoError(t, err)
	pub.AssertExpectations(t)
}

func TestPublishCartCleared_Error(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, TopicCartCleared, mock.Anything).Return(errors.New("broker down"))

	err := newProducer(pub).PublishCartCleared(context.Background(), "cart-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish pricing.cart.cleared event")
}
