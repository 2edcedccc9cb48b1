package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solarshop412/solar-shop-sub003/internal/domain"
	"github.com/solarshop412/solar-shop-sub003/internal/repository"
	"github.com/solarshop412/solar-shop-sub003/pkg/database"
	apperrors "github.com/solarshop412/solar-shop-sub003/pkg/errors"
)

const (
	keyPrefix   = "pricing:cart:"
	fieldItems  = "items"
	fieldCoupon = "coupon"
)

// CartSink implements repository.Sink by mirroring each cart into a Redis
// hash with one field for the line items and one for the applied coupon.
// Every write refreshes the key TTL.
type CartSink struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewCartSink creates a Redis-backed sink.
func NewCartSink(client redis.UniversalClient, ttl time.Duration) *CartSink {
	return &CartSink{client: client, ttl: ttl}
}

var _ repository.Store = (*CartSink)(nil)

func key(cartID string) string {
	return keyPrefix + cartID
}

// SyncLineItems overwrites the stored line items.
func (s *CartSink) SyncLineItems(ctx context.Context, cartID string, items []domain.LineItem) (err error) {
	ctx, end := database.TraceCommand(ctx, "sync line items", key(cartID))
	defer func() { end(err) }()

	if items == nil {
		items = []domain.LineItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal line items: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key(cartID), fieldItems, data)
	pipe.Expire(ctx, key(cartID), s.ttl)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis sync line items: %w", err)
	}
	return nil
}

// SyncAppliedCoupon stores the coupon, or removes it when coupon is nil.
func (s *CartSink) SyncAppliedCoupon(ctx context.Context, cartID string, coupon *domain.AppliedCoupon) (err error) {
	ctx, end := database.TraceCommand(ctx, "sync applied coupon", key(cartID))
	defer func() { end(err) }()

	pipe := s.client.TxPipeline()
	if coupon == nil {
		pipe.HDel(ctx, key(cartID), fieldCoupon)
	} else {
		data, err := json.Marshal(coupon)
		if err != nil {
			return fmt.Errorf("marshal applied coupon: %w", err)
		}
		pipe.HSet(ctx, key(cartID), fieldCoupon, data)
	}
	pipe.Expire(ctx, key(cartID), s.ttl)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis sync applied coupon: %w", err)
	}
	return nil
}

// Load returns the mirrored state of a cart.
func (s *CartSink) Load(ctx context.Context, cartID string) (*repository.Stored, error) {
	fields, err := s.client.HGetAll(ctx, key(cartID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load cart: %w", err)
	}
	if len(fields) == 0 {
		return nil, apperrors.NotFound("cart", cartID)
	}

	var out repository.Stored
	if raw, ok := fields[fieldItems]; ok {
		if err := json.Unmarshal([]byte(raw), &out.Items); err != nil {
			return nil, fmt.Errorf("unmarshal line items: %w", err)
		}
	}
	if raw, ok := fields[fieldCoupon]; ok {
		out.Coupon = &domain.AppliedCoupon{}
		if err := json.Unmarshal([]byte(raw), out.Coupon); err != nil {
			return nil, fmt.Errorf("unmarshal applied coupon: %w", err)
		}
	}
	return &out, nil
}

// Delete drops the mirrored cart.
func (s *CartSink) Delete(ctx context.Context, cartID string) error {
	if err := s.client.Del(ctx, key(cartID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis del cart: %w", err)
	}
	return nil
}
