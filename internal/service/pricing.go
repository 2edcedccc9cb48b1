// Package service orchestrates cart mutations: it serializes them per cart,
// performs provider lookups, commits results and fans out side effects
// (usage recording, persistence sync, events).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/solarshop412/solar-shop-sub003/internal/cart"
	"github.com/solarshop412/solar-shop-sub003/internal/discount"
	"github.com/solarshop412/solar-shop-sub003/internal/domain"
	"github.com/solarshop412/solar-shop-sub003/internal/repository"
	apperrors "github.com/solarshop412/solar-shop-sub003/pkg/errors"
	"github.com/solarshop412/solar-shop-sub003/pkg/logger"
	"github.com/solarshop412/solar-shop-sub003/pkg/tracing"
)

const (
	defaultLookupTimeout = 10 * time.Second
	defaultSideTimeout   = 5 * time.Second
)

var errShuttingDown = apperrors.ServiceUnavailable("pricing service is shutting down")

// EventPublisher publishes coupon lifecycle events.
type EventPublisher interface {
	PublishCouponApplied(ctx context.Context, cartID string, coupon *domain.AppliedCoupon, first bool) error
	PublishCouponRemoved(ctx context.Context, cartID string, coupon *domain.AppliedCoupon) error
	PublishCartCleared(ctx context.Context, cartID string) error
}

// PricingService applies mutations to carts. Carts are passed in as handles;
// binding IDs to carts is the caller's concern.
type PricingService struct {
	products repository.ProductProvider
	rules    repository.RuleProvider
	resolver *discount.Resolver
	sink     repository.Sink
	events   EventPublisher
	metrics  *Metrics
	logger   *slog.Logger
	tracer   trace.Tracer

	lookupTimeout time.Duration
	sideTimeout   time.Duration
	clock         func() time.Time

	// mu guards closed so wg.Add never races Close's wg.Wait.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures a PricingService.
type Option func(*PricingService)

// WithSink mirrors cart state after every mutation.
func WithSink(s repository.Sink) Option {
	return func(p *PricingService) { p.sink = s }
}

// WithEvents publishes coupon lifecycle events.
func WithEvents(e EventPublisher) Option {
	return func(p *PricingService) { p.events = e }
}

// WithMetrics records counters on m.
func WithMetrics(m *Metrics) Option {
	return func(p *PricingService) { p.metrics = m }
}

// WithClock overrides the time used to validate code windows.
func WithClock(now func() time.Time) Option {
	return func(p *PricingService) { p.clock = now }
}

// WithLookupTimeout bounds each detached provider lookup.
func WithLookupTimeout(d time.Duration) Option {
	return func(p *PricingService) { p.lookupTimeout = d }
}

// NewPricingService creates a PricingService.
func NewPricingService(products repository.ProductProvider, rules repository.RuleProvider, logger *slog.Logger, opts ...Option) *PricingService {
	s := &PricingService{
		products:      products,
		rules:         rules,
		sink:          repository.NopSink{},
		metrics:       NewMetrics(),
		logger:        logger,
		tracer:        tracing.Tracer("pricing-service"),
		lookupTimeout: defaultLookupTimeout,
		sideTimeout:   defaultSideTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	var ropts []discount.Option
	if s.clock != nil {
		ropts = append(ropts, discount.WithClock(s.clock))
	}
	s.resolver = discount.NewResolver(rules, logger, ropts...)
	return s
}

// Wait blocks until background usage recordings have finished.
func (s *PricingService) Wait() {
	s.wg.Wait()
}

// Close refuses further lookups and usage recordings, then waits for
// background work or until ctx ends.
func (s *PricingService) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for background work: %w", ctx.Err())
	}
}

// AddItem looks up productID and adds quantity units to c. A zero unitPrice
// uses the catalog price.
func (s *PricingService) AddItem(ctx context.Context, c *cart.Cart, productID string, quantity int, unitPrice decimal.Decimal, dctx *domain.DiscountRecord) (item domain.LineItem, err error) {
	ctx, span := s.start(ctx, "AddItem", c, attribute.String("product.id", productID))
	defer func() { s.finish(span, "add_item", err) }()

	if productID == "" {
		return domain.LineItem{}, apperrors.InvalidInput("product id is required")
	}
	if quantity <= 0 {
		return domain.LineItem{}, apperrors.InvalidInput("quantity must be positive")
	}

	if err := c.Lock(ctx); err != nil {
		return domain.LineItem{}, err
	}
	defer c.Unlock()

	gen := c.Generation()
	product, err := detach(ctx, s, func(lctx context.Context) (*domain.Product, error) {
		return s.products.GetProduct(lctx, productID)
	})
	if err != nil {
		return domain.LineItem{}, productError(productID, err)
	}
	if c.Generation() != gen {
		return domain.LineItem{}, domain.StaleResult()
	}

	item, err = c.AddItem(product, quantity, unitPrice, dctx)
	if err != nil {
		return domain.LineItem{}, err
	}

	s.log(ctx).InfoContext(ctx, "item added",
		slog.String("item_id", item.ID),
		slog.String("product_id", productID),
		slog.Int("quantity", item.Quantity),
	)
	s.sync(ctx, c)
	return item, nil
}

// UpdateQuantity sets a line's quantity; zero or less removes it.
func (s *PricingService) UpdateQuantity(ctx context.Context, c *cart.Cart, itemID string, quantity int) (err error) {
	ctx, span := s.start(ctx, "UpdateQuantity", c, attribute.String("item.id", itemID))
	defer func() { s.finish(span, "update_quantity", err) }()

	if err := c.Lock(ctx); err != nil {
		return err
	}
	defer c.Unlock()

	if err := c.UpdateQuantity(itemID, quantity); err != nil {
		return err
	}
	s.sync(ctx, c)
	return nil
}

// RemoveItem deletes a line.
func (s *PricingService) RemoveItem(ctx context.Context, c *cart.Cart, itemID string) (err error) {
	ctx, span := s.start(ctx, "RemoveItem", c, attribute.String("item.id", itemID))
	defer func() { s.finish(span, "remove_item", err) }()

	if err := c.Lock(ctx); err != nil {
		return err
	}
	defer c.Unlock()

	if err := c.RemoveItem(itemID); err != nil {
		return err
	}
	s.sync(ctx, c)
	return nil
}

// ApplyCode resolves code against c and attaches the result. Re-applying the
// code already on the cart recomputes it over the current items.
func (s *PricingService) ApplyCode(ctx context.Context, c *cart.Cart, code string) (coupon *domain.AppliedCoupon, err error) {
	ctx, span := s.start(ctx, "ApplyCode", c, attribute.String("discount.code", discount.NormalizeCode(code)))
	defer func() {
		s.metrics.resolutions.WithLabelValues(outcome(err)).Inc()
		s.finish(span, "apply_code", err)
	}()

	if err := c.Lock(ctx); err != nil {
		return nil, err
	}
	defer c.Unlock()

	snap := c.Snapshot()
	plan, err := detach(ctx, s, func(lctx context.Context) (*domain.DiscountPlan, error) {
		return s.resolver.Resolve(lctx, code, snap)
	})
	if err != nil {
		return nil, err
	}
	if c.Generation() != snap.Generation {
		s.log(ctx).InfoContext(ctx, "discarding stale discount plan", slog.String("code", plan.Coupon.Code))
		return nil, domain.StaleResult()
	}

	coupon, first, err := c.ApplyPlan(plan)
	if err != nil {
		return nil, err
	}

	s.log(ctx).InfoContext(ctx, "discount code applied",
		slog.String("code", coupon.Code),
		slog.String("mode", string(coupon.Mode)),
		slog.Bool("first", first),
	)
	if first {
		s.recordUsage(ctx, c.ID(), coupon)
	}
	s.sync(ctx, c)
	if s.events != nil {
		if err := s.events.PublishCouponApplied(ctx, c.ID(), coupon, first); err != nil {
			s.log(ctx).ErrorContext(ctx, "failed to publish coupon applied event", slog.String("error", err.Error()))
		}
	}
	return coupon, nil
}

// RemoveCode drops the applied coupon and its records. Removing when no code
// is applied is a no-op.
func (s *PricingService) RemoveCode(ctx context.Context, c *cart.Cart) (err error) {
	ctx, span := s.start(ctx, "RemoveCode", c)
	defer func() { s.finish(span, "remove_code", err) }()

	if err := c.Lock(ctx); err != nil {
		return err
	}
	defer c.Unlock()

	removed := c.RemoveCoupon()
	if removed == nil {
		return nil
	}
	s.sync(ctx, c)
	if s.events != nil {
		if err := s.events.PublishCouponRemoved(ctx, c.ID(), removed); err != nil {
			s.log(ctx).ErrorContext(ctx, "failed to publish coupon removed event", slog.String("error", err.Error()))
		}
	}
	return nil
}

// ResetDiscounts drops every discount, leaving subtotal-only pricing.
func (s *PricingService) ResetDiscounts(ctx context.Context, c *cart.Cart) (err error) {
	ctx, span := s.start(ctx, "ResetDiscounts", c)
	defer func() { s.finish(span, "reset_discounts", err) }()

	if err := c.Lock(ctx); err != nil {
		return err
	}
	defer c.Unlock()

	c.ResetDiscounts()
	s.sync(ctx, c)
	return nil
}

// Clear empties c.
func (s *PricingService) Clear(ctx context.Context, c *cart.Cart) (err error) {
	ctx, span := s.start(ctx, "Clear", c)
	defer func() { s.finish(span, "clear", err) }()

	if err := c.Lock(ctx); err != nil {
		return err
	}
	defer c.Unlock()

	c.Clear()
	s.sync(ctx, c)
	if s.events != nil {
		if err := s.events.PublishCartCleared(ctx, c.ID()); err != nil {
			s.log(ctx).ErrorContext(ctx, "failed to publish cart cleared event", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Summary reconciles c. It does not take the mutation lock.
func (s *PricingService) Summary(ctx context.Context, c *cart.Cart) domain.CartSummary {
	_, span := s.start(ctx, "Summary", c)
	defer span.End()
	return c.Summary()
}

// detach runs fn on a context that ignores the caller's cancellation. When
// the caller gives up first, the late result is dropped and ctx.Err() is
// returned so the caller can release the cart lock.
func detach[T any](ctx context.Context, s *PricingService, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)

	if !s.track() {
		var zero T
		return zero, errShuttingDown
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.lookupTimeout)
	go func() {
		defer s.wg.Done()
		defer cancel()
		v, err := fn(lctx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// track registers one unit of background work unless the service is closed.
func (s *PricingService) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func productError(productID string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, apperrors.ErrNotFound):
		return domain.Reject(domain.RejectProductUnavailable, "product %s not found", productID)
	case errors.Is(err, apperrors.ErrExternal), errors.Is(err, apperrors.ErrServiceUnavail):
		return err
	default:
		return apperrors.ExternalFailure(fmt.Errorf("get product %s: %w", productID, err))
	}
}

// recordUsage consumes one use of the coupon's rule in the background. A
// failure never rolls back the applied coupon.
func (s *PricingService) recordUsage(ctx context.Context, cartID string, coupon *domain.AppliedCoupon) {
	if coupon.RuleID == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)

	if !s.track() {
		s.metrics.usageFailures.Inc()
		s.log(ctx).WarnContext(ctx, "reconciliation warning",
			slog.String("cart_id", cartID),
			slog.String("code", coupon.Code),
			slog.String("rule_id", coupon.RuleID),
			slog.String("error", errShuttingDown.Error()),
		)
		return
	}
	go func() {
		defer s.wg.Done()
		uctx, cancel := context.WithTimeout(ctx, s.sideTimeout)
		defer cancel()

		if err := s.rules.RecordUsage(uctx, coupon.RuleID); err != nil {
			s.metrics.usageFailures.Inc()
			s.log(ctx).WarnContext(ctx, "reconciliation warning",
				slog.String("cart_id", cartID),
				slog.String("code", coupon.Code),
				slog.String("rule_id", coupon.RuleID),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// sync mirrors c to the sink. Failures are logged and ignored.
func (s *PricingService) sync(ctx context.Context, c *cart.Cart) {
	snap := c.Snapshot()
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sideTimeout)
	defer cancel()

	if err := s.sink.SyncLineItems(sctx, c.ID(), snap.Items); err != nil {
		s.metrics.sinkFailures.Inc()
		s.log(ctx).WarnContext(ctx, "failed to sync line items", slog.String("error", err.Error()))
	}
	if err := s.sink.SyncAppliedCoupon(sctx, c.ID(), snap.Coupon); err != nil {
		s.metrics.sinkFailures.Inc()
		s.log(ctx).WarnContext(ctx, "failed to sync applied coupon", slog.String("error", err.Error()))
	}
}

func (s *PricingService) start(ctx context.Context, op string, c *cart.Cart, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx = logger.WithCartID(ctx, c.ID())
	attrs = append(attrs, attribute.String("cart.id", c.ID()))
	return s.tracer.Start(ctx, "PricingService."+op, trace.WithAttributes(attrs...))
}

func (s *PricingService) finish(span trace.Span, op string, err error) {
	defer span.End()

	if err == nil {
		s.metrics.mutations.WithLabelValues(op, "ok").Inc()
		return
	}
	s.metrics.mutations.WithLabelValues(op, "error").Inc()
	if kind, ok := domain.RejectionKindOf(err); ok {
		span.SetAttributes(attribute.String("rejection.kind", string(kind)))
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func (s *PricingService) log(ctx context.Context) *slog.Logger {
	return logger.WithContext(ctx, s.logger)
}

func outcome(err error) string {
	if err == nil {
		return "applied"
	}
	if kind, ok := domain.RejectionKindOf(err); ok {
		return string(kind)
	}
	switch {
	case errors.Is(err, domain.ErrStaleResult):
		return "stale"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, apperrors.ErrExternal):
		return "external_failure"
	default:
		return "error"
	}
}
