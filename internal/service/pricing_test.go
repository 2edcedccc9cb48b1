package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/solarshop412/solar-shop-sub003/internal/bundle"
	"github.com/solarshop412/solar-shop-sub003/internal/cart"
	"github.com/solarshop412/solar-shop-sub003/internal/domain"
	apperrors "github.com/solarshop412/solar-shop-sub003/pkg/errors"
	"github.com/solarshop412/solar-shop-sub003/pkg/logger"
)

// --- Mock Product Provider ---

type mockProducts struct {
	mock.Mock
}

func (m *mockProducts) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Product), args.Error(1)
}

// --- Mock Rule Provider ---

type mockRules struct {
	mock.Mock
}

func (m *mockRules) GetRuleByCode(ctx context.Context, code string) (*domain.Rule, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Rule), args.Error(1)
}

func (m *mockRules) RecordUsage(ctx context.Context, ruleID string) error {
	args := m.Called(ctx, ruleID)
	return args.Error(0)
}

// --- Mock Sink ---

type mockSink struct {
	mock.Mock
}

func (m *mockSink) SyncLineItems(ctx context.Context, cartID string, items []domain.LineItem) error {
	args := m.Called(ctx, cartID, items)
	return args.Error(0)
}

func (m *mockSink) SyncAppliedCoupon(ctx context.Context, cartID string, coupon *domain.AppliedCoupon) error {
	args := m.Called(ctx, cartID, coupon)
	return args.Error(0)
}

// --- Mock Event Publisher ---

type mockEvents struct {
	mock.Mock
}

func (m *mockEvents) PublishCouponApplied(ctx context.Context, cartID string, coupon *domain.AppliedCoupon, first bool) error {
	args := m.Called(ctx, cartID, coupon, first)
	return args.Error(0)
}

func (m *mockEvents) PublishCouponRemoved(ctx context.Context, cartID string, coupon *domain.AppliedCoupon) error {
	args := m.Called(ctx, cartID, coupon)
	return args.Error(0)
}

func (m *mockEvents) PublishCartCleared(ctx context.Context, cartID string) error {
	args := m.Called(ctx, cartID)
	return args.Error(0)
}

// --- Helpers ---

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "want %s, got %s", want, got)
}

func assertRejected(t *testing.T, err error, want domain.RejectionKind) {
	t.Helper()
	require.Error(t, err)
	kind, ok := domain.RejectionKindOf(err)
	require.True(t, ok, "expected a rejection, got %v", err)
	assert.Equal(t, want, kind)
}

// lockedBuffer is a bytes.Buffer safe for the background usage goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newCart() *cart.Cart {
	n := 0
	return cart.New("cart-1",
		cart.WithIDGenerator(func() string { n++; return fmt.Sprintf("L%d", n) }),
		cart.WithClock(func() time.Time { return fixedNow }),
	)
}

func product(id, price string) *domain.Product {
	return &domain.Product{ID: id, UnitPrice: d(price), MinQuantity: 1, MaxQuantity: 10}
}

func percentRule(code, pct string) *domain.Rule {
	return &domain.Rule{ID: "rule-" + code, Code: code, Discount: domain.Percentage(d(pct)), StartDate: fixedNow.Add(-time.Hour)}
}

func bundleRule(code, amount string, products ...string) *domain.Rule {
	return &domain.Rule{
		ID: "rule-" + code, Code: code, Discount: domain.FixedAmount(d(amount)),
		StartDate: fixedNow.Add(-time.Hour), IsBundle: true, BundleProductIDs: products,
	}
}

type fixture struct {
	svc      *PricingService
	products *mockProducts
	rules    *mockRules
	metrics  *Metrics
	cart     *cart.Cart
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		products: new(mockProducts),
		rules:    new(mockRules),
		metrics:  NewMetrics(),
		cart:     newCart(),
	}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow }), WithMetrics(f.metrics)}, opts...)
	f.svc = NewPricingService(f.products, f.rules, logger.Discard(), opts...)
	return f
}

func (f *fixture) add(t *testing.T, p *domain.Product, qty int) domain.LineItem {
	t.Helper()
	f.products.On("GetProduct", mock.Anything, p.ID).Return(p, nil).Once()
	li, err := f.svc.AddItem(context.Background(), f.cart, p.ID, qty, decimal.Zero, nil)
	require.NoError(t, err)
	return li
}

// ============================================================================
// AddItem
// ============================================================================

func TestAddItem_Success(t *testing.T) {
	f := newFixture(t)

	li := f.add(t, product("P1", "100"), 2)

	assert.Equal(t, "P1", li.ProductID)
	assert.Equal(t, 2, li.Quantity)
	assertMoney(t, "200", f.svc.Summary(context.Background(), f.cart).Subtotal)
	f.products.AssertExpectations(t)
}

func TestAddItem_ProductNotFound(t *testing.T) {
	f := newFixture(t)
	f.products.On("GetProduct", mock.Anything, "P404").Return(nil, apperrors.NotFound("product", "P404"))

	_, err := f.svc.AddItem(context.Background(), f.cart, "P404", 1, decimal.Zero, nil)

	assertRejected(t, err, domain.RejectProductUnavailable)
	assert.Empty(t, f.cart.Snapshot().Items)
}

func TestAddItem_LookupFailureIsExternal(t *testing.T) {
	f := newFixture(t)
	f.products.On("GetProduct", mock.Anything, "P1").Return(nil, errors.New("connection refused"))

	_, err := f.svc.AddItem(context.Background(), f.cart, "P1", 1, decimal.Zero, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrExternal)
	assert.Empty(t, f.cart.Snapshot().Items)
}

func TestAddItem_InvalidQuantity(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddItem(context.Background(), f.cart, "P1", 0, decimal.Zero, nil)

	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	f.products.AssertNotCalled(t, "GetProduct", mock.Anything, mock.Anything)
}

func TestAddItem_StaleLookupDiscarded(t *testing.T) {
	f := newFixture(t)
	f.products.On("GetProduct", mock.Anything, "P1").
		Run(func(mock.Arguments) {
			// A mutation slipping past the lock while the lookup is in flight.
			_, _ = f.cart.AddItem(product("P9", "5"), 1, decimal.Zero, nil)
		}).
		Return(product("P1", "100"), nil)

	_, err := f.svc.AddItem(context.Background(), f.cart, "P1", 1, decimal.Zero, nil)

	assert.ErrorIs(t, err, domain.ErrStaleResult)
	assert.Len(t, f.cart.Snapshot().Items, 1)
}

func TestAddItem_SinkFailureDoesNotBlock(t *testing.T) {
	sink := new(mockSink)
	sink.On("SyncLineItems", mock.Anything, "cart-1", mock.Anything).Return(errors.New("redis down"))
	sink.On("SyncAppliedCoupon", mock.Anything, "cart-1", mock.Anything).Return(errors.New("redis down"))
	f := newFixture(t, WithSink(sink))

	li := f.add(t, product("P1", "100"), 1)

	assert.Equal(t, "P1", li.ProductID)
	assert.Len(t, f.cart.Snapshot().Items, 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.sinkFailures))
	sink.AssertExpectations(t)
}

func TestAddItem_SyncsItems(t *testing.T) {
	sink := new(mockSink)
	sink.On("SyncLineItems", mock.Anything, "cart-1", mock.MatchedBy(func(items []domain.LineItem) bool {
		return len(items) == 1 && items[0].ProductID == "P1"
	})).Return(nil).Once()
	sink.On("SyncAppliedCoupon", mock.Anything, "cart-1", (*domain.AppliedCoupon)(nil)).Return(nil).Once()
	f := newFixture(t, WithSink(sink))

	f.add(t, product("P1", "100"), 1)

	sink.AssertExpectations(t)
}

// ============================================================================
// Item mutations
// ============================================================================

func TestUpdateQuantity(t *testing.T) {
	f := newFixture(t)
	li := f.add(t, product("P1", "100"), 1)

	require.NoError(t, f.svc.UpdateQuantity(context.Background(), f.cart, li.ID, 3))

	got, ok := f.cart.Item(li.ID)
	require.True(t, ok)
	assert.Equal(t, 3, got.Quantity)
}

func TestUpdateQuantity_UnknownItem(t *testing.T) {
	f := newFixture(t)

	err := f.svc.UpdateQuantity(context.Background(), f.cart, "nope", 3)

	assertRejected(t, err, domain.RejectItemNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.mutations.WithLabelValues("update_quantity", "error")))
}

func TestRemoveItem(t *testing.T) {
	f := newFixture(t)
	li := f.add(t, product("P1", "100"), 1)

	require.NoError(t, f.svc.RemoveItem(context.Background(), f.cart, li.ID))

	assert.Empty(t, f.cart.Snapshot().Items)
	assertRejected(t, f.svc.RemoveItem(context.Background(), f.cart, li.ID), domain.RejectItemNotFound)
}

func TestClear_PublishesEvent(t *testing.T) {
	events := new(mockEvents)
	events.On("PublishCartCleared", mock.Anything, "cart-1").Return(errors.New("broker down"))
	f := newFixture(t, WithEvents(events))
	f.add(t, product("P1", "100"), 1)

	require.NoError(t, f.svc.Clear(context.Background(), f.cart))

	assert.Empty(t, f.cart.Snapshot().Items)
	events.AssertExpectations(t)
}

// ============================================================================
// ApplyCode
// ============================================================================

func TestApplyCode_PercentageCoupon(t *testing.T) {
	f := newFixture(t)
	f.add(t, product("P1", "100"), 2)
	f.rules.On("GetRuleByCode", mock.Anything, "SAVE10").Return(percentRule("SAVE10", "10"), nil)
	f.rules.On("RecordUsage", mock.Anything, "rule-SAVE10").Return(nil).Once()

	coupon, err := f.svc.ApplyCode(context.Background(), f.cart, " save10 ")
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, "SAVE10", coupon.Code)
	sum := f.svc.Summary(context.Background(), f.cart)
	assertMoney(t, "200", sum.Subtotal)
	assertMoney(t, "20", sum.Discount)
	assertMoney(t, "180", sum.Total)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.resolutions.WithLabelValues("applied")))
	f.rules.AssertExpectations(t)
}

func TestApplyCode_FixedBundleComplete(t *testing.T) {
	f := newFixture(t)
	p1 := f.add(t, product("P1", "100"), 1)
	p2 := f.add(t, product("P2", "300"), 1)
	f.rules.On("GetRuleByCode", mock.Anything, "DUO40").Return(bundleRule("DUO40", "40", "P1", "P2"), nil)
	f.rules.On("RecordUsage", mock.Anything, "rule-DUO40").Return(nil)

	_, err := f.svc.ApplyCode(context.Background(), f.cart, "DUO40")
	require.NoError(t, err)
	f.svc.Wait()

	got1, _ := f.cart.Item(p1.ID)
	got2, _ := f.cart.Item(p2.ID)
	require.NotNil(t, got1.Discount)
	require.NotNil(t, got2.Discount)
	assertMoney(t, "10", got1.Discount.SavingsPerUnit)
	assertMoney(t, "30", got2.Discount.SavingsPerUnit)
	assertMoney(t, "360", f.svc.Summary(context.Background(), f.cart).Total)
}

func TestApplyCode_BundleIncomplete(t *testing.T) {
	f := newFixture(t)
	f.add(t, product("P1", "100"), 1)
	rule := bundleRule("DUO40", "40", "P1", "P2")
	f.rules.On("GetRuleByCode", mock.Anything, "DUO40").Return(rule, nil)

	assert.False(t, bundle.IsComplete(rule.Offer(), f.cart.Snapshot().Items))

	_, err := f.svc.ApplyCode(context.Background(), f.cart, "DUO40")

	assertRejected(t, err, domain.RejectBundleIncomplete)
	assertMoney(t, "0", f.svc.Summary(context.Background(), f.cart).Discount)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.resolutions.WithLabelValues(string(domain.RejectBundleIncomplete))))
	f.rules.AssertNotCalled(t, "RecordUsage", mock.Anything, mock.Anything)
}

func TestApplyCode_ReapplyAfterAddingItem(t *testing.T) {
	f := newFixture(t)
	f.add(t, product("P1", "100"), 2)
	f.rules.On("GetRuleByCode", mock.Anything, "SAVE10").Return(percentRule("SAVE10", "10"), nil)
	f.rules.On("GetRuleByCode", mock.Anything, "OTHER5").Return(percentRule("OTHER5", "5"), nil)
	f.rules.On("RecordUsage", mock.Anything, "rule-SAVE10").Return(nil).Once()

	first, err := f.svc.ApplyCode(context.Background(), f.cart, "SAVE10")
	require.NoError(t, err)

	f.add(t, product("P2", "100"), 1)

	again, err := f.svc.ApplyCode(context.Background(), f.cart, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assertMoney(t, "30", f.svc.Summary(context.Background(), f.cart).Discount)

	_, err = f.svc.ApplyCode(context.Background(), f.cart, "OTHER5")
	assertRejected(t, err, domain.RejectConflictingDiscountPresent)
	assert.Equal(t, "SAVE10", f.cart.Snapshot().Coupon.Code)

	f.svc.Wait()
	f.rules.AssertNumberOfCalls(t, "RecordUsage", 1)
}

func TestApplyCode_UsageFailureIsWarning(t *testing.T) {
	var buf lockedBuffer
	f := newFixture(t)
	f.svc.logger = logger.NewWithWriter("pricing", "info", &buf)
	f.add(t, product("P1", "100"), 1)
	f.rules.On("GetRuleByCode", mock.Anything, "SAVE10").Return(percentRule("SAVE10", "10"), nil)
	f.rules.On("RecordUsage", mock.Anything, "rule-SAVE10").Return(errors.New("rpc timeout"))

	coupon, err := f.svc.ApplyCode(context.Background(), f.cart, "SAVE10")
	require.NoError(t, err)
	f.svc.Wait()

	assert.Equal(t, "SAVE10", coupon.Code)
	assert.NotNil(t, f.cart.Snapshot().Coupon, "usage failure never rolls back the coupon")
	out := buf.String()
	assert.Contains(t, out, "reconciliation warning")
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.usageFailures))
}

func TestApplyCode_LookupFailure(t *testing.T) {
	f := newFixture(t)
	f.add(t, product("P1", "100"), 1)
	f.rules.On("GetRuleByCode", mock.Anything, "SAVE10").Return(nil, errors.New("dial tcp: refused"))

	_, err := f.svc.ApplyCode(context.Background(), f.cart, "SAVE10")

	assert.ErrorIs(t, err, apperrors.ErrExternal)
	assert.Nil(t, f.cart.Snapshot().Coupon)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.resolutions.WithLabelValues("external_failure")))
}

func TestApplyCode_CancelDiscardsLateResult(t *testing.T) {
	f := newFixture(t)
	f.add(t, product("P1", "100"), 1)

	started := make(chan struct{})
	release := make(chan struct{})
	f.rules.On("GetRuleByCode", mock.Anything, "SAVE10").
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(percentRule("SAVE10", "10"), nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := f.svc.ApplyCode(ctx, f.cart, "SAVE10")
		errCh <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	lockCtx, lockCancel := context.WithTimeout(context.Background(), time.Second)
	defer lockCancel()
	require.NoError(t, f.cart.Lock(lockCtx), "lock must be released after cancellation")
	f.cart.Unlock()

	close(release)
	f.svc.Wait()

	assert.Nil(t, f.cart.Snapshot().Coupon)
	f.rules.AssertNotCalled(t, "RecordUsage", mock.Anything, mock.Anything)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.resolutions.WithLabelValues("canceled")))
}

func TestApplyCode_StaleResultDiscarded(t *testing.T) {
	f := newFixture(t)
	f.add(t, product("P1", "100"), 1)
	f.rules.On("GetRuleByCode", mock.Anything, "SAVE10").
		Run(func(mock.Arguments) {
			_, _ = f.cart.AddItem(product("P2", "50"), 1, decimal.Zero, nil)
		}).
		Return(percentRule("SAVE10", "10"), nil)

	_, err := f.svc.ApplyCode(context.Background(), f.cart, "SAVE10")

	assert.ErrorIs(t, err, domain.ErrStaleResult)
	assert.Nil(t, f.cart.Snapshot().Coupon)
	f.rules.AssertNotCalled(t, "RecordUsage", mock.Anything, mock.Anything)
}

func TestApplyCode_PublishesEvent(t *testing.T) {
	events := new(mockEvents)
	events.On("PublishCouponApplied", mock.Anything, "cart-1", mock.AnythingOfType("*domain.AppliedCoupon"), true).
		Return(errors.New("broker down")).Once()
	f := newFixture(t, WithEvents(events))
	f.add(t, product("P1", "100"), 1)
	f.rules.On("GetRuleByCode", mock.Anything, "SAVE10").Return(percentRule("SAVE10", "10"), nil)
	f.rules.On("RecordUsage", mock.Anything, "rule-SAVE10").Return(nil)

	_, err := f.svc.ApplyCode(context.Background(), f.cart, "SAVE10")
	require.NoError(t, err, "publish failures are logged only")
	f.svc.Wait()

	events.AssertExpectations(t)
}

func TestApplyCode_Serialized(t *testing.T) {
	f := newFixture(t)
	f.add(t, product("P1", "100"), 1)
	f.rules.On("GetRuleByCode", mock.Anything, "SAVE10").Return(percentRule("SAVE10", "10"), nil)
	f.rules.On("RecordUsage", mock.Anything, "rule-SAVE10").Return(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ApplyCode(context.Background(), f.cart, "SAVE10")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	f.svc.Wait()

	f.rules.AssertNumberOfCalls(t, "RecordUsage", 1)
	assertMoney(t, "10", f.svc.Summary(context.Background(), f.cart).Discount)
}

// ============================================================================
// RemoveCode / ResetDiscounts
// ============================================================================

func TestRemoveCode(t *testing.T) {
	events := new(mockEvents)
	events.On("PublishCouponApplied", mock.Anything, "cart-1", mock.Anything, true).Return(nil)
	events.On("PublishCouponRemoved", mock.Anything, "cart-1", mock.MatchedBy(func(c *domain.AppliedCoupon) bool {
		return c.Code == "SAVE10"
	})).Return(nil).Once()
	f := newFixture(t, WithEvents(events))
	f.add(t, product("P1", "100"), 1)
	f.rules.On("GetRuleByCode", mock.Anything, "SAVE10").Return(percentRule("SAVE10", "10"), nil)
	f.rules.On("RecordUsage", mock.Anything, "rule-SAVE10").Return(nil)
	_, err := f.svc.ApplyCode(context.Background(), f.cart, "SAVE10")
	require.NoError(t, err)

	require.NoError(t, f.svc.RemoveCode(context.Background(), f.cart))
	require.NoError(t, f.svc.RemoveCode(context.Background(), f.cart), "removing twice is a no-op")
	f.svc.Wait()

	assert.Nil(t, f.cart.Snapshot().Coupon)
	assertMoney(t, "0", f.svc.Summary(context.Background(), f.cart).Discount)
	events.AssertExpectations(t)
}

func TestResetDiscounts(t *testing.T) {
	f := newFixture(t)
	f.add(t, product("P1", "100"), 2)
	f.rules.On("GetRuleByCode", mock.Anything, "SAVE10").Return(percentRule("SAVE10", "10"), nil)
	f.rules.On("RecordUsage", mock.Anything, "rule-SAVE10").Return(nil)
	_, err := f.svc.ApplyCode(context.Background(), f.cart, "SAVE10")
	require.NoError(t, err)

	require.NoError(t, f.svc.ResetDiscounts(context.Background(), f.cart))
	f.svc.Wait()

	sum := f.svc.Summary(context.Background(), f.cart)
	assertMoney(t, "200", sum.Total)
	assertMoney(t, "0", sum.Discount)
}

func TestClose_WaitsForBackgroundWork(t *testing.T) {
	f := newFixture(t)
	f.add(t, product("P1", "100"), 1)
	f.rules.On("GetRuleByCode", mock.Anything, "SAVE10").Return(percentRule("SAVE10", "10"), nil)
	f.rules.On("RecordUsage", mock.Anything, "rule-SAVE10").After(20 * time.Millisecond).Return(nil)

	_, err := f.svc.ApplyCode(context.Background(), f.cart, "SAVE10")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Close(ctx))
	f.rules.AssertExpectations(t)
}

func TestClose_RefusesNewLookups(t *testing.T) {
	f := newFixture(t)
	f.add(t, product("P1", "100"), 1)
	gen := f.cart.Generation()

	require.NoError(t, f.svc.Close(context.Background()))

	_, err := f.svc.AddItem(context.Background(), f.cart, "P2", 1, decimal.Zero, nil)
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.HTTPStatus(err))

	_, err = f.svc.ApplyCode(context.Background(), f.cart, "SAVE10")
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)

	assert.Equal(t, gen, f.cart.Generation(), "cart untouched")
	f.products.AssertNotCalled(t, "GetProduct", mock.Anything, "P2")
	f.rules.AssertNotCalled(t, "GetRuleByCode", mock.Anything, mock.Anything)
}
