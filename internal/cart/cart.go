// Package cart holds the authoritative state of one shopping cart: its line
// items and the single applied-coupon slot.
//
// Every mutation bumps the cart's generation. Callers that perform I/O before
// committing (see the service package) hold the cart lock for the whole
// operation and compare generations before committing.
package cart

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/solarshop412/solar-shop-sub003/internal/bundle"
	"github.com/solarshop412/solar-shop-sub003/internal/discount"
	"github.com/solarshop412/solar-shop-sub003/internal/domain"
	"github.com/solarshop412/solar-shop-sub003/internal/pricing"
	apperrors "github.com/solarshop412/solar-shop-sub003/pkg/errors"
)

// Cart is a single shopping cart. The zero value is not usable; call New.
type Cart struct {
	id  string
	sem *semaphore.Weighted

	mu         sync.RWMutex
	items      []domain.LineItem
	coupon     *domain.AppliedCoupon
	generation uint64

	newID func() string
	now   func() time.Time
}

// Option configures a Cart.
type Option func(*Cart)

// WithIDGenerator overrides how line item IDs are generated.
func WithIDGenerator(fn func() string) Option {
	return func(c *Cart) { c.newID = fn }
}

// WithClock overrides the cart's time source.
func WithClock(fn func() time.Time) Option {
	return func(c *Cart) { c.now = fn }
}

// New creates an empty cart.
func New(id string, opts ...Option) *Cart {
	c := &Cart{
		id:    id,
		sem:   semaphore.NewWeighted(1),
		newID: func() string { return uuid.New().String() },
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the cart ID.
func (c *Cart) ID() string { return c.id }

// Lock acquires the cart's mutation lock, queuing behind any in-flight
// mutation. It returns ctx.Err() if ctx ends first.
func (c *Cart) Lock(ctx context.Context) error {
	return c.sem.Acquire(ctx, 1)
}

// Unlock releases the mutation lock.
func (c *Cart) Unlock() {
	c.sem.Release(1)
}

// Generation returns the mutation counter.
func (c *Cart) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Snapshot returns a deep copy of the cart state.
func (c *Cart) Snapshot() domain.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Cart) snapshotLocked() domain.Snapshot {
	items := make([]domain.LineItem, len(c.items))
	for i, it := range c.items {
		items[i] = it.Clone()
	}
	return domain.Snapshot{
		CartID:     c.id,
		Generation: c.generation,
		Items:      items,
		Coupon:     c.coupon.Clone(),
	}
}

// Summary reconciles the current state. It is recomputed on every call.
func (c *Cart) Summary() domain.CartSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return pricing.Reconcile(c.items, c.coupon)
}

// Item returns a copy of the line item with the given ID.
func (c *Cart) Item(itemID string) (domain.LineItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.indexOf(itemID); i >= 0 {
		return c.items[i].Clone(), true
	}
	return domain.LineItem{}, false
}

// AddItem adds quantity units of product, merging into an existing line with
// the same product and discount source. A zero unitPrice means the product's
// catalog price. dctx optionally attaches a discount to the added units.
func (c *Cart) AddItem(product *domain.Product, quantity int, unitPrice decimal.Decimal, dctx *domain.DiscountRecord) (domain.LineItem, error) {
	if product == nil {
		return domain.LineItem{}, domain.Reject(domain.RejectProductUnavailable, "product not found")
	}
	minQty, maxQty, ok := bounds(product)
	if !ok {
		return domain.LineItem{}, domain.Reject(domain.RejectProductUnavailable, "product %s is out of stock", product.ID)
	}
	if unitPrice.IsZero() {
		unitPrice = product.UnitPrice
	}
	if unitPrice.IsNegative() {
		return domain.LineItem{}, apperrors.InvalidInput("unit price must not be negative")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	record, err := c.contextRecord(dctx, unitPrice)
	if err != nil {
		return domain.LineItem{}, err
	}
	source := ""
	if record != nil {
		source = record.SourceCode
	}

	var added domain.LineItem
	if i := c.indexOfMerge(product.ID, source); i >= 0 {
		it := &c.items[i]
		it.MinQuantity, it.MaxQuantity = minQty, maxQty
		it.Quantity = clamp(it.Quantity+quantity, minQty, maxQty)
		added = it.Clone()
	} else {
		it := domain.LineItem{
			ID:          c.newID(),
			ProductID:   product.ID,
			Categories:  append([]string(nil), product.Categories...),
			UnitPrice:   unitPrice,
			Quantity:    clamp(quantity, minQty, maxQty),
			MinQuantity: minQty,
			MaxQuantity: maxQty,
			Discount:    record,
		}
		c.items = append(c.items, it)
		added = it.Clone()
	}

	c.itemsChangedLocked()
	return added, nil
}

// contextRecord validates a discount context passed to AddItem against the
// cart's single discount source.
func (c *Cart) contextRecord(dctx *domain.DiscountRecord, unitPrice decimal.Decimal) (*domain.DiscountRecord, error) {
	if dctx == nil || dctx.SourceCode == "" {
		return nil, nil
	}
	code := discount.NormalizeCode(dctx.SourceCode)
	d, err := domain.NewDiscount(string(dctx.Kind), dctx.Magnitude)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	if active := c.sourceLocked(); active != "" && active != code {
		return nil, domain.Reject(domain.RejectConflictingDiscountPresent,
			"cart already carries discount %s", active)
	}
	// An aggregate coupon already covers the line; a record would shadow it.
	if c.coupon != nil && c.coupon.Mode == domain.ModeAggregate {
		return nil, nil
	}
	return &domain.DiscountRecord{
		SourceCode:     code,
		Kind:           d.Kind(),
		Magnitude:      d.Value(),
		SavingsPerUnit: d.SavingsPerUnit(unitPrice),
	}, nil
}

// UpdateQuantity sets a line's quantity, clamped to its bounds. A quantity of
// zero or less removes the line.
func (c *Cart) UpdateQuantity(itemID string, quantity int) error {
	if quantity <= 0 {
		return c.RemoveItem(itemID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(itemID)
	if i < 0 {
		return domain.Reject(domain.RejectItemNotFound, "item %s not in cart", itemID)
	}
	it := &c.items[i]
	it.Quantity = clamp(quantity, it.MinQuantity, it.MaxQuantity)

	c.itemsChangedLocked()
	return nil
}

// RemoveItem deletes a line. Removing the last line also drops the coupon.
func (c *Cart) RemoveItem(itemID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.indexOf(itemID)
	if i < 0 {
		return domain.Reject(domain.RejectItemNotFound, "item %s not in cart", itemID)
	}
	c.items = append(c.items[:i], c.items[i+1:]...)

	c.itemsChangedLocked()
	return nil
}

// Clear removes every line and the coupon.
func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = nil
	c.coupon = nil
	c.generation++
}

// Restore replaces the line items with mirrored ones. Records produced by
// couponCode are dropped since the coupon's rule is not mirrored; the code
// has to be applied again.
func (c *Cart) Restore(items []domain.LineItem, couponCode string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make([]domain.LineItem, 0, len(items))
	for _, it := range items {
		it = it.Clone()
		if couponCode != "" && it.SourceCode() == couponCode {
			it.Discount = nil
		}
		c.items = append(c.items, it)
	}
	c.coupon = nil
	c.generation++
}

// ResetDiscounts drops every item record and the coupon, leaving
// subtotal-only pricing.
func (c *Cart) ResetDiscounts() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()
	c.generation++
}

func (c *Cart) resetLocked() {
	for i := range c.items {
		c.items[i].Discount = nil
	}
	c.coupon = nil
}

// ApplyPlan resets discounts and attaches plan. Plan entries for lines that
// no longer exist are skipped. It reports whether the code was not already
// applied before this call.
func (c *Cart) ApplyPlan(plan *domain.DiscountPlan) (applied *domain.AppliedCoupon, first bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) == 0 {
		return nil, false, domain.Reject(domain.RejectNotApplicableToCart, "cart is empty")
	}

	prev := c.coupon
	c.resetLocked()

	coupon := plan.Coupon
	if prev != nil && prev.Code == coupon.Code {
		coupon.ID = prev.ID
		coupon.AppliedAt = prev.AppliedAt
	}
	if coupon.ID == "" {
		coupon.ID = uuid.New().String()
	}

	if plan.PerItem() {
		for _, s := range plan.Items {
			c.attachLocked(coupon.Code, s, coupon.Mode == domain.ModeBundle)
		}
		coupon.DiscountAmount = c.recordTotalLocked(coupon.Code)
	}

	c.coupon = &coupon
	c.generation++
	return coupon.Clone(), prev == nil || prev.Code != coupon.Code, nil
}

// RemoveCoupon drops the coupon and every record it produced. It returns the
// removed coupon, or nil when none was applied.
func (c *Cart) RemoveCoupon() *domain.AppliedCoupon {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.coupon == nil {
		return nil
	}
	removed := c.coupon
	c.clearRecordsLocked(removed.Code, false)
	c.coupon = nil
	c.generation++
	return removed
}

// itemsChangedLocked re-evaluates the coupon after the item set changed and
// bumps the generation. It never performs I/O: the coupon carries its rule.
func (c *Cart) itemsChangedLocked() {
	defer func() { c.generation++ }()

	if len(c.items) == 0 {
		c.coupon = nil
		return
	}
	if c.coupon == nil || c.coupon.Rule == nil {
		return
	}

	rule := c.coupon.Rule
	switch c.coupon.Mode {
	case domain.ModeBundle:
		c.clearRecordsLocked(c.coupon.Code, true)
		c.coupon.DiscountAmount = decimal.Zero
		if bundle.Evaluate(rule.Offer(), c.items) == bundle.StateIncomplete {
			return
		}
		plan, err := discount.Compute(rule, c.items, c.now())
		if err != nil {
			return
		}
		for _, s := range plan.Items {
			c.attachLocked(c.coupon.Code, s, true)
		}
		c.coupon.DiscountAmount = c.recordTotalLocked(c.coupon.Code)

	case domain.ModeAggregate:
		// Dormant while the subtotal is outside the code's order range.
		if !discount.InOrderRange(rule, domain.Snapshot{Items: c.items}.Subtotal()) {
			c.coupon.DiscountAmount = decimal.Zero
			return
		}
		c.coupon.DiscountAmount = discount.AggregateAmount(rule, c.items)

	case domain.ModePerItem:
		c.recapLocked(rule)
	}
}

// recapLocked recomputes per-item savings of the coupon's surviving records
// from their magnitude and re-applies the cap for the current quantities.
func (c *Cart) recapLocked(rule *domain.Rule) {
	code := c.coupon.Code
	var savings []domain.ItemSavings
	for _, it := range c.items {
		if it.SourceCode() != code {
			continue
		}
		d, err := domain.NewDiscount(string(it.Discount.Kind), it.Discount.Magnitude)
		if err != nil {
			continue
		}
		savings = append(savings, domain.ItemSavings{
			LineItemID:     it.ID,
			Kind:           d.Kind(),
			Magnitude:      d.Value(),
			SavingsPerUnit: d.SavingsPerUnit(it.UnitPrice),
		})
	}
	for _, s := range discount.CapItemSavings(rule, c.items, savings) {
		if i := c.indexOf(s.LineItemID); i >= 0 {
			c.items[i].Discount.SavingsPerUnit = s.SavingsPerUnit
		}
	}
	c.coupon.DiscountAmount = c.recordTotalLocked(code)
}

func (c *Cart) attachLocked(code string, s domain.ItemSavings, isBundle bool) {
	i := c.indexOf(s.LineItemID)
	if i < 0 {
		return
	}
	it := &c.items[i]
	it.Discount = &domain.DiscountRecord{
		SourceCode:     code,
		Kind:           s.Kind,
		Magnitude:      s.Magnitude,
		SavingsPerUnit: domain.ClampMoney(s.SavingsPerUnit, it.UnitPrice),
		Bundle:         isBundle,
	}
}

func (c *Cart) clearRecordsLocked(code string, bundleOnly bool) {
	for i := range c.items {
		rec := c.items[i].Discount
		if rec == nil || rec.SourceCode != code {
			continue
		}
		if bundleOnly && !rec.Bundle {
			continue
		}
		c.items[i].Discount = nil
	}
}

func (c *Cart) recordTotalLocked(code string) decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.items {
		if it.SourceCode() == code {
			total = total.Add(it.Discount.SavingsPerUnit.Mul(decimal.NewFromInt(int64(it.Quantity))))
		}
	}
	return domain.RoundMoney(total)
}

// sourceLocked returns the discount source currently active in the cart.
func (c *Cart) sourceLocked() string {
	if c.coupon != nil {
		return c.coupon.Code
	}
	for _, it := range c.items {
		if src := it.SourceCode(); src != "" {
			return src
		}
	}
	return ""
}

func (c *Cart) indexOf(itemID string) int {
	for i := range c.items {
		if c.items[i].ID == itemID {
			return i
		}
	}
	return -1
}

func (c *Cart) indexOfMerge(productID, source string) int {
	for i := range c.items {
		if c.items[i].ProductID == productID && c.items[i].SourceCode() == source {
			return i
		}
	}
	return -1
}

// bounds returns the quantity bounds for product. ok is false when the
// product cannot be bought at its minimum quantity.
func bounds(p *domain.Product) (minQty, maxQty int, ok bool) {
	minQty = max(p.MinQuantity, 1)
	maxQty = p.MaxQuantity
	if p.AvailableQuantity != nil {
		avail := *p.AvailableQuantity
		if avail < minQty {
			return 0, 0, false
		}
		if maxQty <= 0 || avail < maxQty {
			maxQty = avail
		}
	}
	if maxQty > 0 && maxQty < minQty {
		maxQty = minQty
	}
	return minQty, maxQty, true
}

// clamp bounds qty to [minQty, maxQty]; maxQty <= 0 means unbounded.
func clamp(qty, minQty, maxQty int) int {
	if qty < minQty {
		qty = minQty
	}
	if maxQty > 0 && qty > maxQty {
		qty = maxQty
	}
	return qty
}
