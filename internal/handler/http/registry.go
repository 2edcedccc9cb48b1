package http

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/solarshop412/solar-shop-sub003/internal/cart"
	"github.com/solarshop412/solar-shop-sub003/internal/repository"
	apperrors "github.com/solarshop412/solar-shop-sub003/pkg/errors"
)

// CartRegistry binds cart IDs to in-process cart handles. Idle carts are
// evicted by Sweep; a store, when set, lets an evicted cart resume with its
// mirrored line items.
type CartRegistry struct {
	mu    sync.Mutex
	carts map[string]*registryEntry

	store   repository.Store
	idle    time.Duration
	now     func() time.Time
	newCart func(id string) *cart.Cart
	logger  *slog.Logger
}

type registryEntry struct {
	cart     *cart.Cart
	lastSeen time.Time
}

// RegistryOption configures a CartRegistry.
type RegistryOption func(*CartRegistry)

// WithStore restores carts from the mirror on first use.
func WithStore(s repository.Store) RegistryOption {
	return func(r *CartRegistry) { r.store = s }
}

// WithCartFactory overrides how new carts are built.
func WithCartFactory(fn func(id string) *cart.Cart) RegistryOption {
	return func(r *CartRegistry) { r.newCart = fn }
}

// WithRegistryClock overrides the registry's time source.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *CartRegistry) { r.now = now }
}

// NewCartRegistry creates a registry that evicts carts idle for longer than idle.
func NewCartRegistry(idle time.Duration, logger *slog.Logger, opts ...RegistryOption) *CartRegistry {
	r := &CartRegistry{
		carts:   make(map[string]*registryEntry),
		idle:    idle,
		now:     time.Now,
		newCart: func(id string) *cart.Cart { return cart.New(id) },
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the cart bound to id, creating it when absent.
func (r *CartRegistry) Get(ctx context.Context, id string) *cart.Cart {
	if c, ok := r.touch(id); ok {
		return c
	}

	c := r.newCart(id)
	r.restore(ctx, c)

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another request may have created it while we were loading.
	if e, ok := r.carts[id]; ok {
		e.lastSeen = r.now()
		return e.cart
	}
	r.carts[id] = &registryEntry{cart: c, lastSeen: r.now()}
	return c
}

func (r *CartRegistry) touch(id string) (*cart.Cart, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.carts[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = r.now()
	return e.cart, true
}

func (r *CartRegistry) restore(ctx context.Context, c *cart.Cart) {
	if r.store == nil {
		return
	}
	stored, err := r.store.Load(ctx, c.ID())
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return
	case err != nil:
		r.logger.WarnContext(ctx, "failed to restore cart", slog.String("cart_id", c.ID()), slog.String("error", err.Error()))
		return
	}

	code := ""
	if stored.Coupon != nil {
		code = stored.Coupon.Code
	}
	c.Restore(stored.Items, code)
	r.logger.InfoContext(ctx, "cart restored",
		slog.String("cart_id", c.ID()),
		slog.Int("items", len(stored.Items)),
		slog.String("dropped_coupon", code),
	)
}

// Drop forgets the cart and its mirror.
func (r *CartRegistry) Drop(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.carts, id)
	r.mu.Unlock()

	if r.store == nil {
		return nil
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return apperrors.ExternalFailure(err)
	}
	return nil
}

// Len returns the number of live carts.
func (r *CartRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.carts)
}

// Sweep evicts idle carts and returns how many were removed. The mirror is
// kept so the cart can resume later.
func (r *CartRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idle)
	n := 0
	for id, e := range r.carts {
		if e.lastSeen.Before(cutoff) {
			delete(r.carts, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (r *CartRegistry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.DebugContext(ctx, "evicted idle carts", slog.Int("count", n))
			}
		}
	}
}
