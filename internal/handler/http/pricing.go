package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/solarshop412/solar-shop-sub003/internal/cart"
	"github.com/solarshop412/solar-shop-sub003/internal/domain"
	"github.com/solarshop412/solar-shop-sub003/internal/pricing"
	"github.com/solarshop412/solar-shop-sub003/internal/service"
	apperrors "github.com/solarshop412/solar-shop-sub003/pkg/errors"
	"github.com/solarshop412/solar-shop-sub003/pkg/httputil"
	"github.com/solarshop412/solar-shop-sub003/pkg/validator"
)

const maxCartIDLength = 128

// PricingHandler handles HTTP requests for cart pricing endpoints.
type PricingHandler struct {
	service  *service.PricingService
	registry *CartRegistry
	logger   *slog.Logger
}

// NewPricingHandler creates a new pricing HTTP handler.
func NewPricingHandler(svc *service.PricingService, registry *CartRegistry, logger *slog.Logger) *PricingHandler {
	return &PricingHandler{service: svc, registry: registry, logger: logger}
}

// --- Request DTOs ---

// DiscountContextRequest attaches an externally granted discount to added units.
type DiscountContextRequest struct {
	Code      string `json:"code" validate:"required,discount_code"`
	Kind      string `json:"kind" validate:"required,oneof=percentage fixed_amount"`
	Magnitude string `json:"magnitude" validate:"required,money"`
}

// AddItemRequest is the JSON request body for adding an item to a cart.
type AddItemRequest struct {
	ProductID string                  `json:"product_id" validate:"required,max=128"`
	Quantity  int                     `json:"quantity" validate:"required,gte=1"`
	UnitPrice string                  `json:"unit_price" validate:"money"`
	Discount  *DiscountContextRequest `json:"discount"`
}

// UpdateQuantityRequest is the JSON request body for updating a line quantity.
type UpdateQuantityRequest struct {
	Quantity int `json:"quantity" validate:"gte=0"`
}

// ApplyCodeRequest is the JSON request body for applying a discount code.
type ApplyCodeRequest struct {
	Code string `json:"code" validate:"required,discount_code"`
}

// --- Response DTOs ---

// CartResponse is the priced view of a cart.
type CartResponse struct {
	ID      string                `json:"id"`
	Items   []pricing.PricedLine  `json:"items"`
	Coupon  *domain.AppliedCoupon `json:"coupon,omitempty"`
	Summary domain.CartSummary    `json:"summary"`
}

// --- Handlers ---

// GetCart handles GET /api/v1/carts/{cartID}
func (h *PricingHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cart(w, r)
	if !ok {
		return
	}
	h.writeCart(w, http.StatusOK, c)
}

// GetSummary handles GET /api/v1/carts/{cartID}/summary
func (h *PricingHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cart(w, r)
	if !ok {
		return
	}
	httputil.WriteData(w, http.StatusOK, h.service.Summary(r.Context(), c))
}

// AddItem handles POST /api/v1/carts/{cartID}/items
func (h *PricingHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cart(w, r)
	if !ok {
		return
	}

	var req AddItemRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	unitPrice := decimal.Zero
	if s := strings.TrimSpace(req.UnitPrice); s != "" {
		// Validated by the money tag.
		unitPrice, _ = domain.ParseMoney(s)
	}
	var dctx *domain.DiscountRecord
	if req.Discount != nil {
		magnitude, _ := domain.ParseMoney(req.Discount.Magnitude)
		dctx = &domain.DiscountRecord{
			SourceCode: req.Discount.Code,
			Kind:       domain.Kind(req.Discount.Kind),
			Magnitude:  magnitude,
		}
	}

	if _, err := h.service.AddItem(r.Context(), c, req.ProductID, req.Quantity, unitPrice, dctx); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.writeCart(w, http.StatusCreated, c)
}

// UpdateQuantity handles PATCH /api/v1/carts/{cartID}/items/{itemID}
func (h *PricingHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cart(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	if err := h.service.UpdateQuantity(r.Context(), c, chi.URLParam(r, "itemID"), req.Quantity); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.writeCart(w, http.StatusOK, c)
}

// RemoveItem handles DELETE /api/v1/carts/{cartID}/items/{itemID}
func (h *PricingHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cart(w, r)
	if !ok {
		return
	}

	if err := h.service.RemoveItem(r.Context(), c, chi.URLParam(r, "itemID")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.writeCart(w, http.StatusOK, c)
}

// ClearItems handles DELETE /api/v1/carts/{cartID}/items
func (h *PricingHandler) ClearItems(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cart(w, r)
	if !ok {
		return
	}

	if err := h.service.Clear(r.Context(), c); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.writeCart(w, http.StatusOK, c)
}

// ApplyCode handles POST /api/v1/carts/{cartID}/coupon
func (h *PricingHandler) ApplyCode(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cart(w, r)
	if !ok {
		return
	}

	var req ApplyCodeRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	if _, err := h.service.ApplyCode(r.Context(), c, req.Code); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.writeCart(w, http.StatusOK, c)
}

// RemoveCode handles DELETE /api/v1/carts/{cartID}/coupon
func (h *PricingHandler) RemoveCode(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cart(w, r)
	if !ok {
		return
	}

	if err := h.service.RemoveCode(r.Context(), c); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.writeCart(w, http.StatusOK, c)
}

// ResetDiscounts handles POST /api/v1/carts/{cartID}/discounts/reset
func (h *PricingHandler) ResetDiscounts(w http.ResponseWriter, r *http.Request) {
	c, ok := h.cart(w, r)
	if !ok {
		return
	}

	if err := h.service.ResetDiscounts(r.Context(), c); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.writeCart(w, http.StatusOK, c)
}

// DropCart handles DELETE /api/v1/carts/{cartID}
func (h *PricingHandler) DropCart(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cartID(w, r)
	if !ok {
		return
	}

	if err := h.registry.Drop(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func (h *PricingHandler) cartID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "cartID"))
	if id == "" || len(id) > maxCartIDLength {
		httputil.WriteError(w, r, apperrors.InvalidInput("cart id must be 1-128 characters"), h.logger)
		return "", false
	}
	return id, true
}

func (h *PricingHandler) cart(w http.ResponseWriter, r *http.Request) (*cart.Cart, bool) {
	id, ok := h.cartID(w, r)
	if !ok {
		return nil, false
	}
	return h.registry.Get(r.Context(), id), true
}

func (h *PricingHandler) writeCart(w http.ResponseWriter, status int, c *cart.Cart) {
	// Items and summary come from one snapshot.
	snap := c.Snapshot()
	httputil.WriteData(w, status, CartResponse{
		ID:      snap.CartID,
		Items:   pricing.Lines(snap.Items),
		Coupon:  snap.Coupon,
		Summary: pricing.Reconcile(snap.Items, snap.Coupon),
	})
}
