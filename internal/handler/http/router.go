package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/solarshop412/solar-shop-sub003/pkg/health"
	"github.com/solarshop412/solar-shop-sub003/pkg/middleware"
)

// RouterConfig carries the pieces NewRouter mounts besides the pricing API.
type RouterConfig struct {
	Health         *health.Handler
	Metrics        http.Handler
	CORS           middleware.CORSConfig
	RateLimit      middleware.RateLimitConfig
	RequestTimeout time.Duration
}

// NewRouter creates a chi router with all pricing routes registered.
func NewRouter(h *PricingHandler, cfg RouterConfig, logger *slog.Logger) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(cfg.RequestTimeout))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("pricing"))
	r.Use(middleware.Tracing())
	r.Use(middleware.RequestLogger(logger))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.LivenessHandler())
		r.Get("/health/ready", cfg.Health.ReadinessHandler())
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api/v1/carts/{cartID}", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimit, logger))
		r.Use(ContentTypeJSON)
		mountCartRoutes(r, h)
	})

	return r
}

func mountCartRoutes(r chi.Router, h *PricingHandler) {
	r.Get("/", h.GetCart)
	r.Delete("/", h.DropCart)
	r.Get("/summary", h.GetSummary)

	r.Post("/items", h.AddItem)
	r.Delete("/items", h.ClearItems)
	r.Patch("/items/{itemID}", h.UpdateQuantity)
	r.Delete("/items/{itemID}", h.RemoveItem)

	r.Post("/coupon", h.ApplyCode)
	r.Delete("/coupon", h.RemoveCode)
	r.Post("/discounts/reset", h.ResetDiscounts)
}
