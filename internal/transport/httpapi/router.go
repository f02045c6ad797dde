package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const defaultRequestTimeout = 15 * time.Second

// RouterOptions: дополнительные маршруты, которые монтирует приложение.
type RouterOptions struct {
	RequestTimeout time.Duration
	Health         http.Handler
	Liveness       http.HandlerFunc
	Readiness      http.HandlerFunc
}

// NewRouter собирает chi.Mux со всеми маршрутами API.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Timeout(timeout))

	if opts.Health != nil {
		r.Method(http.MethodGet, "/healthz", opts.Health)
	}
	if opts.Liveness != nil {
		r.Get("/livez", opts.Liveness)
	}
	if opts.Readiness != nil {
		r.Get("/readyz", opts.Readiness)
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(requireUser(h.logger))
			r.Post("/cart/add", h.addToCart)
			r.Get("/cart", h.getCart)
			r.Post("/checkout", h.checkoutCart)
		})

		r.Get("/admin/stats", h.adminStats)
		r.Get("/admin/discount/eligibility", h.discountEligibility)
	})

	return r
}
