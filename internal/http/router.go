package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ovasilenko/coin-auctions/internal/auth"
	"github.com/ovasilenko/coin-auctions/internal/observability"
	"github.com/ovasilenko/coin-auctions/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, verifier *auth.Verifier, rl *rateLimit.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier))
		r.Use(RateLimitMiddleware(rl))

		r.Get("/v1/auctions", h.ListAuctions)
		r.Get("/v1/auctions/{id}", h.GetAuction)
		r.Get("/v1/auctions/{id}/bids", h.ListBids)
		r.Get("/v1/auctions/{id}/stream", h.StreamAuction)

		r.Group(func(r chi.Router) {
			r.Use(IdempotencyMiddleware())
			r.Post("/v1/auctions/{id}/bids", h.PlaceBid)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Post("/v1/auctions", h.CreateAuction)
			r.Patch("/v1/auctions/{id}", h.UpdateAuction)
			r.Post("/v1/auctions/{id}/status", h.SetStatus)
			r.Delete("/v1/auctions/{id}", h.DeleteAuction)
			r.Post("/v1/admin/reset", h.Reset)
		})
	})

	return r
}
