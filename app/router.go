package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"flowers-serverless/internal/auth"
	"flowers-serverless/internal/observability"
)

func newRouter(c components) http.Handler {
	r := chi.NewRouter()
	r.Use(observability.RequestIDMiddleware)
	r.Use(func(next http.Handler) http.Handler { return observability.RecoverMiddleware(c.logger, next) })
	r.Use(func(next http.Handler) http.Handler { return observability.RequestLoggingMiddleware(c.logger, next) })
	r.Use(c.metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: c.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", observability.RequestIDHeader},
		ExposedHeaders: []string{"Retry-After", observability.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", healthHandler(map[string]probe{
		"database": c.database.PingContext,
		"store":    c.store.Ping,
	}))
	r.Method(http.MethodGet, "/metrics", c.metrics.Handler(c.cfg.MetricsToken))

	r.Route("/auth", func(r chi.Router) {
		r.With(c.limiter.Middleware).Post("/request-otp", c.auth.RequestOTP)
		r.With(c.limiter.Middleware).Post("/verify-otp", c.auth.VerifyOTP)
		r.With(c.admin.RequireKey).Get("/otp-status", c.auth.OTPStatus)
	})

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler { return auth.Middleware(c.validator, next) })
		r.Get("/shop/me", c.auth.Me)
		r.Patch("/shop/me", c.auth.UpdateMe)
	})

	r.Post("/telegram/webhook", c.webhook.Handle)

	r.Route("/admin", func(r chi.Router) {
		r.Use(c.admin.RequireKey)
		r.Get("/shops/{id}", c.admin.GetShop)
		r.Patch("/shops/{id}/status", c.admin.SetShopStatus)
	})

	r.Get("/internal/maintenance/cleanup", c.cleanup.Handle)
	r.Post("/internal/maintenance/cleanup", c.cleanup.Handle)

	return r
}
