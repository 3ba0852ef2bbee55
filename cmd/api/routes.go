package main

import (
	"net/http"
	"time"

	"github.com/Mekazstan/paygate/internal/metrics"
	"github.com/Mekazstan/paygate/internal/payment"
	"github.com/Mekazstan/paygate/internal/ratelimit"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

type apiConfig struct {
	payments  *payment.Manager
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
	webhooks  http.Handler
	logger    *zap.Logger
	jwtSecret string
}

func (cfg *apiConfig) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(cfg.logger, cfg.metrics))
	r.Use(RecoveryMiddleware(cfg.logger))
	r.Use(SecurityHeadersMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", cfg.healthHandler)
	r.Method(http.MethodGet, "/metrics", cfg.metrics.Handler())

	optionalAuth := AuthMiddleware(cfg.jwtSecret, false)
	requiredAuth := AuthMiddleware(cfg.jwtSecret, true)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/payments", func(r chi.Router) {
			r.With(optionalAuth).Post("/charge", cfg.chargeHandler)
			r.With(optionalAuth).Get("/verify/{reference}", cfg.verifyHandler)
			r.With(requiredAuth).Get("/providers", cfg.listProvidersHandler)
		})

		// Authenticated by provider signature, not by token.
		r.Post("/webhooks/{provider}", cfg.webhooks.ServeHTTP)
	})

	return r
}
