package api

import (
	"net/http"

	"github.com/ayo6706/shift-donations/internal/api/handler"
	"github.com/ayo6706/shift-donations/internal/api/middleware"
	"github.com/ayo6706/shift-donations/internal/api/spec"
	"github.com/ayo6706/shift-donations/internal/config"
	"github.com/ayo6706/shift-donations/internal/idempotency"
	"github.com/ayo6706/shift-donations/internal/pricing"
	"github.com/ayo6706/shift-donations/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services groups the domain services the HTTP layer depends on.
type Services struct {
	Shifts         *service.ShiftService
	Identities     *service.IdentityService
	Quotes         *service.QuoteService
	QuoteSessions  *service.QuoteSessions
	Coins          *service.CoinService
	Prices         *pricing.Feed
	Reconciliation *service.ReconciliationService
}

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        handler.Pinger
	redis     redis.Cmdable
	idemStore *idempotency.Store
	svc       Services
}

// NewRouter wires handlers to their services. db and redis are only used for readiness checks; either may be nil.
func NewRouter(cfg *config.Config, logger *zap.Logger, db handler.Pinger, redis redis.Cmdable, idemStore *idempotency.Store, svc Services) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{cfg: cfg, logger: logger, db: db, redis: redis, idemStore: idemStore, svc: svc}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	shiftHandler := handler.NewShiftHandler(api.svc.Shifts)
	identityHandler := handler.NewIdentityHandler(api.svc.Identities)
	quoteHandler := handler.NewQuoteHandler(api.svc.Quotes, api.svc.QuoteSessions)
	coinHandler := handler.NewCoinHandler(api.svc.Coins)
	priceHandler := handler.NewPriceHandler(api.svc.Prices)
	adminHandler := handler.NewAdminHandler(api.svc.Reconciliation)

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))

		createShift := http.HandlerFunc(shiftHandler.CreateShift)
		if api.idemStore != nil {
			r.With(middleware.IdempotencyMiddleware(api.idemStore, api.logger)).Post("/v1/shifts", createShift)
		} else {
			r.Post("/v1/shifts", createShift)
		}
		r.Get("/v1/shifts/status", shiftHandler.GetStatus)
		r.Post("/v1/shifts/cancel", shiftHandler.Cancel)
		r.Post("/v1/shifts/mine", shiftHandler.Mine)
		r.Post("/v1/shifts/{id}/session-end", shiftHandler.SessionEnd)

		r.Post("/v1/creators", identityHandler.SetupCreator)
		r.Post("/v1/identities/me", identityHandler.Me)

		r.Get("/v1/quotes", quoteHandler.GetQuote)
		r.Get("/v1/coins", coinHandler.ListCoins)
		r.Get("/v1/prices", priceHandler.GetPrices)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Use(middleware.RequireRole("admin"))

		r.Get("/v1/admin/reconciliation-gaps", adminHandler.ListGaps)
		r.Post("/v1/admin/reconciliation-gaps/{id}/resolve", adminHandler.ResolveGap)
	})

	return r
}
