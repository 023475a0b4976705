package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/backend-5elm/internal/app"
	"github.com/noah-isme/backend-5elm/internal/auth"
	"github.com/noah-isme/backend-5elm/internal/cart"
	"github.com/noah-isme/backend-5elm/internal/catalog"
	"github.com/noah-isme/backend-5elm/internal/common"
	"github.com/noah-isme/backend-5elm/internal/coupon"
	"github.com/noah-isme/backend-5elm/internal/health"
	"github.com/noah-isme/backend-5elm/internal/obs"
	"github.com/noah-isme/backend-5elm/internal/ratelimit"
	"github.com/noah-isme/backend-5elm/internal/security"
)

func newRouter(deps *app.Dependencies, svcs *app.Services, healthHandler *health.Handler) (http.Handler, error) {
	cfg := deps.Config
	logger := deps.Logger

	limiterStore, err := app.NewLimiterStore(deps.Redis, "ratelimit:api")
	if err != nil {
		return nil, err
	}
	onLimiterError := func(err error) { logger.Warn().Err(err).Msg("rate_limiter_unavailable") }
	apiLimit := ratelimit.Handler{
		Limiter: ratelimit.Fixed{Store: limiterStore},
		Key:     ratelimit.ByClientIP("api"),
		Window:  cfg.RateLimit.Window,
		Max:     int(cfg.RateLimit.Requests),
		OnError: onLimiterError,
	}
	couponLimit := ratelimit.Handler{
		Limiter: ratelimit.SlidingWindow{Client: deps.Redis, Prefix: "ratelimit:"},
		Key:     ratelimit.ByUserOrIP("coupon"),
		Window:  cfg.Coupon.AttemptWindow,
		Max:     cfg.Coupon.AttemptLimit,
		OnError: onLimiterError,
	}

	authMiddleware := auth.Middleware{Verifier: auth.Verifier{
		Secret:   []byte(cfg.JWT.Secret),
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	}}
	idem := common.Idem{R: deps.Redis, TTL: cfg.IdemTTL}

	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: svcs.Catalog})
	couponHandler := &coupon.Handler{Svc: svcs.Coupons, BodyLimit: cfg.BodyLimit}
	cartHandler := &cart.Handler{Svc: svcs.Carts, Currency: cfg.Pricing.Currency, BodyLimit: cfg.BodyLimit}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Tracing.Enabled {
		r.Use(obs.Tracing("http.server"))
	}
	if cfg.Metrics.Enabled {
		r.Use(obs.HTTPObs{Metrics: obs.NewHTTPMetrics(cfg.Metrics.Namespace, deps.Registry)}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{HSTS: hstsFor(cfg.AppEnv), IncludeSubdomains: true, NoStore: true}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", common.IdempotencyHeader},
		ExposedHeaders:   []string{"X-Search-Engine", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{Registry: deps.Registry}))
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(apiLimit.Middleware)
		v.Use(authMiddleware.Authenticate)

		v.Get("/products/search", catalogHandler.Search)
		v.Get("/products/{id}", catalogHandler.Product)

		v.Route("/carts", func(c chi.Router) {
			c.Group(func(g chi.Router) {
				g.Use(idem.Middleware)
				g.Post("/", cartHandler.Create)
				g.With(auth.RequireAuth).Post("/merge", cartHandler.Merge)
			})
			c.Route("/{id}", func(one chi.Router) {
				one.Get("/", cartHandler.Get)
				one.Group(func(g chi.Router) {
					g.Use(idem.Middleware)
					g.Post("/items", cartHandler.AddItem)
					g.Delete("/items", cartHandler.Clear)
					g.Patch("/items/{itemId}", cartHandler.UpdateItem)
					g.Delete("/items/{itemId}", cartHandler.RemoveItem)
					g.Put("/shipping", cartHandler.SetShipping)
					g.With(couponLimit.Middleware).Post("/coupon", cartHandler.ApplyCoupon)
					g.Delete("/coupon", cartHandler.RemoveCoupon)
					g.Post("/revalidate", cartHandler.Revalidate)
					g.Post("/checkout", cartHandler.Checkout)
				})
			})
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(auth.RequireRole("admin"))
			admin.Get("/coupons", couponHandler.List)
			admin.With(idem.Middleware).Post("/coupons", couponHandler.Create)
			admin.Get("/coupons/{code}", couponHandler.Get)
		})
	})

	return r, nil
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func hstsFor(env string) time.Duration {
	if env == "production" {
		return 365 * 24 * time.Hour
	}
	return 0
}
