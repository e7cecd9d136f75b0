// Package httpserver assembles the thin HTTP shell over the core: chi
// routing, request-id/logging/recovery/rate-limit middleware, CORS, and
// the /health and /metrics surfaces. Grounded on the teacher's
// internal/api/router.go composition root, generalized from its
// Postgres/pgx wiring to the document-store/JWT stack.
package httpserver

import (
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/homestead-systems/assistant-core/internal/authsvc"
	"github.com/homestead-systems/assistant-core/internal/breaker"
	"github.com/homestead-systems/assistant-core/internal/cache"
	"github.com/homestead-systems/assistant-core/internal/connstate"
	"github.com/homestead-systems/assistant-core/internal/httpserver/handlers"
	ourmiddleware "github.com/homestead-systems/assistant-core/internal/httpserver/middleware"
	"github.com/homestead-systems/assistant-core/internal/notify"
	"github.com/homestead-systems/assistant-core/internal/order"
)

// Config bundles the router's runtime dependencies and policy knobs.
type Config struct {
	Auth            *authsvc.Service
	Connections     *connstate.Manager
	Camera          *breaker.CameraClient
	OrderPipeline   *order.Pipeline
	Normalizer      order.Normalizer
	Artifacts       *cache.Cache
	Mailer          notify.EmailSender
	AppURL          string
	AllowedOrigins  []string
	RateLimitRPS    float64
	RateLimitBurst  int
	MetricsRegistry *prometheus.Registry
}

// NewRouter builds the fully wired chi.Mux.
func NewRouter(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	r.Use(sentryHandler.Handle)

	r.Use(ourmiddleware.RequestLogger)
	r.Use(ourmiddleware.PanicRecovery)

	limiter := ourmiddleware.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	r.Use(limiter.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	r.Get("/health", handlers.HealthHandler(cfg.Connections, cfg.Camera))

	if cfg.MetricsRegistry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.MetricsRegistry, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	mailer := cfg.Mailer
	if mailer == nil {
		mailer = notify.NewDevMailer(nil)
	}
	authHandler := handlers.NewAuthHandler(cfg.Auth, mailer, cfg.AppURL)
	requireAuth := ourmiddleware.RequireAuth(cfg.Auth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/refresh", authHandler.Refresh)
		r.Post("/auth/password-reset/request", authHandler.RequestPasswordReset)
		r.Post("/auth/password-reset/complete", authHandler.CompletePasswordReset)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/me", authHandler.Me)
			r.Post("/auth/logout", authHandler.Logout)

			if cfg.OrderPipeline != nil {
				orderHandler := handlers.NewOrderHandler(cfg.OrderPipeline, cfg.Normalizer, cfg.Auth, cfg.Artifacts)
				r.Post("/orders/submit-list", orderHandler.SubmitList)
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	return r
}
