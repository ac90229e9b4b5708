package router

import (
	"net/http"
	"time"

	"timetrack/internal/api/v1/handler"
	"timetrack/internal/config"
	"timetrack/internal/metrics"
	"timetrack/internal/middleware"
	"timetrack/internal/service"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// Dependencies are the services the API is built on.
type Dependencies struct {
	Billing  service.BillingService
	Webhooks service.WebhookService
	Changes  handler.ChangeListener
	Metrics  *metrics.Metrics
	// Ready reports whether backing stores are reachable; nil means always ready.
	Ready func(r *http.Request) error
}

func New(cfg *config.Config, deps Dependencies, logger zerolog.Logger) http.Handler {
	validate := validator.New(validator.WithRequiredStructEnabled())

	subscriptionHandler := handler.NewSubscriptionHandler(deps.Billing, validate, logger)
	billingHandler := handler.NewBillingHandler(deps.Billing, validate, logger)
	webhookHandler := handler.NewWebhookHandler(deps.Webhooks, logger)
	eventsHandler := handler.NewEventsHandler(deps.Changes, 0, logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.LoggerMiddleware(logger, deps.Metrics))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil {
			if err := deps.Ready(r); err != nil {
				logger.Error().Err(err).Msg("Health check failed")
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", deps.Metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		webhookHandler.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(cfg.JWTSecret, logger))
			r.Group(func(r chi.Router) {
				r.Use(chimw.Timeout(30 * time.Second))
				subscriptionHandler.RegisterRoutes(r)
				billingHandler.RegisterRoutes(r)
			})
			eventsHandler.RegisterRoutes(r)
		})
	})

	// Redirect /api/* to /v1/* for backward compatibility. 308 keeps POST bodies.
	r.HandleFunc("/api/*", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/v1/"+chi.URLParam(r, "*"), http.StatusPermanentRedirect)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.Environment == "development" {
		return []string{"*"}
	}
	return []string{cfg.AppBaseURL}
}
