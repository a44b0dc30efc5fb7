package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lunamail/billing-backend/api/controllers"
	webhookcontrollers "github.com/lunamail/billing-backend/api/controllers/webhooks"
	"github.com/lunamail/billing-backend/api/middleware"
	"github.com/lunamail/billing-backend/internal/alerts"
	guardpkg "github.com/lunamail/billing-backend/internal/webhooks"
	paypalwebhook "github.com/lunamail/billing-backend/internal/webhooks/paypal"
	stripewebhook "github.com/lunamail/billing-backend/internal/webhooks/stripe"
	"github.com/lunamail/billing-backend/pkg/config"
	"github.com/lunamail/billing-backend/pkg/db"
	"github.com/lunamail/billing-backend/pkg/logger"
	"github.com/lunamail/billing-backend/pkg/paypal"
	"github.com/lunamail/billing-backend/pkg/redis"
	"github.com/lunamail/billing-backend/pkg/stripeclient"
)

// RouterParams collects everything the HTTP surface needs.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            db.Pinger
	Redis         *redis.Client
	StripeClient  *stripeclient.Client
	PayPalClient  *paypal.Client
	StripeService *stripewebhook.Service
	PayPalService *paypalwebhook.Service
	StripeGuard   *guardpkg.IdempotencyGuard
	PayPalGuard   *guardpkg.IdempotencyGuard
	Alerts        *alerts.Service
	Metrics       prometheus.Gatherer
}

// NewRouter wires the webhook endpoints, health checks and metrics.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(params.Logger),
		middleware.RequestID(params.Logger),
		middleware.Logging(params.Logger),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(params.Config))
		r.Get("/ready", controllers.HealthReady(params.Config, params.Logger, params.DB, params.Redis))
	})
	r.Get("/healthz", controllers.HealthReady(params.Config, params.Logger, params.DB, params.Redis))

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(
			params.StripeService, params.StripeClient, params.StripeGuard, params.Alerts, params.Logger))
		r.Post("/paypal", webhookcontrollers.PayPalWebhook(
			params.PayPalService, params.PayPalClient, params.PayPalGuard, params.Alerts, params.Logger))
	})

	if params.Metrics != nil {
		r.Get("/metrics", promhttp.HandlerFor(params.Metrics, promhttp.HandlerOpts{}).ServeHTTP)
	}

	return r
}
