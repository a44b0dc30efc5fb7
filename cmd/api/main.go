package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lunamail/billing-backend/api/routes"
	"github.com/lunamail/billing-backend/internal/alerts"
	"github.com/lunamail/billing-backend/internal/payments"
	"github.com/lunamail/billing-backend/internal/projection"
	"github.com/lunamail/billing-backend/internal/reconcile"
	"github.com/lunamail/billing-backend/internal/users"
	guardpkg "github.com/lunamail/billing-backend/internal/webhooks"
	paypalwebhook "github.com/lunamail/billing-backend/internal/webhooks/paypal"
	stripewebhook "github.com/lunamail/billing-backend/internal/webhooks/stripe"
	"github.com/lunamail/billing-backend/pkg/config"
	"github.com/lunamail/billing-backend/pkg/db"
	"github.com/lunamail/billing-backend/pkg/logger"
	"github.com/lunamail/billing-backend/pkg/mailer"
	"github.com/lunamail/billing-backend/pkg/metrics"
	"github.com/lunamail/billing-backend/pkg/paypal"
	"github.com/lunamail/billing-backend/pkg/redis"
	"github.com/lunamail/billing-backend/pkg/stripeclient"
)

const webhookMarkTTL = 24 * time.Hour

func main() {
	logg := logger.New(logger.Options{ServiceName: "billing-api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "billing-api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	stripeCl, err := stripeclient.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap stripe client", err)
		os.Exit(1)
	}
	stripeAPI := stripeclient.NewAPI(stripeCl)

	paypalCl, err := paypal.NewClient(cfg.PayPal, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap paypal client", err)
		os.Exit(1)
	}

	sendgridMailer, err := mailer.NewSendgrid(cfg.Sendgrid)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap mailer", err)
		os.Exit(1)
	}
	alertSvc, err := alerts.NewServiceFromConfig(cfg.Alerts, sendgridMailer, logg)
	if err != nil {
		logg.Error(ctx, "failed to create alerts service", err)
		os.Exit(1)
	}

	paymentRepo := payments.NewRepository(dbClient.DB())
	userRepo := users.NewRepository(dbClient.DB())

	projectionSvc, err := projection.NewService(projection.ServiceParams{
		Logger:   logg,
		Payments: paymentRepo,
	})
	if err != nil {
		logg.Error(ctx, "failed to create projection service", err)
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	reconcileMetrics := metrics.NewReconcileMetrics(promRegistry)

	reconciler, err := reconcile.NewService(reconcile.ServiceParams{
		Logger:     logg,
		DB:         dbClient,
		Payments:   paymentRepo,
		Users:      userRepo,
		Stripe:     stripeAPI,
		PayPal:     paypalCl,
		Projection: projectionSvc,
		Metrics:    reconcileMetrics,
	})
	if err != nil {
		logg.Error(ctx, "failed to create reconciler", err)
		os.Exit(1)
	}

	stripeSvc, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Logger:       logg,
		Users:        userRepo,
		Reconciler:   reconciler,
		Stripe:       stripeAPI,
		Projection:   projectionSvc,
		Alerts:       alertSvc,
		DisputeDelay: cfg.Sync.DisputeDelay,
	})
	if err != nil {
		logg.Error(ctx, "failed to create stripe webhook service", err)
		os.Exit(1)
	}

	paypalSvc, err := paypalwebhook.NewService(paypalwebhook.ServiceParams{
		Logger:     logg,
		Users:      userRepo,
		Reconciler: reconciler,
		PayPal:     paypalCl,
		Projection: projectionSvc,
		Alerts:     alertSvc,
	})
	if err != nil {
		logg.Error(ctx, "failed to create paypal webhook service", err)
		os.Exit(1)
	}

	stripeGuard, err := guardpkg.NewIdempotencyGuard(redisClient, webhookMarkTTL, "stripe")
	if err != nil {
		logg.Error(ctx, "failed to create stripe idempotency guard", err)
		os.Exit(1)
	}
	paypalGuard, err := guardpkg.NewIdempotencyGuard(redisClient, webhookMarkTTL, "paypal")
	if err != nil {
		logg.Error(ctx, "failed to create paypal idempotency guard", err)
		os.Exit(1)
	}

	router := routes.NewRouter(routes.RouterParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Redis:         redisClient,
		StripeClient:  stripeCl,
		PayPalClient:  paypalCl,
		StripeService: stripeSvc,
		PayPalService: paypalSvc,
		StripeGuard:   stripeGuard,
		PayPalGuard:   paypalGuard,
		Alerts:        alertSvc,
		Metrics:       promRegistry,
	})

	server := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"port": cfg.App.Port,
	})
	logg.Info(ctx, "billing api listening")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "server stopped unexpectedly", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(shutdownCtx, "graceful shutdown failed", err)
	}
	logg.Info(ctx, "billing api shutting down gracefully")
}
