package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lunamail/billing-backend/internal/alerts"
	"github.com/lunamail/billing-backend/internal/cron"
	"github.com/lunamail/billing-backend/internal/payments"
	"github.com/lunamail/billing-backend/internal/projection"
	"github.com/lunamail/billing-backend/internal/reconcile"
	paymentsync "github.com/lunamail/billing-backend/internal/sync"
	"github.com/lunamail/billing-backend/internal/users"
	"github.com/lunamail/billing-backend/pkg/config"
	"github.com/lunamail/billing-backend/pkg/db"
	"github.com/lunamail/billing-backend/pkg/logger"
	"github.com/lunamail/billing-backend/pkg/mailer"
	"github.com/lunamail/billing-backend/pkg/metrics"
	"github.com/lunamail/billing-backend/pkg/paypal"
	"github.com/lunamail/billing-backend/pkg/redis"
	"github.com/lunamail/billing-backend/pkg/stripeclient"
)

const lockKeyFormat = "billing:sync-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "sync-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "sync-worker"

	logg = logger.New(logger.Options{
		ServiceName: "sync-worker",
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
	cronMetrics := metrics.NewCronJobMetrics(promRegistry)

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

	syncSvc, err := paymentsync.NewService(paymentsync.ServiceParams{
		Logger:         logg,
		Users:          userRepo,
		Payments:       paymentRepo,
		Reconciler:     reconciler,
		Stripe:         stripeAPI,
		PayPal:         paypalCl,
		Alerts:         alertSvc,
		ErrorThreshold: cfg.Sync.ErrorThreshold,
	})
	if err != nil {
		logg.Error(ctx, "failed to create sync service", err)
		os.Exit(1)
	}

	stripeJob, err := cron.NewStripeSyncJob(syncSvc)
	if err != nil {
		logg.Error(ctx, "failed to create stripe sync job", err)
		os.Exit(1)
	}
	paypalJob, err := cron.NewPayPalSyncJob(syncSvc)
	if err != nil {
		logg.Error(ctx, "failed to create paypal sync job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Sync.Interval+time.Hour)
	if err != nil {
		logg.Error(ctx, "failed to create sync lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(stripeJob, paypalJob),
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Sync.Interval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting sync worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sync worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "sync worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
