package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"

	"billingsync/internal/caching"
	"billingsync/internal/config"
	"billingsync/internal/handlers"
	"billingsync/internal/jobs"
	"billingsync/internal/jobs/background"
	"billingsync/internal/logging"
	"billingsync/internal/middleware"
	"billingsync/internal/models"
	"billingsync/internal/repositories"
	"billingsync/internal/services"
	"billingsync/pkg/database"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := database.NewPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		return err
	}
	tx := database.NewTxManager(pool)

	subscriptionRepo := repositories.NewSubscriptionRepo(pool)
	paymentRepo := repositories.NewPaymentRepo(pool)
	userRepo := repositories.NewUserRepo(pool)
	webhookEventRepo := repositories.NewWebhookEventRepo(pool)

	// Redis
	redisClient := caching.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	cacheService := caching.NewRedisCacheService(redisClient, logger)
	defer cacheService.Close()
	if err := cacheService.Ping(ctx); err != nil {
		logger.Warn("redis unavailable, webhook dedup will rely on the database ledger", "error", err)
	}

	// Webhook archive
	archive := services.NoopArchive()
	if cfg.ArchiveEnabled() {
		minioClient, err := services.NewMinioClient(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
		if err != nil {
			return fmt.Errorf("failed to create minio client: %w", err)
		}
		archive = services.NewMinioArchive(minioClient, cfg.WebhookArchiveBucket)
		if err := archive.EnsureBucketExists(ctx); err != nil {
			logger.Warn("webhook archive bucket unavailable", "bucket", cfg.WebhookArchiveBucket, "error", err)
		}
	} else {
		logger.Info("webhook archive disabled, no object storage credentials")
	}

	// Billing providers
	breaker := services.BreakerSettings{
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenTimeout:      cfg.BreakerOpenTimeout,
	}
	gateways := services.NewGateways(
		services.WithCircuitBreaker(services.NewStripeGateway(cfg.StripeSecretKey, cfg.StripeWebhookSecret, nil), breaker, logger),
		services.WithCircuitBreaker(services.NewRazorpayService(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.RazorpayWebhookSecret), breaker, logger),
	)
	if cfg.StripeWebhookSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set, stripe webhooks will be rejected")
	}

	clock := services.SystemClock()
	projector := services.NewMembershipProjector(userRepo, logger)

	webhookService := services.NewWebhookService(gateways, tx, subscriptionRepo, paymentRepo, webhookEventRepo,
		projector, cacheService, archive, clock, logger,
		services.WebhookServiceConfig{DedupTTL: cfg.WebhookDedupTTL})

	subscriptionService := services.NewSubscriptionService(gateways, tx, subscriptionRepo, paymentRepo, userRepo,
		projector, cacheService, clock, logger,
		services.SubscriptionServiceConfig{
			Prices: map[models.Gateway]services.PriceLookup{
				models.GatewayStripe:   cfg.StripePrices,
				models.GatewayRazorpay: cfg.RazorpayPlans,
			},
			CacheTTL: cfg.SubscriptionTTL,
		})

	// Background jobs
	scheduler, err := background.NewJobScheduler(logger)
	if err != nil {
		return err
	}
	lapseSweep := jobs.NewLapseSweep(subscriptionRepo, projector, tx, cacheService, clock.Now, logger)
	if err := scheduler.Register("lapse-sweep", cfg.LapseSweepInterval, true, func(ctx context.Context) error {
		_, err := lapseSweep.Run(ctx)
		return err
	}); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Handlers
	webhookHandlers := handlers.NewWebhookHandlers(webhookService, logger)
	subscriptionHandlers := handlers.NewSubscriptionHandlers(subscriptionService)
	healthHandlers := handlers.NewHealthHandlers(pool, cacheService, archive, version)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.VersionHeader(version))
	e.Use(echoMiddleware.BodyLimit("1M"))

	e.GET("/health", healthHandlers.HealthCheck)
	e.GET("/health/ready", healthHandlers.ReadinessCheck)
	e.GET("/health/live", healthHandlers.LivenessCheck)

	// Provider callbacks. /webhook is the original Stripe endpoint.
	e.POST("/webhook", webhookHandlers.StripeWebhook)
	e.POST("/webhook/stripe", webhookHandlers.StripeWebhook)
	e.POST("/webhook/razorpay", webhookHandlers.RazorpayWebhook)

	e.POST("/cancel-subscription", subscriptionHandlers.CancelSubscription)
	e.PUT("/cancel-subscription", subscriptionHandlers.ReactivateSubscription)
	e.POST("/subscriptions", subscriptionHandlers.CreateSubscription)
	e.GET("/subscriptions/:id", subscriptionHandlers.GetSubscription)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("billingsync server starting", "version", version, "port", cfg.Port, "env", cfg.AppEnv)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
