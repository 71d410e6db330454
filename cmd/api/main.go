package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/nextday/nextday-api/internal/config"
	"github.com/nextday/nextday-api/internal/domain/account"
	"github.com/nextday/nextday-api/internal/domain/billing"
	"github.com/nextday/nextday-api/internal/domain/gate"
	"github.com/nextday/nextday-api/internal/domain/imagegen"
	"github.com/nextday/nextday-api/internal/domain/ledger"
	"github.com/nextday/nextday-api/internal/domain/subscription"
	"github.com/nextday/nextday-api/internal/domain/todo"
	"github.com/nextday/nextday-api/internal/pkg/database"
	"github.com/nextday/nextday-api/internal/pkg/inference"
	"github.com/nextday/nextday-api/internal/pkg/jwt"
	"github.com/nextday/nextday-api/internal/pkg/logger"
	"github.com/nextday/nextday-api/internal/pkg/metrics"
	"github.com/nextday/nextday-api/internal/pkg/polar"
	"github.com/nextday/nextday-api/internal/pkg/storage"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env}); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise logger")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting NextDay API")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	if cfg.MigrateOnStart {
		if err := database.Migrate(ctx, db.DB, "up"); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redisClient)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	jwtService := jwt.NewService(cfg.AuthJWTSecret, cfg.AuthJWTIssuer, 24*time.Hour)

	// ---------- External clients ----------
	polarClient := polar.NewClient(polar.ServerURL(cfg.PolarServer), cfg.PolarAccessToken, 0)
	if !polarClient.Configured() {
		log.Warn().Msg("POLAR_ACCESS_TOKEN not set, billing provider calls will fail")
	}
	inferenceClient := inference.NewClient("", cfg.CloudflareAccountID, cfg.CloudflareAPIToken, cfg.ImageModel, cfg.ImageTimeout)
	if !inferenceClient.Configured() {
		log.Warn().Msg("Cloudflare credentials not set, image generation will fail")
	}
	imageStore := newImageStore(ctx, cfg)

	// ---------- Ledger ----------
	hub := ledger.NewHub(redisClient)
	go hub.Run()
	defer hub.Shutdown()

	ledgerService := ledger.NewService(ledger.NewRepository(db), hub, m, cfg.LedgerHoldTTL)
	go ledgerService.RunSweeper(ctx, cfg.LedgerSweepInterval)

	// ---------- Services ----------
	accountService := account.NewService(account.NewRepository(db), imageStore)
	gateService := gate.New(ledgerService)
	todoService := todo.NewService(todo.NewRepository(db), gateService, ledgerService)
	subscriptionReader := subscription.NewReader(polarClient, newSubscriptionCache(redisClient, cfg.SubscriptionCacheTTL))
	billingService := billing.NewService(
		billing.NewRepository(db),
		polarClient,
		ledgerService,
		subscriptionReader,
		newWebhookGuard(redisClient),
		m,
		billing.Config{WebhookSecret: cfg.PolarWebhookSecret, Tolerance: cfg.WebhookSignatureMaxAge},
	)
	imageService := imagegen.NewService(gateService, inferenceClient, imageStore, m)

	// ---------- Handlers ----------
	a := &app{
		cfg:          cfg,
		jwt:          jwtService,
		accounts:     accountService,
		metrics:      m,
		gatherer:     registry,
		account:      account.NewHandler(accountService),
		ledger:       ledger.NewHandler(ledgerService, gateService, cfg.LedgerStrictPricing, hub, cfg.AllowedOrigins),
		gate:         gate.NewHandler(gateService),
		todo:         todo.NewHandler(todoService),
		subscription: subscription.NewHandler(subscriptionReader, cfg.PricingURL()),
		billing:      billing.NewHandler(billingService, cfg.PolarSuccessURL),
		imagegen:     imagegen.NewHandler(imageService),
	}

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     a.router(),
		ReadTimeout: 15 * time.Second,
		// image generation holds the request open for the inference timeout
		WriteTimeout: cfg.ImageTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("Server exited properly")
}

func newSubscriptionCache(client *redis.Client, ttl time.Duration) subscription.Cache {
	if client == nil {
		return subscription.NewLocalCache(ttl)
	}
	return subscription.NewRedisCache(client, ttl)
}

func newWebhookGuard(client *redis.Client) billing.Guard {
	if client == nil {
		return nil
	}
	return billing.NewRedisGuard(client, 0)
}

func newImageStore(ctx context.Context, cfg *config.Config) storage.Storage {
	if !cfg.StorageEnabled() {
		log.Info().Msg("R2 storage not configured, generated images are returned inline only and profile images are disabled")
		return nil
	}
	r2, err := storage.NewR2Storage(ctx, storage.R2Config{
		AccountID:       cfg.R2AccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		AccessKeySecret: cfg.R2AccessKeySecret,
		BucketName:      cfg.R2BucketName,
		PublicURL:       cfg.R2PublicURL,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to create R2 storage, object storage is disabled")
		return nil
	}
	return r2
}
