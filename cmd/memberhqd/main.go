package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stripe/stripe-go/v82"
	"golang.org/x/sync/errgroup"

	"github.com/memberhq/memberhq/pkg/api"
	"github.com/memberhq/memberhq/pkg/auth"
	"github.com/memberhq/memberhq/pkg/billing"
	"github.com/memberhq/memberhq/pkg/config"
	"github.com/memberhq/memberhq/pkg/middleware"
	"github.com/memberhq/memberhq/pkg/migrations"
	"github.com/memberhq/memberhq/pkg/observability"
	"github.com/memberhq/memberhq/pkg/tenants"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "memberhqd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Local development convenience; absence of a .env file is fine
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting memberhqd")

	stripe.Key = cfg.Stripe.SecretKey

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := migrations.Run(context.Background(), db, logger); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:       cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Redis.MaxRetries,
			PoolSize:   cfg.Redis.PoolSize,
		})
		defer redisClient.Close()
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var otelProviders *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		otelProviders, err = observability.InitOTel(context.Background(), observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}
	}

	// Domain services
	tokenManager, err := auth.NewTokenManager(db)
	if err != nil {
		return err
	}
	tenantSvc := tenants.NewPostgresService(db)
	store := billing.NewPostgresStore(db)
	if metrics != nil {
		store.SetMetrics(metrics)
	}
	fetcher := billing.NewStripeSubscriptionFetcher()
	verifier := billing.NewStripeVerifier(cfg.Stripe.WebhookSecret)
	processor := billing.NewProcessor(store, fetcher, logger, metrics)
	portalSvc := billing.NewPortalService(store, billing.NewStripePortalClient(),
		cfg.Stripe.PortalReturnURL, logger, metrics)

	var catalog *billing.PlanCatalog
	if cfg.Stripe.PlanCatalogPath != "" {
		catalog, err = billing.NewPlanCatalog(cfg.Stripe.PlanCatalogPath, logger)
		if err != nil {
			return fmt.Errorf("failed to load plan catalog: %w", err)
		}
		defer catalog.Close()
		processor.SetPlanResolver(catalog)
	}

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(tokenManager, tenantSvc, true)
	var rateLimit *middleware.RateLimitMiddleware
	if redisClient != nil {
		limiter := middleware.NewRateLimiter(redisClient, middleware.PortalRateLimitConfig(), "memberhq:ratelimit:billing")
		rateLimit = middleware.NewRateLimitMiddleware(limiter)
	}

	server := api.NewServer(api.Options{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		Auth:      authMiddleware,
		RateLimit: rateLimit,
		Webhooks:  api.NewWebhookHandlers(verifier, processor, logger, metrics),
		Billing:   api.NewBillingHandlers(portalSvc, catalog, logger),
		OTel:      cfg.Observability.OTelEnabled,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthServer := newHealthServer(cfg, registry, db, redisClient)

	// Reconciliation sweep for records stranded by dropped deliveries
	reconciler := billing.NewReconciler(store, fetcher, fetcher, logger, metrics)
	if cfg.Stripe.ReconcileSchedule != "" {
		if err := reconciler.Start(cfg.Stripe.ReconcileSchedule); err != nil {
			return err
		}
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return healthServer.Shutdown(ctx)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return reconciler.Stop(ctx)
	})
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(otelProviders.Shutdown)
	}

	var g errgroup.Group
	g.Go(func() error {
		logger.WithField("addr", httpServer.Addr).Info("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return shutdown.WaitForShutdown()
	})

	if metrics != nil {
		go reportDBStats(db, metrics)
	}

	return g.Wait()
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// newHealthServer serves liveness, readiness, and metrics on a
// separate port so probes bypass the public middleware chain
func newHealthServer(cfg *config.Config, registry *prometheus.Registry, db *sql.DB, redisClient *redis.Client) *http.Server {
	checker := observability.NewHealthChecker(db, redisClient)

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", checker.Liveness)
	healthMux.HandleFunc("/readyz", checker.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}

	return &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
}

// reportDBStats mirrors connection pool stats into gauges
func reportDBStats(db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		stats := db.Stats()
		metrics.DBConnectionsActive.Set(float64(stats.InUse))
		metrics.DBConnectionsIdle.Set(float64(stats.Idle))
	}
}
