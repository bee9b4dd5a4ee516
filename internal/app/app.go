package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/shift-donations/internal/api"
	"github.com/ayo6706/shift-donations/internal/api/middleware"
	"github.com/ayo6706/shift-donations/internal/cache"
	"github.com/ayo6706/shift-donations/internal/config"
	"github.com/ayo6706/shift-donations/internal/db"
	"github.com/ayo6706/shift-donations/internal/gateway"
	"github.com/ayo6706/shift-donations/internal/idempotency"
	"github.com/ayo6706/shift-donations/internal/observability"
	"github.com/ayo6706/shift-donations/internal/pricing"
	"github.com/ayo6706/shift-donations/internal/repository"
	"github.com/ayo6706/shift-donations/internal/service"
	"github.com/ayo6706/shift-donations/internal/worker"
	"github.com/ayo6706/shift-donations/migrations"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const coinCatalogueTTL = 10 * time.Minute

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		applied, err := db.Migrate(ctx, pool, migrations.FS)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied", zap.Strings("files", applied))
	}

	var (
		redisClient *redis.Client
		redisCmd    redis.Cmdable
		sharedCache cache.Cache = cache.NewMemory()
	)
	if cfg.RedisURL != "" {
		redisClient, err = newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		redisCmd = redisClient
		sharedCache = cache.NewRedis(redisClient, "shift-donations:")
	} else {
		logger.Info("redis disabled; using in-process cache")
	}

	store := repository.NewStore(pool)
	idemStore := idempotency.NewStore(redisCmd, store.Queries(), cfg.IdempotencyTTL)
	gw := newGateway(cfg, logger)

	shiftSvc := service.NewShiftService(store, gw,
		service.WithAffiliate(cfg.SideShiftAffiliateID, cfg.SideShiftCommissionRate),
	)
	reconSvc := service.NewReconciliationService(store, gw)
	services := api.Services{
		Shifts:         shiftSvc,
		Identities:     service.NewIdentityService(store),
		Quotes:         service.NewQuoteService(gw, cfg.SideShiftAffiliateID, cfg.SideShiftCommissionRate),
		QuoteSessions:  service.NewQuoteSessions(nil),
		Coins:          service.NewCoinService(gw, sharedCache, coinCatalogueTTL),
		Prices:         pricing.NewFeed(cfg.PriceFeedURL, cfg.PriceFallbackURL, sharedCache, cfg.PriceCacheTTL),
		Reconciliation: reconSvc,
	}

	syncWorker := worker.NewStatusSyncWorker(shiftSvc).
		WithPollInterval(cfg.StatusSyncInterval).
		WithBatchSize(cfg.StatusSyncBatchSize)
	stopSync := syncWorker.Run(ctx)
	logger.Info("status sync worker started", zap.Duration("interval", cfg.StatusSyncInterval), zap.Int32("batch", cfg.StatusSyncBatchSize))

	reconWorker := worker.NewReconciliationWorker(reconSvc).WithInterval(cfg.ReconciliationInterval)
	stopRecon := reconWorker.Run(ctx)
	logger.Info("reconciliation worker started", zap.Duration("interval", cfg.ReconciliationInterval))

	router := api.NewRouter(cfg, logger, store, redisCmd, idemStore, services)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort), zap.String("swap_provider", cfg.SwapProvider))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping workers")
	stopSync()
	stopRecon()
	shiftSvc.Close()

	logger.Info("shutdown complete")
	return nil
}

func newGateway(cfg *config.Config, logger *zap.Logger) gateway.Gateway {
	if cfg.SwapProvider == config.ProviderMock {
		logger.Warn("using in-memory swap provider")
		return gateway.NewMockGateway().WithProgression(2*time.Minute, 10*time.Minute)
	}
	return gateway.NewSideShiftClient(cfg.SideShiftBaseURL, cfg.SideShiftSecret, cfg.GatewayTimeout)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
