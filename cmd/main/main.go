package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/inkstory/api/credit-webhook-processor/internal/catalog"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/config"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/observer"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/provider"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/receiver"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/retryworker"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/storage"
	"gitlab.com/inkstory/api/credit-webhook-processor/internal/usecase"
	"gitlab.com/inkstory/api/credit-webhook-processor/pkg/logger"
	"gitlab.com/inkstory/api/credit-webhook-processor/pkg/utils"
)

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	// Load configuration
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metricsEnabled := cfg.Metrics.Enabled
	observer.InitMetrics(metricsEnabled)

	logger.Log.Info("Starting Credit Webhook Processor",
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Server.Port),
	)

	// Initialize repositories
	postgresRepo, err := initPostgresRepo(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	queueRepo := storage.NewRetryQueueRepoAdapter(postgresRepo)
	ledgerRepo := storage.NewLedgerRepoAdapter(postgresRepo)
	accountRepo := storage.NewAccountRepoAdapter(postgresRepo)

	// Provider client for line item and customer lookups
	stripeClient, err := provider.NewStripeClient(cfg.Stripe.APIKey)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Stripe client", zap.Error(err))
	}

	// Price catalog from configuration
	priceCatalog := catalog.NewStaticCatalog(cfg.Catalog)
	logger.Log.Info("Loaded price catalog", zap.Strings("price_ids", priceCatalog.PriceIDs()))

	// Create service wiring the ledger, account directory, catalog and provider
	service := usecase.NewEventService(ledgerRepo, accountRepo, priceCatalog, stripeClient)

	// Retry worker drains the queue, either on the HTTP trigger or its poll loop
	worker, err := retryworker.NewWorker(cfg, logger.Log, queueRepo, service)
	if err != nil {
		logger.Log.Fatal("Failed to initialize retry worker", zap.Error(err))
	}

	// HTTP server: webhook endpoint, retry trigger, health checks
	httpServer := receiver.NewServer(strconv.Itoa(cfg.Server.Port), cfg, logger.Log, service, queueRepo, worker)

	// Register metrics handler if enabled BEFORE starting the server
	if metricsEnabled {
		httpServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Server.Port))
	} else {
		logger.Log.Info("Metrics endpoint disabled for environment", zap.String("environment", cfg.Environment))
	}

	httpServer.Start()

	logger.Log.Info("Endpoints available",
		zap.String("webhook", fmt.Sprintf("http://localhost:%d/webhooks/stripe", cfg.Server.Port)),
		zap.String("retry_trigger", fmt.Sprintf("http://localhost:%d/internal/retries/process", cfg.Server.Port)),
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
	)

	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	// Start the optional poll loop
	if err := worker.Start(mainCtx); err != nil {
		logger.Log.Fatal("Failed to start retry worker", zap.Error(err))
	}

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	mainCancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", 30*time.Second))

	var wg sync.WaitGroup
	wg.Add(3)

	// Shutdown HTTP server first so no new webhooks arrive mid-drain
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping HTTP server")
		start := time.Now()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping HTTP server", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] HTTP server stopped",
				zap.Duration("duration", time.Since(start)))
		}
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping HTTP server",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Shutdown retry worker
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping retry worker")
		start := time.Now()
		worker.Stop()
		logger.Log.Info("[shutdown] Retry worker stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping retry worker",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Close database connection
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Closing PostgreSQL connection")
		start := time.Now()
		if err := postgresRepo.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] PostgreSQL connection closed",
				zap.Duration("duration", time.Since(start)))
		}
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while closing database connection",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Wait with a timeout for all components to shut down
	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("Credit Webhook Processor shutdown complete")
}

// Initialize PostgreSQL repository
func initPostgresRepo(cfg *config.Config) (*storage.PostgresRepo, error) {
	if cfg.Database.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate, cfg.RetryQueue)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}
