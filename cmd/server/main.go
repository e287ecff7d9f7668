// Command server wires the payee enrichment pipeline's collaborators,
// stage workers, async tracker, orchestrator and HTTP surface together
// and runs until interrupted.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"iaros/payee-enrichment-engine/internal/apierrors"
	"iaros/payee-enrichment-engine/internal/asynctracker"
	"iaros/payee-enrichment-engine/internal/capabilities"
	"iaros/payee-enrichment-engine/internal/config"
	"iaros/payee-enrichment-engine/internal/database"
	"iaros/payee-enrichment-engine/internal/exclusion"
	"iaros/payee-enrichment-engine/internal/httpapi"
	"iaros/payee-enrichment-engine/internal/logging"
	"iaros/payee-enrichment-engine/internal/metrics"
	"iaros/payee-enrichment-engine/internal/orchestrator"
	"iaros/payee-enrichment-engine/internal/queue"
	"iaros/payee-enrichment-engine/internal/ratelimit"
	"iaros/payee-enrichment-engine/internal/repository"
	"iaros/payee-enrichment-engine/internal/webhook"
	"iaros/payee-enrichment-engine/internal/workers"
)

func main() {
	cfg := config.Load()
	logger := logging.New("payee-enrichment-engine")
	defer logger.Sync()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("connect to record store", zap.Error(err))
	}
	defer db.Close()
	if cfg.MigrationsDir != "" {
		if err := db.Migrate(cfg.MigrationsDir); err != nil {
			logger.Fatal("migrate record store", zap.Error(err))
		}
	} else if err := db.AutoMigrate(); err != nil {
		logger.Fatal("auto-migrate record store", zap.Error(err))
	}

	redisClient := initRedis(cfg, logger)
	defer redisClient.Close()

	bus, err := queue.Connect(cfg.NATSURL)
	if err != nil {
		logger.Fatal("connect to queue backbone", zap.Error(err))
	}
	defer bus.Close()

	reg := prometheus.NewRegistry()
	metricsRegistry := metrics.New(reg)

	batches := repository.NewBatchRepository(db.DB)
	records := repository.NewRecordRepository(db.DB)
	keywords := repository.NewKeywordRepository(db.DB)
	suppliers := repository.NewSupplierRepository(db.DB)
	searches := repository.NewAsyncSearchRepository(db.DB)
	webhooks := repository.NewWebhookRepository(db.DB)

	filter := exclusion.New(keywords, 30*time.Second)

	classifier, addressValidator, cardNetwork, predictor := initCapabilities(cfg, logger.Logger)
	supplierMatcher := capabilities.NewSupplierMatcher(suppliers)

	limiters := initLimiters(cfg, redisClient)

	errHandler := apierrors.NewHandler("payee-enrichment-engine", logger.Logger, metricsRegistry, nil)

	pools := workerPools(cfg)

	classifyWorker := workers.NewClassifyWorker(pools.classify, limiters.classify, classifier, filter, records, batches, logger, errHandler)
	supplierWorker := workers.NewSupplierMatchWorker(pools.supplier, limiters.supplier, supplierMatcher, records, batches, logger, errHandler)
	addressWorker := workers.NewAddressValidateWorker(pools.address, limiters.address, addressValidator, records, batches, logger, errHandler)
	predictWorker := workers.NewPredictWorker(pools.predict, limiters.predict, predictor, cfg.PredictorModelID, records, batches, logger, errHandler)

	tracker := asynctracker.New(cardNetwork, searches, records, batches, limiters.merchant, logger, asynctracker.Config{
		PollInterval: cfg.MerchantPollInterval,
	})
	tracker.Metrics = metricsRegistry
	merchantDispatcher := workers.NewMerchantDispatcher(tracker, cfg.MerchantMaxBatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, w := range []*workers.StageWorker{classifyWorker, supplierWorker, addressWorker, predictWorker} {
		w.Metrics = metricsRegistry
		startWorker(ctx, w, bus, logger)
	}

	if err := tracker.StartSweeper(ctx); err != nil {
		logger.Fatal("start async search sweeper", zap.Error(err))
	}
	defer tracker.StopSweeper()

	orch := orchestrator.New(batches, records, searches, bus, merchantDispatcher, logger, metricsRegistry, orchestrator.Config{
		PredictionWaitsForEnrichment: cfg.PredictionWaitsForEnrichment,
		SubBatchSize:                 cfg.BatchSubBatchSize,
	})
	if err := orch.StartSweeper(ctx, 15*time.Second); err != nil {
		logger.Fatal("start pipeline orchestrator sweeper", zap.Error(err))
	}
	defer orch.StopSweeper()

	webhookReceiver := webhook.New(tracker, webhooks, cfg.CardNetworkWebhookSecret, cfg.CardNetworkWebhookEnabled, logger, metricsRegistry)

	httpServer := httpapi.NewServer(httpapi.Config{
		Batches:      batches,
		Records:      records,
		Keywords:     keywords,
		Filter:       filter,
		Orchestrator: orch,
		Classifier:   classifier,
		DB:           db,
		Logger:       logger,
		Gatherer:     reg,

		AdminAuthEnabled: cfg.AdminAuthEnabled,
		AdminJWTSecret:   cfg.AdminJWTSecret,
	})
	webhookReceiver.RegisterRoutes(httpServer.Engine())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpServer.Engine(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	startServer(server, logger)
}

func initRedis(cfg *config.Config, logger *logging.Logger) *redis.Client {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("parse redis url, using default", zap.Error(err))
		opt = &redis.Options{Addr: "localhost:6379"}
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Error("ping redis", zap.Error(err))
	}
	return client
}

func initCapabilities(cfg *config.Config, logger *zap.Logger) (
	capabilities.Classifier,
	capabilities.AddressValidator,
	capabilities.CardNetworkEnricher,
	capabilities.Predictor,
) {
	classifier := capabilities.NewHTTPClassifier(capabilities.CollaboratorConfig{
		Name:    "classifier",
		BaseURL: "https://classifier.internal",
		APIKey:  cfg.ClassifierAPIKey,
	}, cfg.ClassifierModel, logger)

	addressValidator := capabilities.NewHTTPAddressValidator(capabilities.CollaboratorConfig{
		Name:    "address_validator",
		BaseURL: "https://address-validator.internal",
		APIKey:  cfg.AddressValidatorAPIKey,
	}, logger)

	cardNetwork := capabilities.NewHTTPCardNetworkEnricher(capabilities.CollaboratorConfig{
		Name:    "card_network",
		BaseURL: cardNetworkBaseURL(cfg.CardNetworkEnv),
	}, cfg.CardNetworkConsumerKey, cfg.CardNetworkPrivateKey, logger)

	predictor := capabilities.NewHTTPPredictor(capabilities.CollaboratorConfig{
		Name:    "predictor",
		BaseURL: "https://predictor.internal",
		APIKey:  cfg.PredictorAPIKey,
	}, logger)

	return classifier, addressValidator, cardNetwork, predictor
}

func cardNetworkBaseURL(env string) string {
	if env == "production" {
		return "https://api.mastercard.com/bulk-merchant-id"
	}
	return "https://sandbox.api.mastercard.com/bulk-merchant-id"
}

type limiterSet struct {
	classify *ratelimit.Limiter
	supplier *ratelimit.Limiter
	address  *ratelimit.Limiter
	merchant *ratelimit.Limiter
	predict  *ratelimit.Limiter
}

func initLimiters(cfg *config.Config, client *redis.Client) limiterSet {
	return limiterSet{
		classify: ratelimit.New(client, "classify", cfg.RateLimits.Classify.Tokens, cfg.RateLimits.Classify.Interval),
		supplier: ratelimit.New(client, "supplier_match", cfg.RateLimits.Supplier.Tokens, cfg.RateLimits.Supplier.Interval),
		address:  ratelimit.New(client, "address_validate", cfg.RateLimits.Address.Tokens, cfg.RateLimits.Address.Interval),
		merchant: ratelimit.New(client, "merchant_enrich", cfg.RateLimits.Merchant.Tokens, cfg.RateLimits.Merchant.Interval),
		predict:  ratelimit.New(client, "predict", cfg.RateLimits.Predict.Tokens, cfg.RateLimits.Predict.Interval),
	}
}

type poolSet struct {
	classify *workers.Pool
	supplier *workers.Pool
	address  *workers.Pool
	predict  *workers.Pool
}

func workerPools(cfg *config.Config) poolSet {
	return poolSet{
		classify: workers.NewPool(cfg.WorkerConcurrency.Classify),
		supplier: workers.NewPool(cfg.WorkerConcurrency.Supplier),
		address:  workers.NewPool(cfg.WorkerConcurrency.Address),
		predict:  workers.NewPool(cfg.WorkerConcurrency.Predict),
	}
}

func startWorker(ctx context.Context, w *workers.StageWorker, bus *queue.Bus, logger *logging.Logger) {
	if err := w.Start(ctx, bus); err != nil {
		logger.Fatal("start stage worker", zap.String("stage", string(w.Stage)), zap.Error(err))
	}
}

func startServer(server *http.Server, logger *logging.Logger) {
	go func() {
		logger.Info("starting http server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server shutdown complete")
}
