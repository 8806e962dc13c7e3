package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopping-assistant/config"
	"shopping-assistant/internal/api"
	"shopping-assistant/internal/broker"
	"shopping-assistant/internal/catalog"
	"shopping-assistant/internal/chat"
	"shopping-assistant/internal/checkout"
	"shopping-assistant/internal/commerce"
	"shopping-assistant/internal/llm"
	"shopping-assistant/internal/redisclient"
	"shopping-assistant/internal/service"
	"shopping-assistant/internal/store"
	"shopping-assistant/internal/tools"
	"shopping-assistant/internal/util"
	"shopping-assistant/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, "shopping-assistant"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting shopping assistant")

	tp, err := util.InitTracer("shopping-assistant", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	// Redis backs the search cache, checkout locks and confirm keys. Without
	// it those fall back to process-local state.
	var (
		searchCache catalog.Cache
		idem        service.IdempotencyStore
		locker      checkout.Locker
		redisClient *redisclient.Client
	)
	redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, using in-process state", zap.Error(err))
		redisClient = nil
	} else {
		defer redisClient.Close()
		searchCache, idem, locker = redisClient, redisClient, redisClient
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	var publisher service.CheckoutEventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicCheckout)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var (
		ledger       *store.Store
		ledgerWorker *worker.CheckoutLedgerWorker
	)
	if cfg.Database.URL != "" {
		ledger, err = store.NewStore(cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer ledger.Close()
		if err := ledger.Migrate(context.Background()); err != nil {
			logger.Fatal("Failed to migrate checkout ledger", zap.Error(err))
		}
		logger.Info("Database connected")

		if len(cfg.Kafka.Brokers) > 0 {
			consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicCheckout, cfg.Kafka.ConsumerGroup)
			ledgerWorker = worker.NewCheckoutLedgerWorker(consumer, ledger)
			go func() {
				if err := ledgerWorker.Start(workerCtx); err != nil && err != context.Canceled {
					logger.Error("Checkout ledger worker error", zap.Error(err))
				}
			}()
		}
	}

	model, err := llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
	if err != nil {
		logger.Fatal("Failed to initialize language model client", zap.Error(err))
	}

	amazon, err := catalog.NewAmazonSearcher(cfg.Catalog.BaseURL, cfg.Catalog.FetchTimeout, cfg.Catalog.RPS, cfg.Catalog.Burst)
	if err != nil {
		logger.Fatal("Failed to initialize catalog searcher", zap.Error(err))
	}
	var searcher catalog.Searcher = amazon
	if searchCache != nil && cfg.Catalog.SearchCacheTTL > 0 {
		searcher = catalog.NewCachedSearcher(amazon, searchCache, cfg.Catalog.SearchCacheTTL)
	}

	var enricher tools.Enricher
	if cfg.Catalog.EnrichResults {
		enricher = service.NewProductEnricher(model)
	}
	registry, err := tools.NewDefaultRegistry(searcher, enricher, service.NewProductAdvisor(model))
	if err != nil {
		logger.Fatal("Failed to build tool registry", zap.Error(err))
	}

	orchestrator := chat.NewOrchestrator(model, registry, cfg.Chat.SystemPrompt, cfg.Chat.MaxSteps)
	sessions := chat.NewSessionStore(orchestrator, cfg.Chat.SessionTTL)

	commerceClient, err := commerce.NewClient(cfg.Commerce.CommerceBaseURL(), cfg.Commerce.APIKey, cfg.Commerce.Timeout)
	if err != nil {
		logger.Fatal("Failed to initialize commerce client", zap.Error(err))
	}
	checkoutService := service.NewCheckoutService(commerceClient, idem, publisher, service.CheckoutServiceConfig{
		CacheSize:     cfg.Checkout.IntentCacheSize,
		CacheTTL:      cfg.Checkout.IntentCacheTTL,
		ConfirmKeyTTL: cfg.Checkout.ConfirmIdempotencyTTL,
	})
	flowConfig := checkout.FlowConfig{
		Offer:  checkout.RetryPolicy{Interval: cfg.Checkout.OfferPollInterval, MaxAttempts: cfg.Checkout.OfferPollMaxAttempts},
		Settle: checkout.RetryPolicy{Interval: cfg.Checkout.SettlePollInterval, MaxAttempts: cfg.Checkout.SettlePollMaxAttempts},
	}
	flows := checkout.NewManager(checkoutService, locker, sessions, flowConfig, cfg.Checkout.SessionLockTTL)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	handler := api.NewHandler(orchestrator, sessions, checkoutService, flows)
	if redisClient != nil {
		handler.AddReadinessCheck("redis", redisClient)
	}
	if ledger != nil {
		handler.SetLedger(ledger)
		handler.AddReadinessCheck("database", ledger)
	}
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if ledgerWorker != nil {
		if err := ledgerWorker.Stop(); err != nil {
			logger.Warn("Error stopping checkout ledger worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}
