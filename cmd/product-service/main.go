package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/app"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/config"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/consumer"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/db"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/handlers"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/idempotency"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/models"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/publisher"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/service"
)

const deadLetterGroup = "dead-letter-group"

func main() {
	cfg, err := config.Load(config.ProductServiceName)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, flush := app.Telemetry(ctx, cfg)
	defer flush()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("❌ product-service stopped", zap.Error(err))
	}
	logger.Info("👋 product-service stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	m, reg := app.NewMetrics()

	broker, err := app.OpenBroker(cfg, logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	redisCache, err := app.OpenCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if redisCache != nil {
		defer redisCache.Close()
	}

	var (
		catalog     db.ProductCatalog
		deadLetters consumer.DeadLetterStore
		guard       idempotency.Guard
	)
	switch cfg.Store {
	case config.StorePostgres:
		database, err := app.OpenPostgres(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer database.Close()

		catalog = db.NewProductRepository(database)
		deadLetters = db.NewDeadLetterRepository(database)
		if cfg.Idempotency == config.IdempotencyPostgres {
			guard = idempotency.NewPostgresGuard(database.Conn)
		}
	default:
		catalog = db.NewMemoryProductRepository()
		deadLetters = db.NewMemoryDeadLetterStore()
	}

	if redisCache != nil {
		catalog = db.NewCachedProductRepository(catalog, redisCache, logger)
	}

	switch cfg.Idempotency {
	case config.IdempotencyRedis:
		guard = idempotency.NewRedisGuard(redisCache, cfg.IdempotencyTTL)
	case config.IdempotencyMemory:
		guard = idempotency.NewMemoryGuard()
	}

	compensator := service.NewCompensator(catalog, cfg.CompensationAttempts, logger, m)
	stockPublisher := publisher.NewStockPublisher(broker, cfg.PublishTimeout, logger, m)
	stockConsumer := consumer.NewStockConsumer(
		service.NewStockService(catalog, compensator, logger),
		stockPublisher, guard, logger, m,
	)
	deadLetterConsumer := consumer.NewDeadLetterConsumer(
		deadLetters, stockConsumer, stockPublisher,
		cfg.DLQMaxRetries, cfg.DLQBackoff, logger, m,
	)

	_, deregister := app.RegisterConsul(cfg, logger)
	defer deregister()

	router := app.NewRouter(m, reg, logger)
	handlers.NewProductHandler(catalog, cfg.ServiceName, logger).Register(router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.NewRunner(broker, models.TopicOrderPaid, cfg.ConsumerGroup,
			cfg.ConsumerWorkers, cfg.ProcessingTimeout, stockConsumer.HandleOrderPaid, logger).Run(ctx)
	})
	g.Go(func() error {
		return consumer.NewRunner(broker, models.TopicOrderFailed, deadLetterGroup,
			cfg.ConsumerWorkers, cfg.ProcessingTimeout, deadLetterConsumer.HandleOrderFailed, logger).Run(ctx)
	})
	g.Go(func() error {
		return app.Serve(ctx, cfg.ListenAddr(), router, logger)
	})

	logger.Info("🚀 product-service started",
		zap.String("store", cfg.Store),
		zap.String("broker", cfg.Broker),
		zap.String("idempotency", cfg.Idempotency),
		zap.Int("workers", cfg.ConsumerWorkers),
	)
	return g.Wait()
}
