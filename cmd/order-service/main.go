package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/app"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/client"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/config"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/db"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/discovery"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/handlers"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/outbox"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/publisher"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/service"
)

const productClientTimeout = 10 * time.Second

type orderStore interface {
	service.OrderStore
	service.OutboxWriter
	outbox.Store
}

func main() {
	cfg, err := config.Load(config.OrderServiceName)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, flush := app.Telemetry(ctx, cfg)
	defer flush()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("❌ order-service stopped", zap.Error(err))
	}
	logger.Info("👋 order-service stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	m, reg := app.NewMetrics()

	broker, err := app.OpenBroker(cfg, logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	consul, deregister := app.RegisterConsul(cfg, logger)
	defer deregister()

	var (
		products service.ProductStore
		orders   orderStore
	)
	switch cfg.Store {
	case config.StorePostgres:
		database, err := app.OpenPostgres(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer database.Close()

		orders = db.NewOrderRepository(database)
		if cfg.ProductsVia == config.ProductsViaDB {
			products = db.NewProductRepository(database)
		}
	default:
		orders = db.NewMemoryOrderRepository()
		if cfg.ProductsVia == config.ProductsViaDB {
			products = db.NewMemoryProductRepository()
		}
	}

	if cfg.ProductsVia == config.ProductsViaHTTP {
		resolve := discovery.ResolveOr(consul, config.ProductServiceName, cfg.ProductServiceURL)
		products = client.NewProductClient(resolve, productClientTimeout, logger)
	}

	var opts []service.Option
	if cfg.OutboxEnabled {
		opts = append(opts, service.WithOutbox(orders))
	}

	compensator := service.NewCompensator(products, cfg.CompensationAttempts, logger, m)
	orderPublisher := publisher.NewOrderPublisher(broker, cfg.PublishTimeout, logger, m)
	orderService := service.NewOrderService(products, orders, orderPublisher, compensator, logger, m, opts...)

	router := app.NewRouter(m, reg, logger)
	handlers.NewOrderHandler(orderService, cfg.ServiceName, logger).Register(router)

	g, ctx := errgroup.WithContext(ctx)
	if cfg.OutboxEnabled {
		relay := outbox.NewRelay(orders, broker, cfg.OutboxInterval, cfg.OutboxBatch, cfg.PublishTimeout, logger)
		g.Go(func() error {
			relay.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		return app.Serve(ctx, cfg.ListenAddr(), router, logger)
	})

	logger.Info("🚀 order-service started",
		zap.String("store", cfg.Store),
		zap.String("broker", cfg.Broker),
		zap.String("products_via", cfg.ProductsVia),
		zap.Bool("outbox", cfg.OutboxEnabled),
	)
	return g.Wait()
}
