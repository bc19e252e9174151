// Package app holds the start-up wiring shared by the service binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/cache"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/config"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/db"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/discovery"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/handlers"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/logging"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/metrics"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/observability"
)

const shutdownTimeout = 10 * time.Second

// Telemetry sets up OpenTelemetry when an endpoint is configured and returns
// the service logger. The shutdown func flushes exporters and the logger.
func Telemetry(ctx context.Context, cfg *config.Config) (*zap.Logger, func()) {
	if !cfg.TracingEnabled() {
		logger := logging.New(cfg.ServiceName, false)
		return logger, func() { _ = logger.Sync() }
	}

	otelShutdown, err := observability.Setup(ctx, cfg)
	logger := logging.New(cfg.ServiceName, err == nil)
	if err != nil {
		logger.Warn("⚠️ OpenTelemetry setup incomplete", zap.Error(err))
	}

	return logger, func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			logger.Warn("⚠️ OpenTelemetry shutdown", zap.Error(err))
		}
		_ = logger.Sync()
	}
}

// NewMetrics registers the saga counters plus the Go runtime collectors on a
// fresh registry.
func NewMetrics() (*metrics.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.New(reg), reg
}

// NewRouter returns a gin engine with recovery, request metrics and a
// /metrics endpoint for reg.
func NewRouter(m *metrics.Metrics, reg *prometheus.Registry, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), handlers.Metrics(m), handlers.RequestLogger(logger))
	router.GET("/metrics", gin.WrapH(metrics.Handler(reg)))
	return router
}

// OpenBroker connects to the configured broker.
func OpenBroker(cfg *config.Config, logger *zap.Logger) (messaging.Broker, error) {
	switch cfg.Broker {
	case config.BrokerRabbitMQ:
		return messaging.NewRabbitMQ(cfg.RabbitMQURL, logger)
	case config.BrokerKafka:
		return messaging.NewKafka(cfg.KafkaBrokers, cfg.ServiceName, logger)
	case config.BrokerMemory:
		logger.Warn("⚠️ Using in-memory broker, events stay inside this process")
		return messaging.NewMemoryBroker(), nil
	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Broker)
	}
}

// OpenPostgres connects and applies the schema.
func OpenPostgres(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*db.PostgresDB, error) {
	database, err := db.NewPostgresDB(ctx, cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, logger)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// OpenCache connects to Redis, or returns nil when no address is configured.
func OpenCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*cache.RedisCache, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	return cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.CacheTTL, logger)
}

// RegisterConsul registers the service when Consul is configured. The
// returned client is nil when Consul is disabled or unreachable.
func RegisterConsul(cfg *config.Config, logger *zap.Logger) (*discovery.ConsulClient, func()) {
	if !cfg.ConsulEnabled() {
		return nil, func() {}
	}

	consul, err := discovery.NewConsulClient(cfg.ConsulHost, cfg.ConsulPort, logger)
	if err != nil {
		logger.Warn("⚠️ Failed to connect to Consul, using static URLs", zap.Error(err))
		return nil, func() {}
	}

	svc := discovery.NewServiceConfig(cfg.ServiceName, cfg.HTTPPort, "ordersaga", config.ServiceVersion)
	if err := consul.Register(svc); err != nil {
		logger.Warn("⚠️ Failed to register with Consul", zap.Error(err))
		return consul, func() {}
	}

	return consul, func() {
		if err := consul.Deregister(svc.ID); err != nil {
			logger.Warn("⚠️ Failed to deregister from Consul", zap.Error(err))
		}
	}
}

// Serve runs handler on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(handler, "http-server"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("🚀 HTTP server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("🛑 Shutting down HTTP server")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return <-errCh
}
