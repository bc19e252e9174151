package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/app"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/config"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/discovery"
	"github.com/prudhivi99/Distributed-Systems/ordersaga/internal/gateway"
)

const refreshInterval = 10 * time.Second

func main() {
	cfg, err := config.Load(config.GatewayName)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, flush := app.Telemetry(ctx, cfg)
	defer flush()

	m, reg := app.NewMetrics()

	// the gateway only looks services up, it does not register itself
	var lookup gateway.LookupFunc
	if cfg.ConsulEnabled() {
		consul, err := discovery.NewConsulClient(cfg.ConsulHost, cfg.ConsulPort, logger)
		if err != nil {
			logger.Warn("⚠️ Failed to connect to Consul, using static URLs", zap.Error(err))
		} else {
			lookup = consul.GetServiceURL
		}
	}

	gw := gateway.New(lookup, []gateway.Route{
		{Service: config.ProductServiceName, Fallback: cfg.ProductServiceURL},
		{Service: config.OrderServiceName, Fallback: cfg.OrderServiceURL},
	}, logger)
	go gw.Watch(ctx, refreshInterval)

	router := app.NewRouter(m, reg, logger)
	gw.Register(router, map[string][]string{
		config.ProductServiceName: {"/products"},
		config.OrderServiceName:   {"/orders"},
	})

	if err := app.Serve(ctx, cfg.ListenAddr(), router, logger); err != nil {
		logger.Fatal("❌ api-gateway stopped", zap.Error(err))
	}
	logger.Info("👋 api-gateway stopped")
}
