package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/example/marketplace/gateway"
	"github.com/example/marketplace/pkg/cart"
	"github.com/example/marketplace/pkg/catalog"
	"github.com/example/marketplace/pkg/config"
	"github.com/example/marketplace/pkg/discovery"
	"github.com/example/marketplace/pkg/fee"
	"github.com/example/marketplace/pkg/grpc"
	"github.com/example/marketplace/pkg/logging"
	"github.com/example/marketplace/pkg/notify"
	"github.com/example/marketplace/pkg/repository"
	"go.uber.org/zap"
)

func main() {
	configPath := "config/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Setup logger
	logger, err := logging.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting API Gateway",
		zap.Int("port", cfg.Gateway.Port),
		zap.String("host", cfg.Gateway.Host))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup service discovery
	sd, err := discovery.NewServiceDiscovery(&cfg.Etcd, logger.Named("discovery"))
	if err != nil {
		logger.Warn("Failed to connect to etcd, continuing without service discovery", zap.Error(err))
		sd = nil
	}

	clients := grpc.NewClientManager(cfg, logger.Named("clients"), sd)
	if err := clients.Connect(); err != nil {
		logger.Fatal("Failed to connect to order service", zap.Error(err))
	}
	defer clients.Close()

	// Cart storage and the cross-process change feed
	redisRepo := repository.NewRedisRepository(&cfg.Redis)
	defer redisRepo.Close()
	if err := redisRepo.Ping(ctx); err != nil {
		logger.Warn("Redis connection failed", zap.Error(err))
	}
	notifier := repository.NewCartNotifier(redisRepo, logger.Named("cart-notifier"))

	// Cart changes arriving over Redis are fanned out to local streams by the hub
	hub := notify.NewHub(actor.NewActorSystem(), logger.Named("notify"))
	if err := hub.Start(); err != nil {
		logger.Fatal("Failed to start cart relay", zap.Error(err))
	}
	defer hub.Stop()

	go func() {
		if err := hub.Pump(ctx, notifier); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Cart change listener stopped", zap.Error(err))
		}
	}()

	rates, err := fee.RatesFromConfig(cfg.Fees)
	if err != nil {
		logger.Fatal("Invalid fee configuration", zap.Error(err))
	}

	// Cart lines are attributed and priced from the catalog tables
	db, err := repository.OpenMySQL(&cfg.MySQL)
	if err != nil {
		logger.Fatal("Failed to connect to catalog database", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	resolver := catalog.NewResolver(repository.CatalogLookups(db), cfg.Catalog.LookupTimeout, logger.Named("catalog"))

	carts := cart.NewStore(redisRepo, cart.Options{
		MaxQuantity: cfg.Cart.MaxQuantity,
		Resolver:    resolver,
		Publisher:   notifier,
		Subscriber:  hub,
		Logger:      logger.Named("cart"),
	})

	if cfg.Gateway.PaymentCallbackToken == "" {
		logger.Warn("No payment callback token configured, payment callbacks will be refused")
	}

	// Create gateway
	gw := gateway.NewGateway(cfg, logger, carts, clients.OrderClient(), fee.NewCalculator(rates))
	gw.SetupRoutes()

	// Start gateway in goroutine
	gwErr := make(chan error, 1)
	go func() {
		if err := gw.Start(); err != nil {
			gwErr <- err
		}
	}()

	logger.Info("Gateway started successfully")

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("Received shutdown signal")
	case err := <-gwErr:
		logger.Error("Gateway error", zap.Error(err))
	}

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Gateway shutdown incomplete", zap.Error(err))
	}

	if sd != nil {
		sd.Close()
	}

	logger.Info("Gateway stopped")
}
