package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/emmanuel-dcoder/shopping-api/internal/cache"
	"github.com/emmanuel-dcoder/shopping-api/internal/cart"
	"github.com/emmanuel-dcoder/shopping-api/internal/config"
	"github.com/emmanuel-dcoder/shopping-api/internal/database"
	"github.com/emmanuel-dcoder/shopping-api/internal/httpapi"
	"github.com/emmanuel-dcoder/shopping-api/internal/kafka"
	"github.com/emmanuel-dcoder/shopping-api/internal/observability"
	"github.com/emmanuel-dcoder/shopping-api/internal/order"
	"github.com/emmanuel-dcoder/shopping-api/internal/payment"
	"github.com/emmanuel-dcoder/shopping-api/internal/stock"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Fatal("postgres connect", zap.Error(err))
	}
	defer pool.Close()

	// Redis when configured, in-process LRU otherwise.
	var store cache.Store
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis connect", zap.Error(err))
		}
		defer func() { _ = client.Close() }()
		store = cache.NewRedis(client)
		logger.Info("cache backend: redis", zap.String("addr", cfg.Redis.Addr))
	} else {
		mem, err := cache.NewMemory(cfg.CacheCap)
		if err != nil {
			logger.Fatal("memory cache init", zap.Error(err))
		}
		store = mem
		logger.Info("cache backend: in-memory LRU", zap.Int("capacity", cfg.CacheCap))
	}

	metrics := observability.NewProm("shopping_api")

	products := database.NewProductRepo(pool)
	carts := database.NewCartRepo(pool)
	orders := database.NewOrderRepo(pool)
	users := database.NewUserRepo(pool)

	ledger := stock.NewLedger(products, store, cfg.Retry, logger, metrics)
	cartSvc := cart.NewService(carts, ledger, store, cfg.Retry, logger, metrics)
	gateway := payment.NewClient(cfg.Paystack.BaseURL, cfg.Paystack.SecretKey, logger)

	var publisher order.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer func() { _ = producer.Close() }()
		publisher = producer
		logger.Info("kafka producer enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	orchestrator := order.NewOrchestrator(users, orders, cartSvc, ledger, gateway, publisher, store, logger, metrics)
	reconciler := order.NewReconciler(orchestrator, cfg.Paystack.SecretKey, cfg.Reconcile.PendingAge, logger)
	go reconciler.Run(ctx, cfg.Reconcile.Interval)

	server := httpapi.New(cartSvc, orchestrator, ledger, reconciler, metrics.Handler(), logger, metrics)

	logger.Info("server listening", zap.String("addr", cfg.HTTPAddr))
	if err := server.ListenAndServe(ctx, cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("listen", zap.Error(err))
	}
	logger.Info("server stopped")
}
