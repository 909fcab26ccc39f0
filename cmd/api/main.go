package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-cart-orders/internal/config"
	"github.com/ariefcatur/go-cart-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-cart-orders/internal/kafka"
	"github.com/ariefcatur/go-cart-orders/internal/logx"
	"github.com/ariefcatur/go-cart-orders/internal/observability"
	"github.com/ariefcatur/go-cart-orders/internal/orders"
	"github.com/ariefcatur/go-cart-orders/internal/postgres"
	"github.com/ariefcatur/go-cart-orders/internal/redisx"
	"github.com/ariefcatur/go-cart-orders/internal/sqlstore"
)

// version is set with -ldflags "-X main.version=..."
var version = "dev"

type store interface {
	orders.CatalogStore
	orders.CustomerStore
	orders.CartStore
	orders.OrderStore
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logx.New(cfg.LogLevel, cfg.ServiceName)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("order api stopped", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, observability.Options{
		ServiceName: cfg.ServiceName,
		Version:     version,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	// DB
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store %s: %w", cfg.StoreDriver, err)
	}
	defer closeStore()
	log.Info("store ready", zap.String("driver", cfg.StoreDriver))

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start()

	carts, engine := orders.NewWorkflow(orders.Deps{
		Catalog:   st,
		Customers: st,
		Carts:     st,
		Orders:    st,
		Events:    &kafkax.EventPublisher{P: prod},
		Logger:    log,
	},
		orders.WithServiceName(cfg.ServiceName),
		orders.WithStockRetries(cfg.StockRetries),
	)

	h := &httpx.Handler{Carts: carts, Orders: engine, Catalog: st, Log: log}

	// Redis is optional: without it the status endpoint reads the store
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("redis unavailable, status cache and idempotency keys disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
	} else {
		h.Status = redisx.NewStatusCache(rdb)
		h.Idem = redisx.NewIdempotency(rdb)
	}

	router := httpx.NewRouter(log)
	h.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	log.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	prod.Close()
	prod.WaitClosed()
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (store, func(), error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN, 0)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return &postgres.Store{DB: pool}, pool.Close, nil
	case config.StoreMySQL, config.StoreSQLite:
		dsn := cfg.MySQLDSN
		if cfg.StoreDriver == config.StoreSQLite {
			dsn = cfg.SQLitePath
		}
		s, err := sqlstore.Open(ctx, cfg.StoreDriver, dsn)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown driver %q", cfg.StoreDriver)
}
