package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-cart-orders/internal/config"
	kafkax "github.com/ariefcatur/go-cart-orders/internal/kafka"
	"github.com/ariefcatur/go-cart-orders/internal/logx"
	"github.com/ariefcatur/go-cart-orders/internal/observability"
	"github.com/ariefcatur/go-cart-orders/internal/orders"
	"github.com/ariefcatur/go-cart-orders/internal/projection"
	"github.com/ariefcatur/go-cart-orders/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	name := cfg.ServiceName + "-projector"
	log := logx.New(cfg.LogLevel, name)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, name, log); err != nil {
		log.Fatal("projector stopped", zap.Error(err))
	}
}

func run(cfg config.Config, name string, log *zap.Logger) error {
	if len(cfg.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is empty")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, observability.Options{
		ServiceName: name,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
	}

	svc := &projection.Service{
		Cache: redisx.NewStatusCache(rdb),
		Dedup: redisx.NewDeduper(rdb, name),
		Log:   log,
	}

	// one consumer per lifecycle topic, same group
	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range orders.LifecycleTopics {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, topic, cfg.ProjectorWorkers, log)
		g.Go(func() error {
			log.Info("consumer started",
				zap.String("group", cfg.ProjectorGroup),
				zap.String("topic", cons.Topic()),
				zap.Int("workers", cfg.ProjectorWorkers),
			)
			if err := cons.Start(gctx, svc.HandleMessage); err != nil {
				return fmt.Errorf("consume %s: %w", cons.Topic(), err)
			}
			return nil
		})
	}

	err = g.Wait()
	log.Info("shutting down")
	return err
}
