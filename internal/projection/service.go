// Package projection keeps the Redis order-status cache in step with the
// lifecycle events on Kafka.
package projection

import (
	"context"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-cart-orders/internal/kafka"
	"github.com/ariefcatur/go-cart-orders/internal/orders"
	"github.com/ariefcatur/go-cart-orders/internal/redisx"
)

type StatusStore interface {
	Put(ctx context.Context, s redisx.OrderStatus) (bool, error)
	Delete(ctx context.Context, orderID int64) error
}

type Deduper interface {
	MarkSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type Service struct {
	Cache StatusStore
	Dedup Deduper
	Log   *zap.Logger
}

// HandleMessage is installed as the consumer handler on every lifecycle topic.
func (s *Service) HandleMessage(ctx context.Context, m kafkago.Message) (err error) {
	ctx = kafkax.ExtractTrace(ctx, m)
	ctx, span := otel.Tracer("github.com/ariefcatur/go-cart-orders/internal/projection").
		Start(ctx, "projection.HandleMessage", traceAttrs(m)...)
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	log := s.logger()

	// 1) decode envelope
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		// a poison message is skipped, not retried
		log.Warn("drop undecodable message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventVersion != orders.EventVersion {
		log.Warn("drop unsupported event version",
			zap.String("event_id", env.EventID),
			zap.Int("event_version", env.EventVersion),
		)
		return nil
	}
	if !handled(env.EventType) {
		return nil
	}
	ref, err := kafkax.UnwrapPayload[orders.OrderRef](env.Payload)
	if err != nil {
		log.Warn("drop undecodable payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}
	if !ref.Status.Valid() || ref.OrderID <= 0 {
		log.Warn("drop invalid order reference",
			zap.String("event_id", env.EventID),
			zap.Int64("order_id", ref.OrderID),
			zap.String("status", string(ref.Status)),
		)
		return nil
	}

	// 2) dedup by event id
	first, err := s.Dedup.MarkSeen(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		log.Debug("duplicate event", zap.String("event_id", env.EventID))
		return nil
	}

	// 3) apply; on failure the marker is dropped so redelivery retries
	if err := s.apply(ctx, env.EventType, ref); err != nil {
		if ferr := s.Dedup.Forget(ctx, env.EventID); ferr != nil {
			log.Warn("forget dedup marker", zap.String("event_id", env.EventID), zap.Error(ferr))
		}
		return err
	}
	return nil
}

func (s *Service) apply(ctx context.Context, eventType string, ref orders.OrderRef) error {
	if eventType == orders.EventOrderRemoved {
		return s.Cache.Delete(ctx, ref.OrderID)
	}
	wrote, err := s.Cache.Put(ctx, redisx.OrderStatus{
		OrderID:   ref.OrderID,
		Status:    ref.Status,
		Version:   ref.Version,
		UpdatedAt: ref.UpdatedAt,
	})
	if err != nil {
		return err
	}
	if !wrote {
		s.logger().Debug("stale status ignored",
			zap.Int64("order_id", ref.OrderID),
			zap.Int("version", ref.Version),
		)
	}
	return nil
}

func handled(eventType string) bool {
	switch eventType {
	case orders.EventOrderCreated, orders.EventOrderFinalized, orders.EventOrderCancelled,
		orders.EventOrderUpdated, orders.EventOrderRemoved:
		return true
	}
	return false
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func traceAttrs(m kafkago.Message) []trace.SpanStartOption {
	return []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(m.Topic),
			attribute.Int("messaging.kafka.partition", m.Partition),
			attribute.Int64("messaging.kafka.offset", m.Offset),
		),
	}
}
