package orders

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	instrumentationName = "github.com/ariefcatur/go-cart-orders/internal/orders"
	defaultServiceName  = "order-api"
	defaultStockRetries = 3
)

// Deps are the collaborators shared by CartService and Engine.
type Deps struct {
	Catalog   CatalogStore
	Customers CustomerStore
	Carts     CartStore
	Orders    OrderStore
	Events    EventPublisher // optional
	Logger    *zap.Logger    // optional
}

type Option func(*base)

func WithClock(now func() time.Time) Option { return func(r *base) { r.now = now } }

func WithTracer(t trace.Tracer) Option { return func(r *base) { r.tracer = t } }

// WithServiceName sets the producer name stamped on published events.
func WithServiceName(name string) Option { return func(r *base) { r.service = name } }

// WithStockRetries bounds how often a finalize re-reads a product after a
// version conflict.
func WithStockRetries(n int) Option {
	return func(r *base) {
		if n > 0 {
			r.stockRetries = n
		}
	}
}

type base struct {
	log          *zap.Logger
	tracer       trace.Tracer
	events       EventPublisher
	now          func() time.Time
	service      string
	stockRetries int
	locks        *keyedMutex
}

func newBase(d Deps, opts []Option) base {
	r := base{
		log:          d.Logger,
		events:       d.Events,
		tracer:       otel.Tracer(instrumentationName),
		now:          func() time.Time { return time.Now().UTC() },
		service:      defaultServiceName,
		stockRetries: defaultStockRetries,
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.events == nil {
		r.events = discardPublisher{}
	}
	for _, o := range opts {
		o(&r)
	}
	r.locks = newKeyedMutex()
	return r
}

func (r *base) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, op, trace.WithAttributes(attrs...))
}

// finish is deferred by every public operation. It turns a panic into an
// UnexpectedError result and records the outcome on the span and the log.
func finish[T any](r *base, span trace.Span, op string, res *Result[T]) {
	if p := recover(); p != nil {
		cause := fmt.Errorf("panic in %s: %v", op, p)
		*res = Fail[T](unexpected(cause))
		r.log.Error("unexpected error",
			zap.String("op", op),
			zap.Error(cause),
			zap.Stack("stack"),
		)
	}
	defer span.End()

	if res.Success {
		span.SetStatus(codes.Ok, res.Message)
		return
	}
	kind := res.Kind()
	span.SetAttributes(attribute.String("outcome.kind", kind.String()))
	span.SetStatus(codes.Error, res.Message)

	switch kind {
	case KindUnexpected:
		// logged above
	case KindStoreFailure:
		r.log.Warn("store failure", zap.String("op", op), zap.String("message", res.Message))
	default:
		r.log.Debug("operation rejected",
			zap.String("op", op),
			zap.Stringer("kind", kind),
			zap.String("message", res.Message),
		)
	}
}

func (r *base) emit(ctx context.Context, topic, eventType string, orderID int64, payload any) {
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  EventVersion,
		OccurredAt:    r.now(),
		Producer:      r.service,
		CorrelationID: strconv.FormatInt(orderID, 10),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		ev.TraceID = sc.TraceID().String()
	}
	b, err := marshalPayload(payload)
	if err != nil {
		r.log.Warn("encode event payload", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	ev.Payload = b
	if err := r.events.Publish(ctx, topic, PartitionKey(orderID), ev); err != nil {
		r.log.Warn("publish event",
			zap.String("event_type", eventType),
			zap.Int64("order_id", orderID),
			zap.Error(err),
		)
	}
}

func cartKey(id int64) string    { return "cart:" + strconv.FormatInt(id, 10) }
func orderKey(id int64) string   { return "order:" + strconv.FormatInt(id, 10) }
func productKey(id int64) string { return "product:" + strconv.FormatInt(id, 10) }
