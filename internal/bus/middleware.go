package bus

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Middleware func(HandlerFunc) HandlerFunc

// Chain applies mws so that the first one is the outermost.
func Chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// DedupStore remembers which messages a consumer already processed.
type DedupStore interface {
	Seen(ctx context.Context, consumer, messageID string) (bool, error)
	Mark(ctx context.Context, consumer, messageID string) error
}

// Dedup skips redeliveries of messages already handled by consumer. It is only a fast path:
// store failures fall through to the handler, whose own state checks stay authoritative.
func Dedup(store DedupStore, consumer string, log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg Message) error {
			seen, err := store.Seen(ctx, consumer, msg.ID)
			if err != nil {
				log.Warn("dedup lookup failed", zap.String("consumer", consumer), zap.Error(err))
			}
			if seen {
				log.Debug("duplicate delivery skipped",
					zap.String("consumer", consumer), zap.String("message_id", msg.ID))
				return nil
			}
			if err := next(ctx, msg); err != nil {
				return err
			}
			if err := store.Mark(ctx, consumer, msg.ID); err != nil {
				log.Warn("dedup mark failed", zap.String("consumer", consumer), zap.Error(err))
			}
			return nil
		}
	}
}

// Tracing continues the producer's trace and opens one consumer span per attempt.
func Tracing(consumer string) Middleware {
	tracer := otel.Tracer("marketcore/bus")
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg Message) error {
			ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Headers))
			ctx, span := tracer.Start(ctx, msg.RoutingKey+" process",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.destination.name", msg.RoutingKey),
					attribute.String("messaging.consumer.group.name", consumer),
					attribute.String("messaging.message.id", msg.ID),
					attribute.Int("messaging.attempt", msg.Attempt),
				),
			)
			defer span.End()

			err := next(ctx, msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}

// Logging reports failed attempts.
func Logging(log *zap.Logger, consumer string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg Message) error {
			err := next(ctx, msg)
			if err != nil {
				log.Warn("handler failed",
					zap.String("consumer", consumer),
					zap.String("routing_key", msg.RoutingKey),
					zap.String("message_id", msg.ID),
					zap.String("key", msg.Key),
					zap.Int("attempt", msg.Attempt),
					zap.Error(err),
				)
			}
			return err
		}
	}
}
