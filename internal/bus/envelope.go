package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
	HeaderProducer     = "x-producer"
)

// EventVersion is stamped on every envelope. A payload change ships under a new routing key with a
// bumped version, never in place.
const EventVersion = 1

// Envelope wraps every payload on the wire.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"` // routing key
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually the order id
	Payload       json.RawMessage `json:"payload"`
}

// PublishJSON wraps payload in an Envelope and publishes it under routingKey. The trace context
// of ctx travels in the message headers.
func PublishJSON(ctx context.Context, pub Publisher, producer, routingKey, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", routingKey, err)
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     routingKey,
		EventVersion:  EventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: key,
		Payload:       body,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	headers := map[string]string{
		HeaderEventType:    routingKey,
		HeaderEventVersion: strconv.Itoa(env.EventVersion),
		HeaderProducer:     producer,
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))

	if err := pub.Publish(ctx, Message{
		ID:         env.EventID,
		RoutingKey: routingKey,
		Key:        key,
		Body:       raw,
		Headers:    headers,
	}); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Decode unwraps the envelope and its payload. Failures, including a version this build does not
// speak, are ErrMalformed.
func Decode[T any](msg Message) (Envelope, T, error) {
	var (
		env Envelope
		out T
	)
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		return env, out, fmt.Errorf("%w: envelope: %v", ErrMalformed, err)
	}
	if env.EventVersion != EventVersion {
		return env, out, fmt.Errorf("%w: %s version %d", ErrMalformed, env.EventType, env.EventVersion)
	}
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return env, out, fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.EventType, err)
	}
	return env, out, nil
}

// Emitter publishes on behalf of one service.
type Emitter struct {
	pub      Publisher
	producer string
}

func NewEmitter(pub Publisher, producer string) *Emitter {
	return &Emitter{pub: pub, producer: producer}
}

func (e *Emitter) Emit(ctx context.Context, routingKey, key string, payload any) error {
	return PublishJSON(ctx, e.pub, e.producer, routingKey, key, payload)
}
