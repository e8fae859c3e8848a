package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus"
)

// Producer writes each message to the topic named by its routing key. Writes are synchronous
// with RequireAll so a failed publish reaches the caller.
type Producer struct {
	w *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			// Topics exist only once a consumer declared them; anything else is unroutable.
			AllowAutoTopicCreation: false,
			BatchTimeout:           5 * time.Millisecond,
		},
	}
}

func (p *Producer) Publish(ctx context.Context, msg bus.Message) error {
	headers := make([]kafka.Header, 0, len(msg.Headers)+1)
	headers = append(headers, kafka.Header{Key: headerMessageID, Value: []byte(msg.ID)})
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	err := p.w.WriteMessages(ctx, kafka.Message{
		Topic:   msg.RoutingKey,
		Key:     []byte(msg.Key),
		Value:   msg.Body,
		Time:    time.Now(),
		Headers: headers,
	})
	if err == nil {
		return nil
	}
	if isUnknownTopic(err) {
		return fmt.Errorf("%w: %s", bus.ErrUnroutable, msg.RoutingKey)
	}
	return fmt.Errorf("publish %s: %w", msg.RoutingKey, err)
}

func isUnknownTopic(err error) bool {
	if errors.Is(err, kafka.UnknownTopicOrPartition) {
		return true
	}
	var werrs kafka.WriteErrors
	if errors.As(err, &werrs) {
		for _, e := range werrs {
			if errors.Is(e, kafka.UnknownTopicOrPartition) {
				return true
			}
		}
	}
	return false
}

func (p *Producer) Close() error { return p.w.Close() }
