package kafka

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus"
)

func TestIsUnknownTopic(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"direct", kafka.UnknownTopicOrPartition, true},
		{"wrapped", fmt.Errorf("write: %w", kafka.UnknownTopicOrPartition), true},
		{"write errors", kafka.WriteErrors{nil, kafka.UnknownTopicOrPartition}, true},
		{"other", errors.New("broker down"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isUnknownTopic(tc.err); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	brokers := os.Getenv("TEST_KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("TEST_KAFKA_BROKERS not set, skipping Kafka integration test")
	}
	list := strings.Split(brokers, ",")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	topic := "Test.Ping." + uuid.NewString()
	cons := NewConsumer(list, 2, bus.RetryPolicy{MaxAttempts: 1}, zap.NewNop())
	got := make(chan bus.Message, 1)
	if err := cons.Subscribe(ctx, bus.Binding{RoutingKey: topic, Queue: "test-" + uuid.NewString()},
		func(_ context.Context, m bus.Message) error { got <- m; return nil }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	prod := NewProducer(list)
	defer prod.Close()
	if err := bus.PublishJSON(ctx, prod, "test", topic, "order-1", map[string]int{"n": 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case m := <-got:
		if m.Key != "order-1" || m.ID == "" {
			t.Fatalf("unexpected message %+v", m)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
	cancel()
	_ = cons.Close()
}
