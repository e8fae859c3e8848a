package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus"
)

const (
	headerMessageID   = "x-message-id"
	defaultPartitions = 3
)

// Consumer maps a binding onto a consumer group (group = queue, topic = routing key). Messages
// are fanned out to a worker pool by key so one order is never processed concurrently, and
// offsets are committed only after the handler succeeded or the message was dead-lettered.
type Consumer struct {
	brokers []string
	workers int
	policy  bus.RetryPolicy
	dlq     *kafka.Writer
	log     *zap.Logger
	wg      sync.WaitGroup
}

func NewConsumer(brokers []string, workers int, policy bus.RetryPolicy, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		brokers: brokers,
		workers: workers,
		policy:  policy,
		log:     log,
		dlq: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

func (c *Consumer) Subscribe(ctx context.Context, b bus.Binding, h bus.HandlerFunc) error {
	if err := EnsureTopics(ctx, c.brokers, b.RoutingKey, bus.DeadLetterName(b.Queue)); err != nil {
		return err
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.brokers,
		GroupID:        b.Queue,
		Topic:          b.RoutingKey,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.run(ctx, r, b, h); err != nil {
			c.log.Error("consumer exit", zap.String("queue", b.Queue), zap.Error(err))
		}
	}()
	return nil
}

func (c *Consumer) run(ctx context.Context, r *kafka.Reader, b bus.Binding, h bus.HandlerFunc) error {
	defer r.Close()

	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if !c.process(ctx, b, m, h) {
					continue
				}
				if err := r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
					c.log.Error("commit failed", zap.String("queue", b.Queue), zap.Error(err))
				}
			}
		}(jobs[i])
	}
	defer func() {
		for _, j := range jobs {
			close(j)
		}
		wg.Wait()
	}()

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case jobs[bus.Lane(string(m.Key), c.workers)] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

// process reports whether the offset may be committed.
func (c *Consumer) process(ctx context.Context, b bus.Binding, m kafka.Message, h bus.HandlerFunc) bool {
	msg := bus.Message{
		RoutingKey: m.Topic,
		Key:        string(m.Key),
		Body:       m.Value,
		Headers:    make(map[string]string, len(m.Headers)),
	}
	for _, hd := range m.Headers {
		msg.Headers[hd.Key] = string(hd.Value)
	}
	msg.ID = msg.Headers[headerMessageID]

	err := c.policy.Process(ctx, h, msg)
	if err == nil {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	c.log.Error("message dead-lettered",
		zap.String("queue", b.Queue),
		zap.String("routing_key", msg.RoutingKey),
		zap.String("message_id", msg.ID),
		zap.Error(err),
	)
	dead := kafka.Message{
		Topic:   bus.DeadLetterName(b.Queue),
		Key:     m.Key,
		Value:   m.Value,
		Headers: append(m.Headers, kafka.Header{Key: "x-dead-letter-reason", Value: []byte(err.Error())}),
	}
	if werr := c.dlq.WriteMessages(ctx, dead); werr != nil {
		// leave the offset uncommitted; the message comes back after a rebalance
		c.log.Error("dead letter write failed", zap.String("queue", b.Queue), zap.Error(werr))
		return false
	}
	return true
}

// Close waits for the consumer loops and flushes the dead letter writer.
func (c *Consumer) Close() error {
	c.wg.Wait()
	return c.dlq.Close()
}

// EnsureTopics creates the topics a consumer reads from, the way a RabbitMQ consumer declares
// its queue. Existing topics are left alone.
func EnsureTopics(ctx context.Context, brokers []string, topics ...string) error {
	if len(brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}
	var d kafka.Dialer
	conn, err := d.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("dial kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka controller: %w", err)
	}
	cc, err := d.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial kafka controller: %w", err)
	}
	defer cc.Close()

	cfgs := make([]kafka.TopicConfig, 0, len(topics))
	for _, t := range topics {
		cfgs = append(cfgs, kafka.TopicConfig{Topic: t, NumPartitions: defaultPartitions, ReplicationFactor: 1})
	}
	if err := cc.CreateTopics(cfgs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topics: %w", err)
	}
	return nil
}
