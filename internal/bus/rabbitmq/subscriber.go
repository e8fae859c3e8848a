package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus"
)

// Subscriber gives each binding a durable queue named after the handler, with a dead letter
// queue behind it. Each queue is worked by prefetch goroutines and every delivery goes to the one
// its key hashes to: one order is handled in sequence, and a retry backing off holds up only the
// keys sharing its worker. Deliveries are acked individually once handled.
type Subscriber struct {
	conn     *amqp.Connection
	exchange string
	prefetch int
	policy   bus.RetryPolicy
	log      *zap.Logger
	wg       sync.WaitGroup
}

func NewSubscriber(conn *amqp.Connection, exchange string, prefetch int, policy bus.RetryPolicy, log *zap.Logger) *Subscriber {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &Subscriber{conn: conn, exchange: exchange, prefetch: prefetch, policy: policy, log: log}
}

func (s *Subscriber) Subscribe(ctx context.Context, b bus.Binding, h bus.HandlerFunc) error {
	ch, err := s.conn.Channel()
	if err != nil {
		return fmt.Errorf("could not open channel: %w", err)
	}
	if err := s.declare(ch, b); err != nil {
		_ = ch.Close()
		return err
	}

	deliveries, err := ch.Consume(
		b.Queue, // queue
		"",      // consumer tag
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("could not start consume on %s: %w", b.Queue, err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ch.Close()
		s.run(ctx, b, deliveries, h)
	}()
	return nil
}

// run returns once ctx is done or the channel closes, after the workers finished what they hold.
func (s *Subscriber) run(ctx context.Context, b bus.Binding, deliveries <-chan amqp.Delivery, h bus.HandlerFunc) {
	// the broker never has more than prefetch unacked deliveries out, so a worker queue of that
	// size never blocks the dispatch loop
	jobs := make([]chan amqp.Delivery, s.prefetch)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan amqp.Delivery, s.prefetch)
		wg.Add(1)
		go func(in <-chan amqp.Delivery) {
			defer wg.Done()
			for d := range in {
				s.handle(ctx, b, d, h)
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
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				s.log.Warn("delivery channel closed", zap.String("queue", b.Queue))
				return
			}
			key, _ := d.Headers[headerKey].(string)
			jobs[bus.Lane(key, len(jobs))] <- d
		}
	}
}

func (s *Subscriber) declare(ch *amqp.Channel, b bus.Binding) error {
	if err := declareExchange(ch, s.exchange); err != nil {
		return err
	}
	dlx := deadLetterExchange(s.exchange)
	if err := ch.ExchangeDeclare(dlx, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("could not declare exchange %s: %w", dlx, err)
	}

	dlq := bus.DeadLetterName(b.Queue)
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("could not declare queue %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, b.Queue, dlx, false, nil); err != nil {
		return fmt.Errorf("could not bind queue %s: %w", dlq, err)
	}

	if _, err := ch.QueueDeclare(
		b.Queue, // name
		true,    // durable
		false,   // delete when unused
		false,   // exclusive
		false,   // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    dlx,
			"x-dead-letter-routing-key": b.Queue,
		},
	); err != nil {
		return fmt.Errorf("could not declare queue %s: %w", b.Queue, err)
	}
	if err := ch.QueueBind(b.Queue, b.RoutingKey, s.exchange, false, nil); err != nil {
		return fmt.Errorf("could not bind queue %s: %w", b.Queue, err)
	}
	return ch.Qos(s.prefetch, 0, false)
}

func (s *Subscriber) handle(ctx context.Context, b bus.Binding, d amqp.Delivery, h bus.HandlerFunc) {
	if ctx.Err() != nil {
		// still queued on a worker at shutdown
		_ = d.Nack(false, true)
		return
	}
	msg := bus.Message{
		ID:         d.MessageId,
		RoutingKey: d.RoutingKey,
		Body:       d.Body,
		Headers:    make(map[string]string, len(d.Headers)),
	}
	for k, v := range d.Headers {
		if sv, ok := v.(string); ok {
			msg.Headers[k] = sv
		}
	}
	msg.Key = msg.Headers[headerKey]

	err := s.policy.Process(ctx, h, msg)
	switch {
	case err == nil:
		if err := d.Ack(false); err != nil {
			s.log.Error("ack failed", zap.String("queue", b.Queue), zap.Error(err))
		}
	case ctx.Err() != nil:
		// shutting down: hand it back to the broker for another instance
		_ = d.Nack(false, true)
	default:
		s.log.Error("message dead-lettered",
			zap.String("queue", b.Queue),
			zap.String("routing_key", msg.RoutingKey),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		_ = d.Nack(false, false)
	}
}

// Wait blocks until every consumer loop has returned.
func (s *Subscriber) Wait() { s.wg.Wait() }
