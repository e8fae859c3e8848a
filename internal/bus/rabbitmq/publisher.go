package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus"
)

const headerKey = "x-key"

// Publisher publishes persistent, mandatory messages on a confirm-mode channel and waits for
// the broker's verdict, so callers learn about unroutable or refused messages.
type Publisher struct {
	exchange string

	mu       sync.Mutex // one message in flight per channel
	ch       *amqp.Channel
	confirms chan amqp.Confirmation
	returns  chan amqp.Return
}

func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("could not open channel: %w", err)
	}
	if err := declareExchange(ch, exchange); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("could not enable confirms: %w", err)
	}
	return &Publisher{
		exchange: exchange,
		ch:       ch,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
		returns:  ch.NotifyReturn(make(chan amqp.Return, 1)),
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, msg bus.Message) error {
	headers := amqp.Table{headerKey: msg.Key}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.ch.PublishWithContext(ctx,
		p.exchange,     // exchange
		msg.RoutingKey, // routing key
		true,           // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Timestamp:    time.Now().UTC(),
			Headers:      headers,
			Body:         msg.Body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.RoutingKey, err)
	}

	// The broker sends basic.return before the ack of an unroutable mandatory message.
	select {
	case r := <-p.returns:
		<-p.confirms
		return fmt.Errorf("%w: %s (%s)", bus.ErrUnroutable, msg.RoutingKey, r.ReplyText)
	case c, ok := <-p.confirms:
		if !ok {
			return fmt.Errorf("publish %s: %w", msg.RoutingKey, amqp.ErrClosed)
		}
		select {
		case r := <-p.returns:
			return fmt.Errorf("%w: %s (%s)", bus.ErrUnroutable, msg.RoutingKey, r.ReplyText)
		default:
		}
		if !c.Ack {
			return fmt.Errorf("%w: %s", bus.ErrNacked, msg.RoutingKey)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) Close() error { return p.ch.Close() }
