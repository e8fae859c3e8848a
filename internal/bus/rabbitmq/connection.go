package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	exchangeType = "topic"
	dialAttempts = 5
)

// Dial connects with a few retries; brokers in compose setups come up after the services.
func Dial(ctx context.Context, url string, log *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var err error
		conn, err = amqp.Dial(url)
		if err != nil {
			log.Warn("rabbitmq dial failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, dialAttempts-1), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

func declareExchange(ch *amqp.Channel, name string) error {
	if err := ch.ExchangeDeclare(
		name,         // name
		exchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	); err != nil {
		return fmt.Errorf("could not declare exchange %s: %w", name, err)
	}
	return nil
}

func deadLetterExchange(exchange string) string { return exchange + ".dlx" }
