// Package app wires a service process: the bus driver, its routes and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus/kafka"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus/memory"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus/rabbitmq"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/config"
)

// Bus is an opened driver. Close after the subscription context was cancelled.
type Bus struct {
	bus.Publisher
	bus.Subscriber
	close func() error
}

func (b *Bus) Close() error { return b.close() }

func RetryPolicy(cfg config.Config) bus.RetryPolicy {
	p := bus.DefaultRetryPolicy()
	if cfg.Retry.MaxAttempts > 0 {
		p.MaxAttempts = cfg.Retry.MaxAttempts
	}
	if cfg.Retry.InitialInterval > 0 {
		p.InitialInterval = cfg.Retry.InitialInterval
	}
	if cfg.Retry.MaxInterval > 0 {
		p.MaxInterval = cfg.Retry.MaxInterval
	}
	return p
}

// OpenBus connects the driver named by cfg.BusDriver.
func OpenBus(ctx context.Context, cfg config.Config, log *zap.Logger) (*Bus, error) {
	policy := RetryPolicy(cfg)
	switch cfg.BusDriver {
	case "memory":
		m := memory.New(policy, log)
		return &Bus{Publisher: m, Subscriber: m, close: m.Close}, nil

	case "kafka":
		p := kafka.NewProducer(cfg.KafkaBrokers)
		c := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaWorkers, policy, log)
		return &Bus{Publisher: p, Subscriber: c, close: func() error {
			return errors.Join(c.Close(), p.Close())
		}}, nil

	case "rabbitmq", "":
		conn, err := rabbitmq.Dial(ctx, cfg.AMQPURL, log)
		if err != nil {
			return nil, err
		}
		pub, err := rabbitmq.NewPublisher(conn, cfg.AMQPExchange)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		sub := rabbitmq.NewSubscriber(conn, cfg.AMQPExchange, cfg.Prefetch, policy, log)
		return &Bus{Publisher: pub, Subscriber: sub, close: func() error {
			sub.Wait()
			return errors.Join(pub.Close(), conn.Close())
		}}, nil
	}
	return nil, fmt.Errorf("unknown bus driver %q", cfg.BusDriver)
}

// Bind subscribes every route. Each handler is wrapped with tracing, failure logging and, when
// dedup is set, the processed-message filter keyed by the queue name.
func Bind(ctx context.Context, sub bus.Subscriber, routes []bus.Route, dedup bus.DedupStore, log *zap.Logger) error {
	for _, r := range routes {
		mws := []bus.Middleware{bus.Tracing(r.Binding.Queue), bus.Logging(log, r.Binding.Queue)}
		if dedup != nil {
			mws = append(mws, bus.Dedup(dedup, r.Binding.Queue, log))
		}
		if err := sub.Subscribe(ctx, r.Binding, bus.Chain(r.Handler, mws...)); err != nil {
			return fmt.Errorf("subscribe %s: %w", r.Binding.Queue, err)
		}
		log.Info("consumer bound", zap.String("queue", r.Binding.Queue), zap.String("routing_key", r.Binding.RoutingKey))
	}
	return nil
}
