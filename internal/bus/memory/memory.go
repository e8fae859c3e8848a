// Package memory is an in-process bus on top of watermill's gochannel pub/sub. It keeps the
// delivery contract of the broker drivers (unroutable publishes fail, bounded retry, dead letter)
// and is what tests and the sandbox binary run on.
//
// gochannel hands each published message to a subscriber from its own goroutine, so two messages
// can reach a subscription in either order. Publish numbers the messages of every key and each
// subscription holds back early arrivals until the gap before them is filled.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus"
)

const (
	metaKey = "x-key"
	metaSeq = "x-seq"
)

type Bus struct {
	pubsub *gochannel.GoChannel
	policy bus.RetryPolicy
	log    *zap.Logger

	// mu is held across the gochannel publish/subscribe so a new subscription starts exactly
	// after the last sequence number it will not see.
	mu    sync.Mutex
	bound map[string]int               // routing key -> subscriptions
	seq   map[string]map[string]uint64 // routing key -> key -> last published

	pending atomic.Int64
	wg      sync.WaitGroup

	deadMu sync.Mutex
	dead   []bus.Message
}

func New(policy bus.RetryPolicy, log *zap.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, watermill.NopLogger{}),
		policy: policy,
		log:    log,
		bound:  map[string]int{},
		seq:    map[string]map[string]uint64{},
	}
}

func (b *Bus) Publish(_ context.Context, msg bus.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.bound[msg.RoutingKey]
	if n == 0 {
		return fmt.Errorf("%w: %s", bus.ErrUnroutable, msg.RoutingKey)
	}

	lanes := b.seq[msg.RoutingKey]
	if lanes == nil {
		lanes = map[string]uint64{}
		b.seq[msg.RoutingKey] = lanes
	}
	seq := lanes[msg.Key] + 1

	wm := message.NewMessage(msg.ID, msg.Body)
	for k, v := range msg.Headers {
		wm.Metadata.Set(k, v)
	}
	wm.Metadata.Set(metaKey, msg.Key)
	wm.Metadata.Set(metaSeq, strconv.FormatUint(seq, 10))

	b.pending.Add(int64(n))
	if err := b.pubsub.Publish(msg.RoutingKey, wm); err != nil {
		b.pending.Add(-int64(n))
		return err
	}
	lanes[msg.Key] = seq
	return nil
}

// Subscribe gives every call its own copy of the stream; the queue name is only used for
// dead-letter bookkeeping.
func (b *Bus) Subscribe(ctx context.Context, binding bus.Binding, h bus.HandlerFunc) error {
	b.mu.Lock()
	msgs, err := b.pubsub.Subscribe(ctx, binding.RoutingKey)
	if err != nil {
		b.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", binding.Queue, err)
	}
	b.bound[binding.RoutingKey]++
	order := newResequencer(b.seq[binding.RoutingKey])
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			b.mu.Lock()
			b.bound[binding.RoutingKey]--
			b.mu.Unlock()
		}()
		for wm := range msgs {
			// gochannel waits for the ack before offering this subscription another message
			wm.Ack()
			for _, ready := range order.push(wm) {
				b.deliver(ctx, binding, ready, h)
			}
		}
	}()
	return nil
}

func (b *Bus) deliver(ctx context.Context, binding bus.Binding, wm *message.Message, h bus.HandlerFunc) {
	defer b.pending.Add(-1)

	headers := make(map[string]string, len(wm.Metadata))
	for k, v := range wm.Metadata {
		headers[k] = v
	}
	msg := bus.Message{
		ID:         wm.UUID,
		RoutingKey: binding.RoutingKey,
		Key:        headers[metaKey],
		Body:       wm.Payload,
		Headers:    headers,
	}

	if err := b.policy.Process(ctx, h, msg); err != nil {
		if ctx.Err() != nil {
			return
		}
		b.log.Error("message dead-lettered",
			zap.String("queue", binding.Queue),
			zap.String("routing_key", msg.RoutingKey),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		b.deadMu.Lock()
		b.dead = append(b.dead, msg)
		b.deadMu.Unlock()
	}
}

// DeadLetters returns every message a handler gave up on.
func (b *Bus) DeadLetters() []bus.Message {
	b.deadMu.Lock()
	defer b.deadMu.Unlock()
	return append([]bus.Message(nil), b.dead...)
}

// WaitIdle blocks until every published message has been handled, including the ones
// handlers publish while running.
func (b *Bus) WaitIdle(ctx context.Context) error {
	t := time.NewTicker(2 * time.Millisecond)
	defer t.Stop()
	for b.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("bus not idle, %d in flight: %w", b.pending.Load(), ctx.Err())
		case <-t.C:
		}
	}
	return nil
}

func (b *Bus) Close() error {
	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}
