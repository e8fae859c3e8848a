// Package bus is the contract every service uses to talk to the others: durable, topic-routed
// messages with at-least-once delivery. Drivers live in the subpackages (rabbitmq, kafka, memory).
package bus

import (
	"context"
	"errors"
	"hash/fnv"
)

var (
	// ErrUnroutable is returned by Publish when no queue is bound for the routing key.
	ErrUnroutable = errors.New("bus: message unroutable")
	// ErrNacked is returned by Publish when the broker refused to take ownership of the message.
	ErrNacked = errors.New("bus: publish not confirmed")
	// ErrMalformed marks a message that can never be processed; it goes straight to the dead letter queue.
	ErrMalformed = errors.New("bus: malformed message")
)

type Message struct {
	ID         string
	RoutingKey string
	Key        string // ordering key (order id for saga traffic)
	Body       []byte
	Headers    map[string]string
	Attempt    int // 1-based, set by the consumer
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// HandlerFunc must return nil only when the message may be acknowledged.
type HandlerFunc func(ctx context.Context, msg Message) error

// Binding ties a handler to a routing key. Queue names the handler: every distinct Queue gets its
// own durable copy of the stream, instances sharing a Queue compete for messages.
type Binding struct {
	RoutingKey string
	Queue      string
}

type Subscriber interface {
	// Subscribe declares and binds the queue, then consumes in the background until ctx is done.
	Subscribe(ctx context.Context, b Binding, h HandlerFunc) error
}

// DeadLetterName is the queue/topic that receives messages a handler gave up on.
func DeadLetterName(queue string) string { return queue + ".dlq" }

// Lane picks which of n workers handles messages with key. A key always lands on the same worker,
// so one order is handled in sequence while other orders run alongside it.
func Lane(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// Route is one handler a service wants bound at start-up.
type Route struct {
	Binding Binding
	Handler HandlerFunc
}
