package bus_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus/bustest"
	"go.uber.org/zap"
)

type payload struct {
	OrderID string `json:"order_id"`
	Qty     int    `json:"qty"`
}

func fastPolicy(attempts int) bus.RetryPolicy {
	return bus.RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestPublishJSONAndDecode(t *testing.T) {
	rec := &bustest.Recorder{}
	err := bus.PublishJSON(context.Background(), rec, "order", "Order.OrderCreatedEvent", "o-1", payload{OrderID: "o-1", Qty: 3})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	msgs := rec.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.ID == "" || m.Key != "o-1" {
		t.Fatalf("unexpected message %+v", m)
	}
	if m.Headers[bus.HeaderEventType] != "Order.OrderCreatedEvent" {
		t.Fatalf("expected event type header, got %v", m.Headers)
	}

	env, p, err := bus.Decode[payload](m)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.EventID != m.ID || env.Producer != "order" || env.CorrelationID != "o-1" || env.EventVersion != bus.EventVersion {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if p.Qty != 3 {
		t.Fatalf("expected qty 3, got %d", p.Qty)
	}
}

func TestPublishJSONPropagatesBrokerError(t *testing.T) {
	rec := &bustest.Recorder{Err: bus.ErrUnroutable}
	err := bus.NewEmitter(rec, "warehouse").Emit(context.Background(), "Nowhere", "k", payload{})
	if !errors.Is(err, bus.ErrUnroutable) {
		t.Fatalf("expected ErrUnroutable, got %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{not json`},
		{"unknown version", `{"event_type":"Order.OrderCreatedEvent","event_version":2,"payload":{"order_id":"o-1"}}`},
		{"missing version", `{"event_type":"Order.OrderCreatedEvent","payload":{"order_id":"o-1"}}`},
		{"bad payload", `{"event_type":"Order.OrderCreatedEvent","event_version":1,"payload":"o-1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := bus.Decode[payload](bus.Message{Body: []byte(tt.body)})
			if !errors.Is(err, bus.ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestRetryPolicyProcess(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		var attempts []int
		h := func(_ context.Context, m bus.Message) error {
			attempts = append(attempts, m.Attempt)
			if m.Attempt < 3 {
				return errors.New("db unavailable")
			}
			return nil
		}
		if err := fastPolicy(5).Process(context.Background(), h, bus.Message{}); err != nil {
			t.Fatalf("expected success, got %v", err)
		}
		if fmt.Sprint(attempts) != "[1 2 3]" {
			t.Fatalf("unexpected attempts %v", attempts)
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		h := func(context.Context, bus.Message) error { calls++; return errors.New("boom") }
		if err := fastPolicy(3).Process(context.Background(), h, bus.Message{}); err == nil {
			t.Fatalf("expected error after exhausting attempts")
		}
		if calls != 3 {
			t.Fatalf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("malformed is not retried", func(t *testing.T) {
		calls := 0
		h := func(context.Context, bus.Message) error {
			calls++
			return fmt.Errorf("%w: bad", bus.ErrMalformed)
		}
		err := fastPolicy(5).Process(context.Background(), h, bus.Message{})
		if !errors.Is(err, bus.ErrMalformed) || calls != 1 {
			t.Fatalf("expected single malformed failure, got calls=%d err=%v", calls, err)
		}
	})
}

type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDedup) Seen(_ context.Context, consumer, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[consumer+":"+id], nil
}

func (d *memDedup) Mark(_ context.Context, consumer, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[consumer+":"+id] = true
	return nil
}

func TestDedupMiddleware(t *testing.T) {
	store := &memDedup{seen: map[string]bool{}}
	calls := 0
	failNext := true
	h := bus.Chain(func(context.Context, bus.Message) error {
		calls++
		if failNext {
			failNext = false
			return errors.New("transient")
		}
		return nil
	}, bus.Dedup(store, "warehouse.reserve", zap.NewNop()), bus.Logging(zap.NewNop(), "warehouse.reserve"))

	msg := bus.Message{ID: "m-1"}
	if err := h(context.Background(), msg); err == nil {
		t.Fatalf("expected first attempt to fail")
	}
	if err := h(context.Background(), msg); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if err := h(context.Background(), msg); err != nil {
		t.Fatalf("expected duplicate to be acked, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("failed attempts must not be marked; expected 2 calls, got %d", calls)
	}

	t.Run("store failure falls through", func(t *testing.T) {
		n := 0
		h := bus.Dedup(failingDedup{}, "c", zap.NewNop())(func(context.Context, bus.Message) error { n++; return nil })
		_ = h(context.Background(), bus.Message{ID: "x"})
		_ = h(context.Background(), bus.Message{ID: "x"})
		if n != 2 {
			t.Fatalf("expected handler to run on every delivery, got %d", n)
		}
	})
}

type failingDedup struct{}

func (failingDedup) Seen(context.Context, string, string) (bool, error) {
	return false, errors.New("redis down")
}
func (failingDedup) Mark(context.Context, string, string) error { return errors.New("redis down") }

func TestTracingMiddlewarePassesErrors(t *testing.T) {
	want := errors.New("nope")
	h := bus.Tracing("c")(func(context.Context, bus.Message) error { return want })
	if err := h(context.Background(), bus.Message{RoutingKey: "k", Headers: map[string]string{}}); !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestLaneIsStablePerKey(t *testing.T) {
	for _, key := range []string{"order-1", "order-2", ""} {
		first := bus.Lane(key, 8)
		for i := 0; i < 10; i++ {
			if got := bus.Lane(key, 8); got != first {
				t.Fatalf("key %q moved from lane %d to %d", key, first, got)
			}
		}
		if first < 0 || first >= 8 {
			t.Fatalf("lane out of range: %d", first)
		}
	}
	if bus.Lane("anything", 1) != 0 {
		t.Fatalf("single worker must always get lane 0")
	}
}
