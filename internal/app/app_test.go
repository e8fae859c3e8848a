package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus"
	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/config"
)

type countingDedup struct {
	seen map[string]bool
}

func (d *countingDedup) Seen(_ context.Context, consumer, id string) (bool, error) {
	return d.seen[consumer+"/"+id], nil
}

func (d *countingDedup) Mark(_ context.Context, consumer, id string) error {
	d.seen[consumer+"/"+id] = true
	return nil
}

func TestOpenBusMemoryBindsAndDedups(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := OpenBus(ctx, config.Config{BusDriver: "memory"}, zap.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()

	var calls atomic.Int32
	done := make(chan struct{}, 2)
	routes := []bus.Route{{
		Binding: bus.Binding{RoutingKey: "Test.Pinged", Queue: "test.ping"},
		Handler: func(context.Context, bus.Message) error {
			calls.Add(1)
			done <- struct{}{}
			return nil
		},
	}}
	if err := Bind(ctx, b, routes, &countingDedup{seen: map[string]bool{}}, zap.NewNop()); err != nil {
		t.Fatalf("bind: %v", err)
	}

	msg := bus.Message{ID: "m-1", RoutingKey: "Test.Pinged", Body: []byte(`{}`)}
	for i := 0; i < 2; i++ {
		if err := b.Publish(ctx, msg); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
	time.Sleep(50 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected the duplicate to be skipped, got %d calls", n)
	}
}

func TestOpenBusUnknownDriver(t *testing.T) {
	if _, err := OpenBus(context.Background(), config.Config{BusDriver: "carrier-pigeon"}, zap.NewNop()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := RetryPolicy(config.Config{Retry: config.RetryConfig{MaxAttempts: 9}})
	if p.MaxAttempts != 9 || p.InitialInterval != bus.DefaultRetryPolicy().InitialInterval {
		t.Fatalf("unexpected policy %+v", p)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no loopback listener: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: addr, Handler: http.NotFoundHandler()}
	errc := make(chan error, 1)
	go func() { errc <- Serve(ctx, srv, zap.NewNop()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
