// Package bustest has an in-process Publisher that records what services emit.
package bustest

import (
	"context"
	"sync"
	"testing"

	"github.com/Ahmed-Saalah/MarketCore-sub000/internal/bus"
)

type Recorder struct {
	mu   sync.Mutex
	msgs []bus.Message
	// Err, when set, is returned by Publish and nothing is recorded.
	Err error
}

func (r *Recorder) Publish(_ context.Context, msg bus.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *Recorder) Messages() []bus.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bus.Message(nil), r.msgs...)
}

func (r *Recorder) ByKey(routingKey string) []bus.Message {
	var out []bus.Message
	for _, m := range r.Messages() {
		if m.RoutingKey == routingKey {
			out = append(out, m)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.msgs = nil
	r.Err = nil
	r.mu.Unlock()
}

// Payloads decodes every recorded message with routingKey.
func Payloads[T any](t *testing.T, r *Recorder, routingKey string) []T {
	t.Helper()
	var out []T
	for _, m := range r.ByKey(routingKey) {
		_, p, err := bus.Decode[T](m)
		if err != nil {
			t.Fatalf("decode %s: %v", routingKey, err)
		}
		out = append(out, p)
	}
	return out
}
