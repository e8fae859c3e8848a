// Package memory holds map backed repositories for the sandbox binary and for tests. Each
// store serializes its transactions behind one mutex and rolls back by restoring a snapshot.
package memory

import (
	"context"
	"sync"
)

type txKey struct{ owner *txn }

type txn struct {
	mu sync.Mutex
}

func (t *txn) inTx(ctx context.Context) bool {
	return ctx.Value(txKey{t}) != nil
}

// run executes fn as one transaction. restore is taken before fn and called when fn fails.
// Nested calls join the outer transaction.
func (t *txn) run(ctx context.Context, snapshot func() (restore func()), fn func(ctx context.Context) error) error {
	if t.inTx(ctx) {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	restore := snapshot()
	if err := fn(context.WithValue(ctx, txKey{t}, true)); err != nil {
		restore()
		return err
	}
	return nil
}

// read locks for a single statement outside a transaction.
func (t *txn) read(ctx context.Context) (unlock func()) {
	if t.inTx(ctx) {
		return func() {}
	}
	t.mu.Lock()
	return t.mu.Unlock
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
