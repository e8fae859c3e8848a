package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers which message ids a consumer already handled. Markers expire after TTLDedup,
// longer than any redelivery window of the brokers.
type Dedup struct {
	rdb redis.Cmdable
}

func NewDedup(rdb redis.Cmdable) *Dedup {
	return &Dedup{rdb: rdb}
}

func (d *Dedup) Seen(ctx context.Context, consumer, id string) (bool, error) {
	return Exists(ctx, d.rdb, fmt.Sprintf(KeyDedup, consumer, id))
}

func (d *Dedup) Mark(ctx context.Context, consumer, id string) error {
	return d.rdb.Set(ctx, fmt.Sprintf(KeyDedup, consumer, id), "1", TTLDedup).Err()
}
