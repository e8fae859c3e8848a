package redisx

import "time"

const (
	// Cached order read model: order:{order_id} -> order JSON
	KeyOrder = "order:%s"

	// Processed messages: dedup:{consumer}:{message_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLOrderCache = 5 * time.Minute
	TTLDedup      = 48 * time.Hour
)
