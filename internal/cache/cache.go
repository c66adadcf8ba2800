package cache

import (
	"context"
	"time"
)

// Store is a TTL'd byte cache. The estimator keeps computed campaign ETAs
// here so every progress poll does not re-aggregate fleet speeds; entries
// expire rather than invalidate, bounded staleness is acceptable for ETA
// display.
type Store interface {
	// Get returns the cached value. ok is false on a miss or expired entry.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	// Set writes a value with the given time to live.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
