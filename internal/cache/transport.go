package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Transport.Get when the key does not exist.
var ErrCacheMiss = errors.New("cache: key not found")

// Item is a raw key/value pair for batched writes. A zero TTL stores the
// entry without expiry.
type Item struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// Transport is the underlying key-value store the cache layer runs on.
// Individual operations are atomic; Keys followed by Del is not, so a key
// written between the two calls may survive a pattern invalidation until its
// TTL or the next sweep.
type Transport interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	// Keys enumerates keys matching a glob pattern, scanning in batches of
	// batchSize so large keyspaces never hold a long-lived cursor.
	Keys(ctx context.Context, pattern string, batchSize int64) ([]string, error)

	// MGet returns one slot per key; absent keys yield a nil slot, never an
	// error.
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	MSet(ctx context.Context, items []Item) error

	Ping(ctx context.Context) error
	Close() error
}

// StatsProvider is implemented by transports that can report keyspace
// statistics.
type StatsProvider interface {
	Stats(ctx context.Context) (Stats, error)
}

type Stats struct {
	Keys   int64 `json:"keys"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}
