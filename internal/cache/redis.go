package cache

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/danuarta/archive-management/internal"
)

// NewRedisClient connects to Redis using the given config. Returns nil if
// the server cannot be reached; callers degrade gracefully by running
// without a cache.
func NewRedisClient(cfg internal.RedisConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
		// Fail fast: a down cache must never stall a request.
		MaxRetries: -1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}

// RedisTransport adapts a go-redis client to the Transport interface.
type RedisTransport struct {
	client    *redis.Client
	scanBatch int64
}

func NewRedisTransport(client *redis.Client, scanBatch int64) *RedisTransport {
	if scanBatch <= 0 {
		scanBatch = 1000
	}
	return &RedisTransport{client: client, scanBatch: scanBatch}
}

func (t *RedisTransport) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := t.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return b, nil
}

func (t *RedisTransport) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return t.client.Set(ctx, key, value, ttl).Err()
}

func (t *RedisTransport) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	// Single pipelined round trip so the batch is applied atomically.
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range keys {
			pipe.Del(ctx, key)
		}
		return nil
	})
	return err
}

func (t *RedisTransport) Keys(ctx context.Context, pattern string, batchSize int64) ([]string, error) {
	if batchSize <= 0 {
		batchSize = t.scanBatch
	}
	var keys []string
	iter := t.client.Scan(ctx, 0, pattern, batchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (t *RedisTransport) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := t.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(keys))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

func (t *RedisTransport) MSet(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, item := range items {
			pipe.Set(ctx, item.Key, item.Value, item.TTL)
		}
		return nil
	})
	return err
}

func (t *RedisTransport) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

func (t *RedisTransport) Close() error {
	return t.client.Close()
}

var (
	hitsRe   = regexp.MustCompile(`keyspace_hits:(\d+)`)
	missesRe = regexp.MustCompile(`keyspace_misses:(\d+)`)
)

func (t *RedisTransport) Stats(ctx context.Context) (Stats, error) {
	size, err := t.client.DBSize(ctx).Result()
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Keys: size}

	info, err := t.client.Info(ctx, "stats").Result()
	if err != nil {
		return stats, err
	}
	if m := hitsRe.FindStringSubmatch(info); len(m) == 2 {
		stats.Hits, _ = strconv.ParseInt(m[1], 10, 64)
	}
	if m := missesRe.FindStringSubmatch(info); len(m) == 2 {
		stats.Misses, _ = strconv.ParseInt(m[1], 10, 64)
	}
	return stats, nil
}
