package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Options configures a single cache-aside read. It replaces the original
// per-route cache markers with explicit call-site configuration.
type Options struct {
	// SkipCache bypasses the lookup and the write-back entirely.
	SkipCache bool
	// TTL for the write-back. Zero stores the entry without expiry, leaving
	// it to invalidation sweeps.
	TTL time.Duration
}

// Store layers the cache-aside protocol over a Transport. A nil Store or a
// Store without a transport is valid and behaves as a pass-through, so
// callers never branch on cache availability.
//
// Transport faults never reach callers: reads fall back to the compute
// function, writes and invalidations are logged and dropped. Only compute
// errors propagate.
type Store struct {
	transport Transport
	logger    *slog.Logger
	scanBatch int64
	writes    sync.WaitGroup
}

func NewStore(transport Transport, scanBatch int64, logger *slog.Logger) *Store {
	if scanBatch <= 0 {
		scanBatch = 1000
	}
	return &Store{transport: transport, scanBatch: scanBatch, logger: logger}
}

func (s *Store) available() bool {
	return s != nil && s.transport != nil
}

// GetOrSet implements the cache-aside read path: return the cached value on
// a hit, otherwise invoke fetch, fire-and-forget the write-back for non-nil
// results, and return the fetched value. Errors from fetch propagate
// uncached.
func GetOrSet[T any](ctx context.Context, s *Store, key string, opts Options, fetch func(ctx context.Context) (T, error)) (T, error) {
	if !s.available() || opts.SkipCache {
		return fetch(ctx)
	}

	if raw, err := s.transport.Get(ctx, key); err == nil {
		var v T
		if uerr := json.Unmarshal(raw, &v); uerr == nil {
			return v, nil
		}
		s.logger.Warn("cache entry undecodable, treating as miss", "key", key)
	} else if err != ErrCacheMiss {
		s.logger.Warn("cache read failed, falling back to source", "key", key, "error", err)
	}

	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}

	if !isNil(v) {
		raw, merr := json.Marshal(v)
		if merr != nil {
			s.logger.Warn("cache value not serializable", "key", key, "error", merr)
			return v, nil
		}
		// The response must not wait on the write-back landing.
		s.writes.Add(1)
		go func() {
			defer s.writes.Done()
			if serr := s.transport.Set(context.Background(), key, raw, opts.TTL); serr != nil {
				s.logger.Warn("cache write-back failed", "key", key, "error", serr)
			}
		}()
	}
	return v, nil
}

// Get reads a single key into dest, reporting whether it was present.
// Transport faults read as absent.
func (s *Store) Get(ctx context.Context, key string, dest any) bool {
	if !s.available() {
		return false
	}
	raw, err := s.transport.Get(ctx, key)
	if err != nil {
		if err != ErrCacheMiss {
			s.logger.Warn("cache read failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		s.logger.Warn("cache entry undecodable", "key", key, "error", err)
		return false
	}
	return true
}

// Set stores a value synchronously. Nil values and transport faults are
// dropped.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if !s.available() || isNil(value) {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("cache value not serializable", "key", key, "error", err)
		return
	}
	if err := s.transport.Set(ctx, key, raw, ttl); err != nil {
		s.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

// Delete removes keys. A failed delete is tolerated: the entry will expire
// or be caught by the next sweep.
func (s *Store) Delete(ctx context.Context, keys ...string) {
	if !s.available() || len(keys) == 0 {
		return
	}
	if err := s.transport.Del(ctx, keys...); err != nil {
		s.logger.Warn("cache delete failed", "keys", keys, "error", err)
	}
}

// InvalidatePattern deletes every key matching a glob pattern via a bounded
// scan followed by one batched delete. A key created between the scan and
// the delete may survive the sweep; it is bounded by TTL or the next
// mutation's sweep.
func (s *Store) InvalidatePattern(ctx context.Context, pattern string) {
	if !s.available() {
		return
	}
	start := time.Now()
	keys, err := s.transport.Keys(ctx, pattern, s.scanBatch)
	if err != nil {
		s.logger.Warn("cache scan failed", "pattern", pattern, "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := s.transport.Del(ctx, keys...); err != nil {
		s.logger.Warn("cache invalidation failed", "pattern", pattern, "error", err)
		return
	}
	s.logger.Debug("cache invalidated",
		"pattern", pattern,
		"keys", len(keys),
		"duration", time.Since(start))
}

// MGet fetches multiple keys in one round trip. Each slot holds the raw
// entry or nil when absent.
func (s *Store) MGet(ctx context.Context, keys ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(keys))
	if !s.available() || len(keys) == 0 {
		return out
	}
	raws, err := s.transport.MGet(ctx, keys...)
	if err != nil {
		s.logger.Warn("cache batch read failed", "error", err)
		return out
	}
	for i, raw := range raws {
		if raw != nil {
			out[i] = json.RawMessage(raw)
		}
	}
	return out
}

// Entry is a typed item for MSet.
type Entry struct {
	Key   string
	Value any
	TTL   time.Duration
}

// MSet stores multiple entries in one pipelined round trip.
func (s *Store) MSet(ctx context.Context, entries []Entry) {
	if !s.available() || len(entries) == 0 {
		return
	}
	items := make([]Item, 0, len(entries))
	for _, e := range entries {
		if isNil(e.Value) {
			continue
		}
		raw, err := json.Marshal(e.Value)
		if err != nil {
			s.logger.Warn("cache value not serializable", "key", e.Key, "error", err)
			continue
		}
		items = append(items, Item{Key: e.Key, Value: raw, TTL: e.TTL})
	}
	if err := s.transport.MSet(ctx, items); err != nil {
		s.logger.Warn("cache batch write failed", "error", err)
	}
}

// Stats reports keyspace statistics when the transport supports them.
func (s *Store) Stats(ctx context.Context) (Stats, bool) {
	if !s.available() {
		return Stats{}, false
	}
	sp, ok := s.transport.(StatsProvider)
	if !ok {
		return Stats{}, false
	}
	stats, err := sp.Stats(ctx)
	if err != nil {
		s.logger.Warn("cache stats unavailable", "error", err)
		return Stats{}, false
	}
	return stats, true
}

// Flush blocks until in-flight write-backs have landed. Used on shutdown
// and by tests that need deterministic cache state.
func (s *Store) Flush() {
	if s == nil {
		return
	}
	s.writes.Wait()
}

// Close releases the underlying transport connection.
func (s *Store) Close() error {
	if !s.available() {
		return nil
	}
	return s.transport.Close()
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}
