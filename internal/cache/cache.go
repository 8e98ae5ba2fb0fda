package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// SchemaVersion tags every stored envelope. It is a build constant: entries
// written under a different version are treated as absent on read, so a
// deploy that changes the cached shape never resurrects stale data.
const SchemaVersion = "v3"

// ErrNotFound is returned by DurableStore implementations for missing keys
var ErrNotFound = errors.New("cache: key not found")

// DurableStore is the byte-oriented contract for the durable tier. It
// survives a process restart; the facade owns serialization, expiry and
// schema checks on top of it.
type DurableStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Cache is a two-tier expiring cache: a volatile Ristretto tier for the hot
// path and an optional durable tier selected per call. Reads check the
// volatile tier first; durable reads hydrate the volatile tier on hit.
// Safe for concurrent callers, there are no cross-entry invariants.
type Cache[T any] struct {
	prefix  string
	mem     *memoryTier[T]
	durable DurableStore
	logger  zerolog.Logger
}

// New creates a two-tier cache. prefix namespaces the durable keys so
// unrelated caches can share one store. durable may be nil, in which case
// durable flags on the operations are ignored.
func New[T any](prefix string, cfg RistrettoConfig, durable DurableStore, logger zerolog.Logger) (*Cache[T], error) {
	mem, err := newMemoryTier[T](cfg)
	if err != nil {
		return nil, err
	}

	return &Cache[T]{
		prefix:  prefix,
		mem:     mem,
		durable: durable,
		logger:  logger.With().Str("component", "cache").Str("prefix", prefix).Logger(),
	}, nil
}

// Set writes to the volatile tier always; if durable is set, also serializes
// to the durable tier. Durable write failures are swallowed: they trigger a
// best-effort eviction of the oldest durable keys under this cache's prefix
// and one retry, then give up.
func (c *Cache[T]) Set(ctx context.Context, key string, value T, ttl time.Duration, durable bool) {
	now := time.Now().UTC()
	env := envelope[T]{
		Value:         value,
		StoredAt:      now,
		ExpiresAt:     now.Add(ttl),
		SchemaVersion: SchemaVersion,
	}

	c.mem.Set(key, env)

	if !durable || c.durable == nil {
		return
	}

	data, err := json.Marshal(env)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Failed to marshal envelope for durable tier.")
		return
	}

	fullKey := c.prefix + key
	if err := c.durable.Put(ctx, fullKey, data); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Durable write failed, evicting oldest entries.")
		c.evictOldest(ctx)
		if err := c.durable.Put(ctx, fullKey, data); err != nil {
			c.logger.Debug().Err(err).Str("key", key).Msg("Durable write failed after eviction, giving up.")
		}
	}
}

// Get checks the volatile tier first; on miss, if durable is requested,
// attempts to hydrate from the durable tier. A value is absent if its
// schema version does not match the running build or if it has expired.
// Malformed durable records are removed and reported absent.
func (c *Cache[T]) Get(ctx context.Context, key string, durable bool) (T, bool) {
	var zero T
	now := time.Now().UTC()

	if env, found := c.mem.Get(key); found {
		if !env.expired(now) && !env.stale() {
			return env.Value, true
		}
		c.mem.Delete(key)
	}

	if !durable || c.durable == nil {
		return zero, false
	}

	fullKey := c.prefix + key
	data, err := c.durable.Get(ctx, fullKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Debug().Err(err).Str("key", key).Msg("Durable read failed.")
		}
		return zero, false
	}

	var env envelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		// Corrupt record, drop the key
		c.logger.Warn().Err(err).Str("key", key).Msg("Removing undeserializable durable record.")
		_ = c.durable.Delete(ctx, fullKey)
		return zero, false
	}

	if env.expired(now) || env.stale() {
		_ = c.durable.Delete(ctx, fullKey)
		return zero, false
	}

	// Hydrate the volatile tier so the next read skips deserialization
	c.mem.Set(key, env)

	return env.Value, true
}

// Remove deletes from the volatile tier; if durable is set, also deletes
// the durable copy.
func (c *Cache[T]) Remove(ctx context.Context, key string, durable bool) {
	c.mem.Delete(key)

	if durable && c.durable != nil {
		if err := c.durable.Delete(ctx, c.prefix+key); err != nil && !errors.Is(err, ErrNotFound) {
			c.logger.Debug().Err(err).Str("key", key).Msg("Durable delete failed.")
		}
	}
}

// Clear empties the volatile tier; if durable is set, deletes every durable
// key under this cache's namespace prefix.
func (c *Cache[T]) Clear(ctx context.Context, durable bool) {
	c.mem.Clear()

	if !durable || c.durable == nil {
		return
	}

	keys, err := c.durable.Keys(ctx, c.prefix)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Durable key listing failed during clear.")
		return
	}
	for _, k := range keys {
		_ = c.durable.Delete(ctx, k)
	}
}

// Size returns the approximate number of items in the volatile tier
func (c *Cache[T]) Size() int {
	return c.mem.Size()
}

// Ready checks whether the durable tier is reachable. A cache without a
// durable tier is always ready.
func (c *Cache[T]) Ready(ctx context.Context) error {
	if c.durable == nil {
		return nil
	}
	_, err := c.durable.Keys(ctx, c.prefix)
	return err
}

// TierMetrics returns volatile-tier performance metrics
func (c *Cache[T]) TierMetrics() Metrics {
	return c.mem.Metrics()
}

// Close closes the durable tier, if any
func (c *Cache[T]) Close() error {
	if c.durable != nil {
		return c.durable.Close()
	}
	return nil
}

// evictOldest removes the oldest ~20% of durable keys under the cache's
// prefix, ordered by envelope write time. Self-healing housekeeping for a
// full durable tier; all failures along the way are ignored.
func (c *Cache[T]) evictOldest(ctx context.Context) {
	keys, err := c.durable.Keys(ctx, c.prefix)
	if err != nil || len(keys) == 0 {
		return
	}

	type aged struct {
		key      string
		storedAt time.Time
	}

	entries := make([]aged, 0, len(keys))
	for _, k := range keys {
		data, err := c.durable.Get(ctx, k)
		if err != nil {
			continue
		}
		var env envelope[json.RawMessage]
		if err := json.Unmarshal(data, &env); err != nil {
			// Unreadable record counts as oldest
			entries = append(entries, aged{key: k})
			continue
		}
		entries = append(entries, aged{key: k, storedAt: env.StoredAt})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].storedAt.Before(entries[j].storedAt)
	})

	evict := len(entries) / 5
	if evict == 0 {
		evict = 1
	}
	if evict > len(entries) {
		evict = len(entries)
	}

	for _, e := range entries[:evict] {
		_ = c.durable.Delete(ctx, e.key)
	}

	c.logger.Info().Int("evicted", evict).Int("total", len(entries)).Msg("Evicted oldest durable entries.")
}
