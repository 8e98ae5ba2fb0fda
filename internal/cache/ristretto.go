package cache

import (
	"encoding/json"
	"time"

	"github.com/dgraph-io/ristretto"
)

// Metrics provides volatile-tier performance metrics
type Metrics struct {
	Hits        uint64
	Misses      uint64
	KeysAdded   uint64
	KeysEvicted uint64
	CostAdded   uint64
	CostEvicted uint64
}

// RistrettoConfig holds Ristretto cache configuration
type RistrettoConfig struct {
	MaxCost     int64 // Maximum cost of cache (bytes)
	NumCounters int64 // Number of counters for TinyLFU admission policy
	BufferItems int64 // Buffer size for async operations
	Metrics     bool  // Enable metrics collection
}

// DefaultRistrettoConfig returns a config suitable for roster-sized data
func DefaultRistrettoConfig() RistrettoConfig {
	return RistrettoConfig{
		MaxCost:     1 << 20, // 1MB
		NumCounters: 100_000,
		BufferItems: 64,
		Metrics:     true,
	}
}

// memoryTier is the volatile tier: a Ristretto cache holding envelopes.
// Expiry and schema checks happen in the two-tier facade on read.
type memoryTier[T any] struct {
	cache  *ristretto.Cache
	config RistrettoConfig
}

func newMemoryTier[T any](config RistrettoConfig) (*memoryTier[T], error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		MaxCost:     config.MaxCost,
		NumCounters: config.NumCounters,
		BufferItems: config.BufferItems,
		Metrics:     config.Metrics,
	})
	if err != nil {
		return nil, err
	}

	return &memoryTier[T]{
		cache:  cache,
		config: config,
	}, nil
}

// Get retrieves an envelope from the volatile tier
func (m *memoryTier[T]) Get(key string) (envelope[T], bool) {
	value, found := m.cache.Get(key)
	if !found {
		return envelope[T]{}, false
	}

	env, ok := value.(envelope[T])
	if !ok {
		// Corrupted entry, drop it
		m.cache.Del(key)
		return envelope[T]{}, false
	}

	return env, true
}

// Set stores an envelope in the volatile tier
func (m *memoryTier[T]) Set(key string, env envelope[T]) {
	// Ristretto handles admission and eviction automatically
	m.cache.Set(key, env, m.estimateCost(env))

	// Wait briefly for the set operation to complete in Ristretto's buffers
	// This is needed for callers that expect immediate read-back consistency
	m.cache.Wait()
}

// Delete removes an envelope from the volatile tier
func (m *memoryTier[T]) Delete(key string) {
	m.cache.Del(key)
	m.cache.Wait()
}

// Clear removes all entries from the volatile tier
func (m *memoryTier[T]) Clear() {
	m.cache.Clear()
}

// Size returns the approximate number of items in the tier
// Note: Ristretto is eventually consistent, so this might not be exact
func (m *memoryTier[T]) Size() int {
	if m.config.Metrics {
		metrics := m.cache.Metrics
		return int(metrics.KeysAdded() - metrics.KeysEvicted())
	}
	return 0
}

// Metrics returns tier performance metrics
func (m *memoryTier[T]) Metrics() Metrics {
	if !m.config.Metrics {
		return Metrics{}
	}

	metrics := m.cache.Metrics
	return Metrics{
		Hits:        metrics.Hits(),
		Misses:      metrics.Misses(),
		KeysAdded:   metrics.KeysAdded(),
		KeysEvicted: metrics.KeysEvicted(),
		CostAdded:   metrics.CostAdded(),
		CostEvicted: metrics.CostEvicted(),
	}
}

// estimateCost estimates the memory cost of an envelope
func (m *memoryTier[T]) estimateCost(env envelope[T]) int64 {
	// Quick estimation: JSON serialization size + overhead
	data, err := json.Marshal(env)
	if err != nil {
		return 200
	}

	// Add some overhead for Go object structure
	return int64(len(data) + 100)
}

// envelope wraps a cached value with its expiry and the schema version of
// the build that wrote it.
type envelope[T any] struct {
	Value         T         `json:"value"`
	StoredAt      time.Time `json:"storedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	SchemaVersion string    `json:"schemaVersion"`
}

func (e *envelope[T]) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

func (e *envelope[T]) stale() bool {
	return e.SchemaVersion != SchemaVersion
}
