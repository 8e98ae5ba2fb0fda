package cache

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// memStore is an in-memory DurableStore for tests
type memStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	failPuts bool
	puts     int
	deletes  int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.failPuts {
		return context.DeadlineExceeded
	}
	s.data[key] = data
	return nil
}

func (s *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (s *memStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	delete(s.data, key)
	return nil
}

func (s *memStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

func (s *memStore) setFailPuts(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPuts = fail
}

func newTestCache(t *testing.T, durable DurableStore) *Cache[string] {
	t.Helper()
	c, err := New[string]("test.", DefaultRistrettoConfig(), durable, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	return c
}

func TestCache_SetAndGet(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	c.Set(ctx, "k1", "v1", time.Minute, false)

	value, found := c.Get(ctx, "k1", false)
	if !found {
		t.Fatal("Expected to find cached value")
	}
	if value != "v1" {
		t.Errorf("Expected value 'v1', got '%s'", value)
	}
}

func TestCache_GetMissing(t *testing.T) {
	c := newTestCache(t, nil)

	_, found := c.Get(context.Background(), "nope", false)
	if found {
		t.Error("Expected not found on empty cache")
	}
}

func TestCache_TTLExpiration(t *testing.T) {
	c := newTestCache(t, nil)
	ctx := context.Background()

	c.Set(ctx, "k1", "v1", 50*time.Millisecond, false)

	if _, found := c.Get(ctx, "k1", false); !found {
		t.Fatal("Expected value before expiry")
	}

	time.Sleep(80 * time.Millisecond)

	if _, found := c.Get(ctx, "k1", false); found {
		t.Error("Expected value to be absent after TTL")
	}
}

func TestCache_DurableWriteAndHydrate(t *testing.T) {
	store := newMemStore()
	c := newTestCache(t, store)
	ctx := context.Background()

	c.Set(ctx, "roster", "serialized", time.Minute, true)

	if store.len() != 1 {
		t.Fatalf("Expected 1 durable record, got %d", store.len())
	}

	// A second cache sharing the store simulates a restart
	c2 := newTestCache(t, store)
	value, found := c2.Get(ctx, "roster", true)
	if !found {
		t.Fatal("Expected durable hydration to find the value")
	}
	if value != "serialized" {
		t.Errorf("Expected 'serialized', got '%s'", value)
	}

	// Hydration fills the volatile tier; a non-durable read now hits
	if _, found := c2.Get(ctx, "roster", false); !found {
		t.Error("Expected volatile hit after hydration")
	}
}

func TestCache_DurableExpiry(t *testing.T) {
	store := newMemStore()
	c := newTestCache(t, store)
	ctx := context.Background()

	c.Set(ctx, "k1", "v1", 50*time.Millisecond, true)
	time.Sleep(80 * time.Millisecond)

	c2 := newTestCache(t, store)
	if _, found := c2.Get(ctx, "k1", true); found {
		t.Error("Expected expired durable record to read as absent")
	}
	if store.len() != 0 {
		t.Error("Expected expired durable record to be deleted")
	}
}

func TestCache_SchemaVersionMismatch(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	// Write a record under a different schema version directly
	env := envelope[string]{
		Value:         "old-shape",
		StoredAt:      time.Now().UTC(),
		ExpiresAt:     time.Now().UTC().Add(time.Hour),
		SchemaVersion: "v0",
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Failed to marshal envelope: %v", err)
	}
	if err := store.Put(ctx, "test.k1", data); err != nil {
		t.Fatalf("Failed to seed store: %v", err)
	}

	c := newTestCache(t, store)
	if _, found := c.Get(ctx, "k1", true); found {
		t.Error("Expected version-mismatched record to read as absent")
	}
	if store.len() != 0 {
		t.Error("Expected version-mismatched record to be deleted")
	}
}

func TestCache_CorruptDurableRecord(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	if err := store.Put(ctx, "test.bad", []byte("{not json")); err != nil {
		t.Fatalf("Failed to seed store: %v", err)
	}

	c := newTestCache(t, store)
	if _, found := c.Get(ctx, "bad", true); found {
		t.Error("Expected corrupt record to read as absent")
	}
	if store.len() != 0 {
		t.Error("Expected corrupt record to be removed")
	}
}

func TestCache_QuotaEviction(t *testing.T) {
	store := newMemStore()
	c := newTestCache(t, store)
	ctx := context.Background()

	// Seed ten records with increasing ages
	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		c.Set(ctx, key, "v", time.Minute, true)
		time.Sleep(2 * time.Millisecond)
	}
	if store.len() != 10 {
		t.Fatalf("Expected 10 durable records, got %d", store.len())
	}

	// Writes now fail: the cache should evict the oldest ~20% and retry
	store.setFailPuts(true)
	c.Set(ctx, "overflow", "v", time.Minute, true)

	if store.len() != 8 {
		t.Errorf("Expected 2 oldest records evicted, have %d left", store.len())
	}

	// The failure must not be visible through the volatile tier
	if _, found := c.Get(ctx, "overflow", false); !found {
		t.Error("Expected volatile write to survive a durable failure")
	}
}

func TestCache_RemoveAndClear(t *testing.T) {
	store := newMemStore()
	c := newTestCache(t, store)
	ctx := context.Background()

	c.Set(ctx, "k1", "v1", time.Minute, true)
	c.Set(ctx, "k2", "v2", time.Minute, true)

	c.Remove(ctx, "k1", true)
	if _, found := c.Get(ctx, "k1", true); found {
		t.Error("Expected removed key to be absent")
	}
	if store.len() != 1 {
		t.Errorf("Expected 1 durable record after remove, got %d", store.len())
	}

	// Clear only touches this cache's namespace
	if err := store.Put(ctx, "other.k", []byte("{}")); err != nil {
		t.Fatalf("Failed to seed store: %v", err)
	}
	c.Clear(ctx, true)

	if _, found := c.Get(ctx, "k2", true); found {
		t.Error("Expected cleared key to be absent")
	}
	if store.len() != 1 {
		t.Errorf("Expected foreign-prefix record to survive clear, got %d records", store.len())
	}
}

func TestCache_Ready(t *testing.T) {
	c := newTestCache(t, newMemStore())
	if err := c.Ready(context.Background()); err != nil {
		t.Errorf("Expected ready cache, got %v", err)
	}

	volatileOnly := newTestCache(t, nil)
	if err := volatileOnly.Ready(context.Background()); err != nil {
		t.Errorf("Expected volatile-only cache to be ready, got %v", err)
	}
}
