package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestKVStore_RoundTrip(t *testing.T) {
	store, err := NewKVStore(KVConfig{
		Embedded:   true,
		BucketName: "test-presence-cache",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	if err := store.Put(ctx, "presence.roster", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}

	data, err := store.Get(ctx, "presence.roster")
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if string(data) != `{"v":1}` {
		t.Errorf("Expected stored payload, got %s", data)
	}

	if err := store.Delete(ctx, "presence.roster"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}

	if _, err := store.Get(ctx, "presence.roster"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}

func TestKVStore_KeysByPrefix(t *testing.T) {
	store, err := NewKVStore(KVConfig{
		Embedded:   true,
		BucketName: "test-presence-keys",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	for _, key := range []string{"presence.a", "presence.b", "other.c"} {
		if err := store.Put(ctx, key, []byte("{}")); err != nil {
			t.Fatalf("Failed to put %s: %v", key, err)
		}
	}

	keys, err := store.Keys(ctx, "presence.")
	if err != nil {
		t.Fatalf("Failed to list keys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Expected 2 keys under prefix, got %d: %v", len(keys), keys)
	}
}

func TestKVStore_GetMissing(t *testing.T) {
	store, err := NewKVStore(KVConfig{
		Embedded:   true,
		BucketName: "test-presence-missing",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if _, err := store.Get(context.Background(), "presence.nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
