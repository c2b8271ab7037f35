package badger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/apl/domain/cache"
	"github.com/felixgeelhaar/apl/infrastructure/storage/badger"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()

	db, err := badger.Open(badger.Config{InMemory: true}, badger.WithKeyPrefix("test:"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestCache_SetGetDelete(t *testing.T) {
	t.Parallel()

	c := badger.NewCache(openTestDB(t))
	ctx := context.Background()

	if err := c.Set(ctx, "builtin.fetch", []byte(`{"name":"fetch"}`), cache.SetOptions{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	value, ok, err := c.Get(ctx, "builtin.fetch")
	if err != nil || !ok {
		t.Fatalf("Get() = %v, %v", ok, err)
	}
	if string(value) != `{"name":"fetch"}` {
		t.Errorf("Get() = %s", value)
	}

	if _, ok, _ := c.Get(ctx, "missing"); ok {
		t.Error("Get(missing) found a value")
	}

	if err := c.Delete(ctx, "builtin.fetch"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if ok, _ := c.Exists(ctx, "builtin.fetch"); ok {
		t.Error("Exists() after Delete = true")
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Stats() = %+v, want 1 hit and 1 miss", stats)
	}
}

func TestCache_TTL(t *testing.T) {
	t.Parallel()

	c := badger.NewCache(openTestDB(t))
	ctx := context.Background()

	if err := c.Set(ctx, "short", []byte("v"), cache.SetOptions{TTL: time.Second}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	time.Sleep(1100 * time.Millisecond)

	if _, ok, _ := c.Get(ctx, "short"); ok {
		t.Error("Get() returned an expired entry")
	}
}

func TestCache_ClearAndInvalidKey(t *testing.T) {
	t.Parallel()

	c := badger.NewCache(openTestDB(t))
	ctx := context.Background()

	_ = c.Set(ctx, "a", []byte("1"), cache.SetOptions{})
	_ = c.Set(ctx, "b", []byte("2"), cache.SetOptions{})
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if size := c.Stats().Size; size != 0 {
		t.Errorf("Size after Clear = %d, want 0", size)
	}

	if err := c.Set(ctx, "", []byte("v"), cache.SetOptions{}); !errors.Is(err, cache.ErrInvalidKey) {
		t.Errorf("Set(\"\") error = %v, want ErrInvalidKey", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, _, err := c.Get(cancelled, "a"); !errors.Is(err, context.Canceled) {
		t.Errorf("Get() with cancelled context error = %v", err)
	}
}
