package badger

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/felixgeelhaar/apl/domain/cache"
)

const cacheNamespace = "cache"

// Cache is a BadgerDB-backed implementation of cache.Cache.
type Cache struct {
	db     *DB
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates a cache on an open database.
func NewCache(db *DB) *Cache {
	return &Cache{db: db}
}

// Get retrieves a value from the cache.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var value []byte
	err := c.db.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.db.key(cacheNamespace, key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	c.hits.Add(1)
	return value, true, nil
}

// Set stores a value in the cache.
func (c *Cache) Set(ctx context.Context, key string, value []byte, opts cache.SetOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return cache.ErrInvalidKey
	}

	return c.db.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(c.db.key(cacheNamespace, key), value)
		if opts.TTL > 0 {
			e = e.WithTTL(opts.TTL)
		}
		return txn.SetEntry(e)
	})
}

// Delete removes a value from the cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return c.db.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(c.db.key(cacheNamespace, key))
	})
}

// Exists checks if a key exists in the cache.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	err := c.db.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(c.db.key(cacheNamespace, key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Clear removes all cache entries.
func (c *Cache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.db.DropPrefix(c.db.key(cacheNamespace, ""))
}

// Stats returns cache statistics.
func (c *Cache) Stats() cache.Stats {
	var size int64

	_ = c.db.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = c.db.key(cacheNamespace, "")

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			size++
		}
		return nil
	})

	return cache.Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   size,
	}
}

var (
	_ cache.Cache         = (*Cache)(nil)
	_ cache.StatsProvider = (*Cache)(nil)
)
