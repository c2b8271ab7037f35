package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/apl/domain/cache"
)

// Cache is a SQLite-backed descriptor cache. Entries survive restarts, so
// live registry lookups are paid once per TTL rather than once per process.
type Cache struct {
	db        *sql.DB
	keyPrefix string
	now       func() time.Time
	hits      atomic.Int64
	misses    atomic.Int64
}

// NewCache opens the database described by cfg and returns a cache on it.
func NewCache(cfg Config, opts ...Option) (*Cache, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		db:        db,
		keyPrefix: cfg.KeyPrefix,
		now:       time.Now,
	}

	if cfg.AutoMigrate {
		if err := c.migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return c, nil
}

// NewCacheFromDB creates a cache from an existing database connection.
func NewCacheFromDB(db *sql.DB, keyPrefix string) (*Cache, error) {
	c := &Cache{
		db:        db,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}

	if err := c.migrate(); err != nil {
		return nil, err
	}

	return c, nil
}

// SetClock replaces the clock used for expiry.
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Cache) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS descriptor_cache (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_descriptor_cache_expires_at ON descriptor_cache(expires_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return errors.Join(ErrMigrationFailed, err)
	}

	return nil
}

func (c *Cache) prefixKey(key string) string {
	return c.keyPrefix + key
}

// Get retrieves a value from the cache.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	prefixedKey := c.prefixKey(key)
	now := c.now().Unix()

	var value []byte
	var expiresAt sql.NullInt64

	err := c.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM descriptor_cache WHERE key = ?",
		prefixedKey,
	).Scan(&value, &expiresAt)

	if errors.Is(err, sql.ErrNoRows) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if expiresAt.Valid && expiresAt.Int64 <= now {
		_, _ = c.db.ExecContext(ctx, "DELETE FROM descriptor_cache WHERE key = ?", prefixedKey)
		c.misses.Add(1)
		return nil, false, nil
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

	prefixedKey := c.prefixKey(key)
	now := c.now().Unix()

	var expiresAt sql.NullInt64
	if opts.TTL > 0 {
		expiresAt = sql.NullInt64{Int64: c.now().Add(opts.TTL).Unix(), Valid: true}
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO descriptor_cache (key, value, expires_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   value = excluded.value,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		prefixedKey, value, expiresAt, now,
	)

	return err
}

// Delete removes a value from the cache.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	prefixedKey := c.prefixKey(key)
	_, err := c.db.ExecContext(ctx, "DELETE FROM descriptor_cache WHERE key = ?", prefixedKey)
	return err
}

// Exists checks if a key exists in the cache.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	prefixedKey := c.prefixKey(key)
	now := c.now().Unix()

	var exists int
	err := c.db.QueryRowContext(ctx,
		"SELECT 1 FROM descriptor_cache WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)",
		prefixedKey, now,
	).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// Clear removes all entries from the cache.
func (c *Cache) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.keyPrefix == "" {
		_, err := c.db.ExecContext(ctx, "DELETE FROM descriptor_cache")
		return err
	}
	_, err := c.db.ExecContext(ctx, "DELETE FROM descriptor_cache WHERE substr(key, 1, ?) = ?", len(c.keyPrefix), c.keyPrefix)
	return err
}

// Stats returns cache statistics.
func (c *Cache) Stats() cache.Stats {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var size int64
	_ = c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM descriptor_cache").Scan(&size)

	return cache.Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Size:   size,
	}
}

// Cleanup removes expired entries and returns how many were dropped.
func (c *Cache) Cleanup(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := c.now().Unix()
	result, err := c.db.ExecContext(ctx,
		"DELETE FROM descriptor_cache WHERE expires_at IS NOT NULL AND expires_at <= ?",
		now,
	)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// Close closes the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// DB returns the underlying database connection.
func (c *Cache) DB() *sql.DB {
	return c.db
}

var (
	_ cache.Cache         = (*Cache)(nil)
	_ cache.StatsProvider = (*Cache)(nil)
)
