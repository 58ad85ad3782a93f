package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

type backend interface {
	Query(ctx context.Context, filter domain.Filter) ([]domain.Entity, error)
	Update(ctx context.Context, filter domain.Filter, id string, patch domain.Patch) error
	Upsert(ctx context.Context, filter domain.Filter, items []domain.Entity) error
}

// versionTTL bounds how long an idle board's write counter is kept.
const versionTTL = 24 * time.Hour

// Cache wraps a store with a Redis read-through cache of board queries.
// Writes go to the store first, then bump the board's version and evict the
// cached collection. A query only fills the cache when no write bumped the
// version while it was reading the store.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching store wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Query(ctx context.Context, filter domain.Filter) ([]domain.Entity, error) {
	if items, ok := c.load(ctx, filter); ok {
		return items, nil
	}
	version, versioned := c.version(ctx, filter)
	items, err := c.base.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	if versioned {
		c.store(ctx, filter, items, version)
	}
	return items, nil
}

func (c *Cache) Update(ctx context.Context, filter domain.Filter, id string, patch domain.Patch) error {
	err := c.base.Update(ctx, filter, id, patch)
	c.Evict(ctx, filter)
	return err
}

func (c *Cache) Upsert(ctx context.Context, filter domain.Filter, items []domain.Entity) error {
	err := c.base.Upsert(ctx, filter, items)
	c.Evict(ctx, filter)
	return err
}

// Evict drops the cached collection of filter and invalidates queries
// still reading the store.
func (c *Cache) Evict(ctx context.Context, filter domain.Filter) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, versionKey(filter))
		p.Expire(ctx, versionKey(filter), versionTTL)
		p.Del(ctx, boardCacheKey(filter))
		return nil
	})
}

func (c *Cache) version(ctx context.Context, filter domain.Filter) (int64, bool) {
	if c.redis == nil || c.ttl == 0 {
		return 0, false
	}
	v, err := c.redis.Get(ctx, versionKey(filter)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	return v, err == nil
}

func (c *Cache) load(ctx context.Context, filter domain.Filter) ([]domain.Entity, bool) {
	if c.redis == nil {
		return nil, false
	}
	key := boardCacheKey(filter)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the store without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var items []domain.Entity
	if err := sonic.Unmarshal(data, &items); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return items, true
}

// store caches items unless the version moved on since the query started.
func (c *Cache) store(ctx context.Context, filter domain.Filter, items []domain.Entity, version int64) {
	data, err := sonic.Marshal(items)
	if err != nil {
		return
	}
	vkey := versionKey(filter)
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, vkey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != version {
			return errStaleRead
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, boardCacheKey(filter), data, c.ttl)
			return nil
		})
		return err
	}, vkey)
}

var errStaleRead = errors.New("board changed during query")

func boardCacheKey(filter domain.Filter) string {
	return "board:" + filter.String()
}

func versionKey(filter domain.Filter) string {
	return "board-version:" + filter.String()
}
