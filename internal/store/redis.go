package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/loamworks/tessera/internal/grid"
	"github.com/loamworks/tessera/internal/roadnet"
)

// redisTileKeyPrefix namespaces tile entries so a shared Redis instance can
// host other keyspaces alongside the tile cache.
const redisTileKeyPrefix = "tessera:tile:"

// RedisTileCache implements roadnet.TileStore on Redis. It covers only the
// tile-cache surface of Store, for deployments where multiple instances share
// one cache and entries should expire on their own.
type RedisTileCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// RedisOption customizes the Redis client.
type RedisOption func(*redis.Options)

// WithRedisPoolSize sets the connection pool size.
func WithRedisPoolSize(size int) RedisOption {
	return func(o *redis.Options) {
		o.PoolSize = size
	}
}

// WithRedisDialTimeout sets the dial timeout.
func WithRedisDialTimeout(d time.Duration) RedisOption {
	return func(o *redis.Options) {
		o.DialTimeout = d
	}
}

// NewRedisTileCache connects to Redis and verifies the connection. A zero ttl
// keeps entries until explicitly cleared.
func NewRedisTileCache(ctx context.Context, addr string, ttl time.Duration, opts ...RedisOption) (*RedisTileCache, error) {
	if addr == "" {
		return nil, eris.New("redis: address is required")
	}

	options := &redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(options)
	}

	rdb := redis.NewClient(options)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrapf(err, "redis: ping %s", addr)
	}
	return &RedisTileCache{rdb: rdb, ttl: ttl}, nil
}

func (c *RedisTileCache) GetTileCells(ctx context.Context, key roadnet.TileKey) (grid.CellSet, bool, error) {
	data, err := c.rdb.Get(ctx, redisTileKeyPrefix+key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, eris.Wrapf(err, "redis: get tile %s", key)
	}
	cells, err := decodeCells(data)
	if err != nil {
		return nil, false, eris.Wrapf(err, "redis: tile %s", key)
	}
	return cells, true, nil
}

func (c *RedisTileCache) PutTileCells(ctx context.Context, key roadnet.TileKey, cells grid.CellSet) error {
	data, err := encodeCells(cells)
	if err != nil {
		return eris.Wrapf(err, "redis: tile %s", key)
	}
	if err := c.rdb.Set(ctx, redisTileKeyPrefix+key.String(), data, c.ttl).Err(); err != nil {
		return eris.Wrapf(err, "redis: put tile %s", key)
	}
	return nil
}

// ClearTileCache deletes cached tiles, all of them or only those for one cell
// size, and returns how many were removed.
func (c *RedisTileCache) ClearTileCache(ctx context.Context, cellSize *float64) (int, error) {
	pattern := redisTileKeyPrefix + "*"
	if cellSize != nil {
		pattern = redisTileKeyPrefix + "*@" + strconv.FormatFloat(*cellSize, 'g', -1, 64)
	}

	deleted := 0
	batch := make([]string, 0, 512)
	iter := c.rdb.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			n, err := c.rdb.Del(ctx, batch...).Result()
			if err != nil {
				return deleted, eris.Wrap(err, "redis: clear tiles")
			}
			deleted += int(n)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, eris.Wrap(err, "redis: scan tiles")
	}
	if len(batch) > 0 {
		n, err := c.rdb.Del(ctx, batch...).Result()
		if err != nil {
			return deleted, eris.Wrap(err, "redis: clear tiles")
		}
		deleted += int(n)
	}
	return deleted, nil
}

func (c *RedisTileCache) TileCacheStats(ctx context.Context) (*TileCacheStats, error) {
	var st TileCacheStats
	iter := c.rdb.Scan(ctx, 0, redisTileKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		size, err := c.rdb.StrLen(ctx, iter.Val()).Result()
		if err != nil {
			return nil, eris.Wrap(err, "redis: tile size")
		}
		st.Entries++
		st.Bytes += size
	}
	if err := iter.Err(); err != nil {
		return nil, eris.Wrap(err, "redis: scan tiles")
	}
	return &st, nil
}

func (c *RedisTileCache) Close() error {
	return eris.Wrap(c.rdb.Close(), "redis: close")
}
