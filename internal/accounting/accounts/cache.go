package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ChartLoader builds the chart of accounts from storage.
type ChartLoader func(ctx context.Context) ([]ChartNode, error)

// ChartCache caches rendered charts per institution.
type ChartCache interface {
	Chart(ctx context.Context, institutionID string, load ChartLoader) ([]ChartNode, error)
	Invalidate(ctx context.Context, institutionID string) error
}

// RedisChartCache stores charts under a per-institution version so that an
// invalidation is a single INCR and stale entries simply expire.
type RedisChartCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewRedisChartCache instantiates the cache helper.
func NewRedisChartCache(client *redis.Client, ttl time.Duration) *RedisChartCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisChartCache{client: client, ttl: ttl}
}

func versionKey(institutionID string) string {
	return fmt.Sprintf("ledger:chart:%s:version", institutionID)
}

// Version returns the institution's cache version, initialising when missing.
func (c *RedisChartCache) Version(ctx context.Context, institutionID string) (int64, error) {
	key := versionKey(institutionID)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		// SETNX so a concurrent bump is not overwritten.
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Chart loads the cached chart or populates it using load. Concurrent misses
// for the same key share one load.
func (c *RedisChartCache) Chart(ctx context.Context, institutionID string, load ChartLoader) ([]ChartNode, error) {
	if load == nil {
		return nil, errors.New("chart cache: loader required")
	}
	if c == nil || c.client == nil {
		return load(ctx)
	}
	ver, err := c.Version(ctx, institutionID)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("ledger:chart:%s:%d", institutionID, ver)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var nodes []ChartNode
		if err := json.Unmarshal(payload, &nodes); err == nil {
			return nodes, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return nil, err
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		nodes, err := load(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(nodes)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return nil, err
		}
		return nodes, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]ChartNode), nil
}

// Invalidate bumps the institution's version.
func (c *RedisChartCache) Invalidate(ctx context.Context, institutionID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, versionKey(institutionID)).Err()
}
