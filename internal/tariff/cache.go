package tariff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheVersionKey = "tariff:version"
	snapshotPrefix  = "tariff:snapshot"
	bumpChannel     = "tariff.bump"
)

// Cache stores tariff snapshots in Redis under a version that admin mutations bump.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, cacheVersionKey, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

func (c *Cache) snapshotKey(ver int64) string {
	return fmt.Sprintf("%s:%d", snapshotPrefix, ver)
}

// LoadAt returns the cached snapshot stored under ver.
// ok is false on a cache miss.
func (c *Cache) LoadAt(ctx context.Context, ver int64) (snap *Snapshot, ok bool, err error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	payload, err := c.client.Get(ctx, c.snapshotKey(ver)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var out Snapshot
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, false, err
	}
	return &out, true, nil
}

// StoreAt writes snap under ver, the version read before snap was loaded.
// A bump during the load leaves the write under the superseded key.
func (c *Cache) StoreAt(ctx context.Context, ver int64, snap *Snapshot) error {
	if c == nil || c.client == nil || snap == nil {
		return nil
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.snapshotKey(ver), raw, c.ttl).Err()
}

// Bump invalidates cached snapshots by incrementing the version and publishing it.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(ver, 10)).Err()
}
