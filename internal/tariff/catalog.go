package tariff

import (
	"context"
	"log/slog"
	"strconv"

	"golang.org/x/sync/singleflight"
)

// Source loads the raw tariff rows.
type Source interface {
	ListEntries(ctx context.Context) ([]Entry, error)
	ListExclusions(ctx context.Context, insuranceType string) ([]Exclusion, error)
}

// Catalog hands out tariff snapshots, served from Redis when possible.
type Catalog struct {
	source       Source
	cache        *Cache
	logger       *slog.Logger
	selfPayLabel string
	group        singleflight.Group
}

// NewCatalog constructs a Catalog. cache and logger may be nil.
func NewCatalog(source Source, cache *Cache, logger *slog.Logger, selfPayLabel string) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{source: source, cache: cache, logger: logger, selfPayLabel: selfPayLabel}
}

// SelfPayLabel returns the insurance type meaning "no insurance".
func (c *Catalog) SelfPayLabel() string {
	return c.selfPayLabel
}

// Snapshot returns the current tariff view. Redis failures fall back to the database.
// The cache version is read once, before loading, and keys both the
// singleflight call and the write-back.
func (c *Catalog) Snapshot(ctx context.Context) (*Snapshot, error) {
	ver, err := c.cache.Version(ctx)
	if err != nil {
		c.logger.Warn("tariff cache version", slog.Any("error", err))
		return c.load(ctx)
	}
	snap, ok, err := c.cache.LoadAt(ctx, ver)
	if err != nil {
		c.logger.Warn("tariff cache load", slog.Any("error", err))
	}
	if ok {
		snap.SelfPayLabel = c.selfPayLabel
		return snap, nil
	}
	v, err, _ := c.group.Do("snapshot:"+strconv.FormatInt(ver, 10), func() (interface{}, error) {
		loaded, err := c.load(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.cache.StoreAt(ctx, ver, loaded); err != nil {
			c.logger.Warn("tariff cache store", slog.Any("error", err))
		}
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Invalidate drops cached snapshots after a catalog mutation.
func (c *Catalog) Invalidate(ctx context.Context) {
	if err := c.cache.Bump(ctx); err != nil {
		c.logger.Warn("tariff cache bump", slog.Any("error", err))
	}
}

func (c *Catalog) load(ctx context.Context) (*Snapshot, error) {
	entries, err := c.source.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	exclusions, err := c.source.ListExclusions(ctx, "")
	if err != nil {
		return nil, err
	}
	return NewSnapshot(entries, exclusions, c.selfPayLabel), nil
}
