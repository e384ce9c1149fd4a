package region

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"regions-server/internal/metrics"
	"regions-server/internal/models"
	"regions-server/internal/shared/redis"
)

// Cache keeps recently resolved regions by cell. Failures are logged and
// treated as misses; a cache never fails a resolution.
//
// Invalidate leaves a marker for one TTL that makes SetMany skip the cell, so
// a region read before the invalidation cannot be cached again after it.
type Cache interface {
	GetMany(ctx context.Context, cells []string) map[string]models.Region
	SetMany(ctx context.Context, regions []models.Region)
	Invalidate(ctx context.Context, cells ...string)
}

type NopCache struct{}

func (NopCache) GetMany(ctx context.Context, cells []string) map[string]models.Region {
	return map[string]models.Region{}
}

func (NopCache) SetMany(ctx context.Context, regions []models.Region) {}

func (NopCache) Invalidate(ctx context.Context, cells ...string) {}

type memoryEntry struct {
	region      models.Region
	invalidated bool
	expiresAt   time.Time
}

// MemoryCache is a process-local Cache with a fixed TTL
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (c *MemoryCache) GetMany(ctx context.Context, cells []string) map[string]models.Region {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	found := make(map[string]models.Region, len(cells))
	for _, cell := range cells {
		entry, ok := c.entries[cell]
		if !ok {
			continue
		}
		if !now.Before(entry.expiresAt) {
			delete(c.entries, cell)
			continue
		}
		if entry.invalidated {
			continue
		}
		found[cell] = entry.region
	}
	recordLookup(len(found), len(cells))
	return found
}

func (c *MemoryCache) SetMany(ctx context.Context, regions []models.Region) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, r := range regions {
		if entry, ok := c.entries[r.CellIndex]; ok && entry.invalidated && now.Before(entry.expiresAt) {
			continue
		}
		c.entries[r.CellIndex] = memoryEntry{region: r, expiresAt: now.Add(c.ttl)}
	}
}

func (c *MemoryCache) Invalidate(ctx context.Context, cells ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	for _, cell := range cells {
		c.entries[cell] = memoryEntry{invalidated: true, expiresAt: expiresAt}
	}
}

// invalidatedMarker replaces a cached region on invalidation
const invalidatedMarker = "invalidated"

// RedisCache stores regions as JSON under region:cell:<cell>. Writes use
// SET NX so they never replace an invalidation marker.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "region_cache"),
	}
}

func cacheKey(cell string) string {
	return "region:cell:" + cell
}

func (c *RedisCache) GetMany(ctx context.Context, cells []string) map[string]models.Region {
	found := make(map[string]models.Region, len(cells))
	if len(cells) == 0 {
		return found
	}

	keys := make([]string, len(cells))
	for i, cell := range cells {
		keys[i] = cacheKey(cell)
	}

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("Region cache lookup failed", "error", err)
		recordLookup(0, len(cells))
		return found
	}

	for i, value := range values {
		raw, ok := value.(string)
		if !ok || raw == invalidatedMarker {
			continue
		}
		var region models.Region
		if err := json.Unmarshal([]byte(raw), &region); err != nil {
			c.logger.Warn("Discarding undecodable cache entry", "cell_index", cells[i], "error", err)
			continue
		}
		found[cells[i]] = region
	}
	recordLookup(len(found), len(cells))
	return found
}

func (c *RedisCache) SetMany(ctx context.Context, regions []models.Region) {
	if len(regions) == 0 {
		return
	}

	pipe := c.client.Pipeline()
	for _, r := range regions {
		data, err := json.Marshal(r)
		if err != nil {
			c.logger.Warn("Failed to encode region for cache", "region_id", r.ID, "error", err)
			continue
		}
		pipe.SetNX(ctx, cacheKey(r.CellIndex), data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Failed to write region cache", "error", err)
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, cells ...string) {
	if len(cells) == 0 {
		return
	}
	pipe := c.client.Pipeline()
	for _, cell := range cells {
		pipe.Set(ctx, cacheKey(cell), invalidatedMarker, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Failed to invalidate region cache", "error", err)
	}
}

func recordLookup(hits, total int) {
	metrics.RegionCacheHitsTotal.Add(float64(hits))
	metrics.RegionCacheMissesTotal.Add(float64(total - hits))
}
