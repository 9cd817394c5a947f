// Package pricing caches market prices per item identity and compares
// listing prices against them.
package pricing

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/romangod6/listing-harvester/internal/metrics"
	"github.com/romangod6/listing-harvester/internal/models"
	"github.com/romangod6/listing-harvester/internal/storage"
)

// DefaultMaxAgeDays is how long a market price stays fresh.
const DefaultMaxAgeDays = 7

// Cache serves market prices from the store, optionally fronted by an
// in-process LRU. Freshness is decided at read time from last_updated, so a
// stale entry in either layer is reported as a miss.
type Cache struct {
	gateway *storage.Gateway
	front   *lru.Cache[string, models.MarketPrice]
	metrics *metrics.Metrics
	now     func() time.Time
}

type CacheOption func(*Cache)

func WithCacheMetrics(m *metrics.Metrics) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache builds a cache over the gateway. lruSize <= 0 disables the
// in-process front.
func NewCache(g *storage.Gateway, lruSize int, opts ...CacheOption) (*Cache, error) {
	c := &Cache{gateway: g, now: time.Now}
	if lruSize > 0 {
		front, err := lru.New[string, models.MarketPrice](lruSize)
		if err != nil {
			return nil, err
		}
		c.front = front
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func cacheKey(itemHash string, itemType models.ItemType) string {
	return string(itemType) + ":" + itemHash
}

// AgeDays returns the whole days elapsed since t.
func AgeDays(now, t time.Time) int {
	return int(now.Sub(t) / (24 * time.Hour))
}

// Get returns the stored market price when its whole-day age is below
// maxAgeDays. maxAgeDays <= 0 selects DefaultMaxAgeDays.
func (c *Cache) Get(ctx context.Context, itemHash string, itemType models.ItemType, maxAgeDays int) (*models.MarketPrice, bool, error) {
	if maxAgeDays <= 0 {
		maxAgeDays = DefaultMaxAgeDays
	}
	key := cacheKey(itemHash, itemType)
	now := c.now()

	// a stale front entry falls through, the store may hold a newer one
	if c.front != nil {
		if cached, ok := c.front.Get(key); ok && AgeDays(now, cached.LastUpdated) < maxAgeDays {
			c.metrics.IncPriceCache("hit")
			return &cached, true, nil
		}
	}

	stored, err := c.gateway.GetMarketPrice(ctx, itemHash, itemType)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		c.metrics.IncPriceCache("miss")
		return nil, false, nil
	}
	if c.front != nil {
		c.front.Add(key, *stored)
	}

	if AgeDays(now, stored.LastUpdated) >= maxAgeDays {
		c.metrics.IncPriceCache("stale")
		return nil, false, nil
	}
	c.metrics.IncPriceCache("hit")
	return stored, true, nil
}

// Put stores the market price unconditionally.
func (c *Cache) Put(ctx context.Context, mp models.MarketPrice) error {
	if err := c.gateway.SaveMarketPrice(ctx, mp); err != nil {
		return err
	}
	if c.front != nil {
		c.front.Add(cacheKey(mp.ItemHash, mp.ItemType), mp)
	}
	return nil
}
