package exchange

import (
	"sync"
	"time"
)

// Cache TTLs mirroring the refresh cadences of the market data kinds.
const (
	TickersInfoTTL = time.Hour
	PricesTTL      = time.Minute
	TopOfBookTTL   = 5 * time.Second
	OrderBookTTL   = time.Second
)

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// MarketDataCache is a time-boxed cache for symbol lists, tickers, top of
// book and candles. It is the only shared mutable state inside the core:
// whole values are assigned atomically per key, last writer wins.
type MarketDataCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	clock   func() time.Time
}

// NewMarketDataCache creates an empty cache.
func NewMarketDataCache() *MarketDataCache {
	return &MarketDataCache{
		entries: make(map[string]cacheEntry),
		clock:   time.Now,
	}
}

func (c *MarketDataCache) get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	if !ok || c.clock().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

func (c *MarketDataCache) set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, expiresAt: c.clock().Add(ttl)}
	c.mu.Unlock()
}

// Invalidate drops a single key.
func (c *MarketDataCache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear drops all cached values.
func (c *MarketDataCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Fetch returns the cached value for key when present, unexpired, and not
// forced; otherwise it invokes fn and caches the result for ttl. A failed fn
// never stores anything and never evicts the previous value, so a transient
// upstream failure cannot poison the cache: the next call retries the
// network while a stale success keeps serving within its TTL window.
func Fetch[T any](c *MarketDataCache, key string, ttl time.Duration, force bool, fn func() (T, error)) (T, error) {
	if !force {
		if v, ok := c.get(key); ok {
			return v.(T), nil
		}
	}
	value, err := fn()
	if err != nil {
		var zero T
		return zero, err
	}
	c.set(key, value, ttl)
	return value, nil
}
