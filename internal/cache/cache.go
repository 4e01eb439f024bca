package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/weather-history-service/internal/aggregate"
)

// Cache defines the interface for summary caching implementations.
// Get returns cached summaries if present and not expired, Set stores them with TTL.
// Keys embed the store version, so entries never need explicit invalidation.
type Cache interface {
	Get(ctx context.Context, key string) ([]aggregate.FieldSummary, bool, error)
	Set(ctx context.Context, key string, value []aggregate.FieldSummary, ttl time.Duration) error
}

// InMemoryCache implements Cache using an in-memory map with TTL-based expiration.
// Expired entries are removed on access.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	now  func() time.Time
}

// cacheEntry stores cached summaries with expiration timestamp.
type cacheEntry struct {
	value     []aggregate.FieldSummary
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

// Get retrieves cached summaries for the key if present and not expired.
// Returns (data, true, nil) on cache hit, (nil, false, nil) on miss or expiration.
func (c *InMemoryCache) Get(ctx context.Context, key string) ([]aggregate.FieldSummary, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}

	if c.now().After(entry.expiresAt) {
		delete(c.data, key)
		return nil, false, nil
	}

	return append([]aggregate.FieldSummary(nil), entry.value...), true, nil
}

// Set stores summaries in cache with the specified TTL duration.
// Expired entries are swept on every Set so abandoned session keys do not accumulate.
func (c *InMemoryCache) Set(ctx context.Context, key string, value []aggregate.FieldSummary, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.data {
		if now.After(e.expiresAt) {
			delete(c.data, k)
		}
	}
	c.data[key] = cacheEntry{
		value:     append([]aggregate.FieldSummary(nil), value...),
		expiresAt: now.Add(ttl),
	}
	return nil
}

// Len returns the number of entries, expired or not.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
