package assign

import (
	"context"
	"sync"
	"time"

	"github.com/superjustkidding/fango/internal/models"
	"github.com/superjustkidding/fango/internal/storage"
)

// CachedLocator memoizes restaurant coordinates with a TTL. Restaurants do
// not move, but upstream may correct a geocode, so entries expire rather
// than living forever.
type CachedLocator struct {
	inner storage.RestaurantLocator
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[string]locatorEntry
}

type locatorEntry struct {
	coord models.Coord
	ts    time.Time
}

func NewCachedLocator(inner storage.RestaurantLocator, ttl time.Duration) *CachedLocator {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedLocator{inner: inner, ttl: ttl, cache: make(map[string]locatorEntry)}
}

func (c *CachedLocator) RestaurantLocation(ctx context.Context, restaurantID string) (models.Coord, error) {
	c.mu.RLock()
	e, ok := c.cache[restaurantID]
	c.mu.RUnlock()
	if ok && time.Since(e.ts) <= c.ttl {
		return e.coord, nil
	}

	coord, err := c.inner.RestaurantLocation(ctx, restaurantID)
	if err != nil {
		return models.Coord{}, err
	}
	c.mu.Lock()
	c.cache[restaurantID] = locatorEntry{coord: coord, ts: time.Now()}
	c.mu.Unlock()
	return coord, nil
}
