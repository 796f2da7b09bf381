package location

import (
	"context"
	"sync"

	"github.com/superjustkidding/fango/internal/models"
)

// Cache is the low-latency bounded view over recent rider positions. It is a
// performance layer only: a miss falls back to the durable log, and the whole
// cache can be rebuilt from it.
type Cache interface {
	// Push inserts the record, trims the per-rider window to the newest N
	// and moves the latest pointer. Trim is monotonic: evicted records never
	// reappear.
	Push(ctx context.Context, loc models.RiderLocation) error
	// Latest returns the newest cached record, or ok=false on a miss.
	Latest(ctx context.Context, riderID string) (models.RiderLocation, bool, error)
	// Recent returns up to limit cached records, newest first.
	Recent(ctx context.Context, riderID string, limit int) ([]models.RiderLocation, error)
}

// MemoryCache keeps the bounded windows in process memory.
type MemoryCache struct {
	mu     sync.RWMutex
	window int
	recent map[string][]models.RiderLocation // newest first
}

func NewMemoryCache(window int) *MemoryCache {
	if window <= 0 {
		window = 100
	}
	return &MemoryCache{window: window, recent: make(map[string][]models.RiderLocation)}
}

func (c *MemoryCache) Push(ctx context.Context, loc models.RiderLocation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := append([]models.RiderLocation{loc}, c.recent[loc.RiderID]...)
	if len(list) > c.window {
		list = list[:c.window]
	}
	c.recent[loc.RiderID] = list
	return nil
}

func (c *MemoryCache) Latest(ctx context.Context, riderID string) (models.RiderLocation, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := c.recent[riderID]
	if len(list) == 0 {
		return models.RiderLocation{}, false, nil
	}
	return list[0], true, nil
}

func (c *MemoryCache) Recent(ctx context.Context, riderID string, limit int) ([]models.RiderLocation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := c.recent[riderID]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return append([]models.RiderLocation(nil), list...), nil
}
