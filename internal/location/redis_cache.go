package location

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/superjustkidding/fango/internal/apperr"
	"github.com/superjustkidding/fango/internal/models"
)

// RedisCache stores each rider's recent window as a list (newest at the
// head) plus a separate latest-pointer key, so the hot read never touches
// the list.
type RedisCache struct {
	client *redis.Client
	prefix string
	window int
}

func NewRedisCache(client *redis.Client, prefix string, window int) *RedisCache {
	if prefix == "" {
		prefix = "rider_locations"
	}
	if window <= 0 {
		window = 100
	}
	return &RedisCache{client: client, prefix: prefix, window: window}
}

func (c *RedisCache) listKey(riderID string) string   { return c.prefix + ":" + riderID }
func (c *RedisCache) latestKey(riderID string) string { return c.prefix + ":latest:" + riderID }

func (c *RedisCache) Push(ctx context.Context, loc models.RiderLocation) error {
	data, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	pipe.LPush(ctx, c.listKey(loc.RiderID), data)
	pipe.LTrim(ctx, c.listKey(loc.RiderID), 0, int64(c.window-1))
	pipe.Set(ctx, c.latestKey(loc.RiderID), data, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis cache push: %v: %w", err, apperr.ErrTransient)
	}
	return nil
}

func (c *RedisCache) Latest(ctx context.Context, riderID string) (models.RiderLocation, bool, error) {
	data, err := c.client.Get(ctx, c.latestKey(riderID)).Bytes()
	if err == redis.Nil {
		return models.RiderLocation{}, false, nil
	}
	if err != nil {
		return models.RiderLocation{}, false, fmt.Errorf("redis cache get: %v: %w", err, apperr.ErrTransient)
	}
	var loc models.RiderLocation
	if err := json.Unmarshal(data, &loc); err != nil {
		return models.RiderLocation{}, false, err
	}
	return loc, true, nil
}

func (c *RedisCache) Recent(ctx context.Context, riderID string, limit int) ([]models.RiderLocation, error) {
	if limit <= 0 || limit > c.window {
		limit = c.window
	}
	vals, err := c.client.LRange(ctx, c.listKey(riderID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis cache range: %v: %w", err, apperr.ErrTransient)
	}
	out := make([]models.RiderLocation, 0, len(vals))
	for _, v := range vals {
		var loc models.RiderLocation
		if err := json.Unmarshal([]byte(v), &loc); err != nil {
			continue
		}
		out = append(out, loc)
	}
	return out, nil
}
