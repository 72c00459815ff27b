package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache fronts the hot auction snapshot reads. Clients without a push
// channel poll every few seconds; the short TTL keeps those reads off the
// database without serving stale prices for longer than one poll interval.
type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func (c *Cache) GetSnapshot(ctx context.Context, auctionID string, dest interface{}) (bool, error) {
	val, err := c.client.Get(ctx, "auction:"+auctionID).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(val, dest)
}

func (c *Cache) SetSnapshot(ctx context.Context, auctionID string, snapshot interface{}, ttl time.Duration) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, "auction:"+auctionID, data, ttl).Err()
}

// InvalidateSnapshot drops the cached view after an accepted bid or a
// status transition so the next poll sees the new state.
func (c *Cache) InvalidateSnapshot(ctx context.Context, auctionID string) error {
	return c.client.Del(ctx, "auction:"+auctionID).Err()
}
