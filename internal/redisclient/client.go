package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AcquireCallbackLock takes a short advisory lock for one order while a
// payment callback is being applied. The return redirect and the IPN can
// arrive concurrently; the database row lock is the authority, this lock
// just avoids two transactions fighting over the same row.
func (c *Client) AcquireCallbackLock(ctx context.Context, orderID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, "lock:callback:"+orderID, "1", ttl).Result()
}

// ReleaseCallbackLock releases the advisory callback lock for an order.
func (c *Client) ReleaseCallbackLock(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, "lock:callback:"+orderID).Err()
}

// CacheLocations stores a serialized location list (cities, districts or
// wards) under key with a TTL. Region lists change rarely.
func (c *Client) CacheLocations(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, "goship:locations:"+key, payload, ttl).Err()
}

// GetCachedLocations retrieves a cached location list; a cache miss returns
// nil bytes and no error.
func (c *Client) GetCachedLocations(ctx context.Context, key string) ([]byte, error) {
	payload, err := c.rdb.Get(ctx, "goship:locations:"+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}
