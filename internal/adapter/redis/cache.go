// Package redis provides a shared hint image cache backed by Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ImageCache stores generated hint images in Redis so every service
// instance reuses them.
type ImageCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewImageCache connects to Redis and verifies the connection.
func NewImageCache(ctx context.Context, url string, ttl time.Duration) (*ImageCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &ImageCache{rdb: rdb, ttl: ttl}, nil
}

// Get returns the cached image, reporting a miss when the key is absent.
func (c *ImageCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get failed: %w", err)
	}
	return data, true, nil
}

// Put stores the image with the configured TTL.
func (c *ImageCache) Put(ctx context.Context, key string, data []byte) error {
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *ImageCache) Close() error {
	return c.rdb.Close()
}
