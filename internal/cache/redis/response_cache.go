package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// ResponseCache implements domain.ResponseCache with plain string keys so
// every replica sharing the Redis instance sees the same upstream bodies.
type ResponseCache struct {
	c *Client
}

// NewResponseCache creates a ResponseCache backed by c.
func NewResponseCache(c *Client) *ResponseCache {
	return &ResponseCache{c: c}
}

func (rc *ResponseCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := rc.c.rdb.Get(ctx, rc.c.key("resp", key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: response cache get: %w", err)
	}
	return b, nil
}

// Set stores value for ttl. The first writer wins so a slow replica never
// replaces the body others already observed.
func (rc *ResponseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := rc.c.rdb.SetNX(ctx, rc.c.key("resp", key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: response cache set: %w", err)
	}
	return nil
}

var _ domain.ResponseCache = (*ResponseCache)(nil)
