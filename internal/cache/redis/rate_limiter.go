package redis

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/retropick/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

const waitPollInterval = 50 * time.Millisecond

// Limit is a request budget per window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// RateLimiter implements domain.RateLimiter with a sliding window kept in a
// sorted set per key. Wait uses the limit registered for the longest
// matching key prefix, or the default.
type RateLimiter struct {
	c             *Client
	slidingWindow *redis.Script
	def           Limit
	limits        map[string]Limit
}

// NewRateLimiter creates a RateLimiter. def applies to keys without a
// registered prefix limit.
func NewRateLimiter(c *Client, def Limit) *RateLimiter {
	if def.Requests <= 0 {
		def.Requests = 1
	}
	if def.Window <= 0 {
		def.Window = time.Second
	}
	return &RateLimiter{
		c:             c,
		slidingWindow: redis.NewScript(slidingWindowLua),
		def:           def,
		limits:        make(map[string]Limit),
	}
}

// SetLimit registers the limit Wait uses for keys starting with prefix.
func (rl *RateLimiter) SetLimit(prefix string, l Limit) {
	rl.limits[prefix] = l
}

func (rl *RateLimiter) limitFor(key string) Limit {
	best, bestLen := rl.def, -1
	for p, l := range rl.limits {
		if strings.HasPrefix(key, p) && len(p) > bestLen {
			best, bestLen = l, len(p)
		}
	}
	return best
}

// Allow counts one request against key and reports whether it fits.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	res, err := rl.slidingWindow.Run(ctx, rl.c.rdb,
		[]string{rl.c.key("ratelimit", key)},
		time.Now().UnixMicro(),
		window.Microseconds(),
		limit,
	).Int64Slice()
	if err != nil {
		return false, fmt.Errorf("redis: rate limit allow %s: %w", key, err)
	}
	if len(res) < 2 {
		return false, fmt.Errorf("redis: rate limit allow %s: unexpected result length %d", key, len(res))
	}
	return res[0] == 1, nil
}

// Wait blocks until key has budget or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	l := rl.limitFor(key)
	for {
		allowed, err := rl.Allow(ctx, key, l.Requests, l.Window)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
