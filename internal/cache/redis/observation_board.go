package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/retropick/internal/domain"
)

// ObservationBoard implements domain.ObservationBoard as one hash per step,
// keyed by replica id.
type ObservationBoard struct {
	c *Client
}

// NewObservationBoard creates an ObservationBoard backed by c.
func NewObservationBoard(c *Client) *ObservationBoard {
	return &ObservationBoard{c: c}
}

// Post records replica's observation for step. A replica's first post is
// kept; reposting never changes what peers already read.
func (b *ObservationBoard) Post(ctx context.Context, step, replica string, value []byte, ttl time.Duration) error {
	k := b.c.key("board", step)
	pipe := b.c.rdb.TxPipeline()
	pipe.HSetNX(ctx, k, replica, value)
	pipe.Expire(ctx, k, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: board post %s: %w", step, err)
	}
	return nil
}

// Collect returns every observation posted for step so far.
func (b *ObservationBoard) Collect(ctx context.Context, step string) (map[string][]byte, error) {
	m, err := b.c.rdb.HGetAll(ctx, b.c.key("board", step)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: board collect %s: %w", step, err)
	}
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = []byte(v)
	}
	return out, nil
}

var _ domain.ObservationBoard = (*ObservationBoard)(nil)
