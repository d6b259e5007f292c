package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// QuotaRepository counts events per key inside a fixed Redis window.
type QuotaRepository struct {
	client *redis.Client
	prefix string
}

// NewQuotaRepository constructs a quota repository. A nil client allows
// everything.
func NewQuotaRepository(client *redis.Client, prefix string) *QuotaRepository {
	return &QuotaRepository{client: client, prefix: prefix}
}

// Consume records one event for key and reports whether the count is still
// within limit. The window starts with the first event.
func (r *QuotaRepository) Consume(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if r.client == nil || limit <= 0 {
		return true, nil
	}
	fullKey := r.prefix + key

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis quota %s: %w", fullKey, err)
	}
	return incr.Val() <= int64(limit), nil
}
