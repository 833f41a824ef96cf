package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces seen-ID keys in Redis.
const DefaultKeyPrefix = "bulk:seen:"

// RedisFilter admits each ID once per TTL window, with the seen-set kept
// in Redis. Useful when repeated runs over the same search must not
// touch items a previous run already processed.
type RedisFilter struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisFilter creates a Redis-backed filter. A zero TTL keeps seen
// IDs forever.
func NewRedisFilter(redisClient *redis.Client, prefix string, ttl time.Duration) *RedisFilter {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisFilter{
		redis:  redisClient,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Admit implements search.Filter. The first caller to claim an ID wins;
// SETNX makes the claim atomic across concurrent scanners.
func (f *RedisFilter) Admit(ctx context.Context, id string) (bool, error) {
	ok, err := f.redis.SetNX(ctx, f.prefix+id, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim seen id: %w", err)
	}
	return ok, nil
}

// Forget releases an ID so a later run can process it again.
func (f *RedisFilter) Forget(ctx context.Context, id string) error {
	if err := f.redis.Del(ctx, f.prefix+id).Err(); err != nil {
		return fmt.Errorf("forget seen id: %w", err)
	}
	return nil
}
