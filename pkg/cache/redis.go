package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis stores explanations in Redis with a TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

var _ ExplanationCache = (*Redis)(nil)

// NewRedis wraps a connected client.
func NewRedis(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl, logger: logger.Named("explain-cache")}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool) {
	v, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		r.logger.Warn("Explanation cache read failed", zap.Error(err))
		return "", false
	}
	return v, true
}

func (r *Redis) Set(ctx context.Context, key, explanation string) {
	if err := r.client.Set(ctx, key, explanation, r.ttl).Err(); err != nil {
		r.logger.Warn("Explanation cache write failed", zap.Error(err))
	}
}
