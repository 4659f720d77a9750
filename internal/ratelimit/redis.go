// Package ratelimit provides the stores behind core.RateLimitStore: a Redis
// GCRA limiter shared across instances, and an in-process token bucket used
// on its own in local runs and as the Redis fallback.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	redis_rate "github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"

	"decodr/internal/core"
)

const keyPrefix = "decodr:ratelimit:"

// NewRedisClient parses url, connects and pings.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolTimeout = 5 * time.Second
	opts.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisStore rate limits through Redis and falls back to a LocalStore when
// Redis errors, so an outage degrades to per-instance limits rather than
// none.
type RedisStore struct {
	limiter  *redis_rate.Limiter
	fallback *LocalStore
	logger   *slog.Logger
}

func NewRedisStore(rdb redis.UniversalClient, fallback *LocalStore, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		limiter:  redis_rate.NewLimiter(rdb),
		fallback: fallback,
		logger:   logger,
	}
}

func (s *RedisStore) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (core.RateLimitResult, error) {
	res, err := s.limiter.Allow(ctx, keyPrefix+key, redis_rate.Limit{
		Rate:   limit,
		Burst:  limit,
		Period: window,
	})
	if err != nil {
		if s.fallback == nil {
			return core.RateLimitResult{}, fmt.Errorf("redis rate limit: %w", err)
		}
		s.logger.WarnContext(ctx, "redis rate limiter unavailable, using local fallback", "error", err)
		return s.fallback.IncrementAndCheck(ctx, key, limit, window)
	}

	return core.RateLimitResult{
		Allowed:   res.Allowed > 0,
		Remaining: res.Remaining,
		ResetAt:   time.Now().Add(max(res.ResetAfter, res.RetryAfter)),
	}, nil
}

// HealthProbe reports Redis reachability on /health.
type HealthProbe struct {
	rdb redis.UniversalClient
}

func NewHealthProbe(rdb redis.UniversalClient) *HealthProbe {
	return &HealthProbe{rdb: rdb}
}

func (p *HealthProbe) Name() string { return "redis" }

func (p *HealthProbe) Check(ctx context.Context) error {
	if err := p.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
