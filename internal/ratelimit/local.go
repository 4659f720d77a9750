package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"decodr/internal/core"
)

const (
	cleanupInterval = 5 * time.Minute
	entryTTL        = 10 * time.Minute
)

type bucket struct {
	limiter    *rate.Limiter
	limit      int
	window     time.Duration
	lastAccess atomic.Int64
}

// LocalStore keeps one token bucket per key in memory. Buckets refill at
// limit/window and hold at most limit tokens.
type LocalStore struct {
	buckets sync.Map
	now     func() time.Time
}

// NewLocalStore starts a janitor that evicts idle buckets until ctx is done.
func NewLocalStore(ctx context.Context) *LocalStore {
	s := &LocalStore{now: time.Now}
	go s.janitor(ctx)
	return s
}

func (s *LocalStore) janitor(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evictIdle(s.now().Add(-entryTTL))
		}
	}
}

func (s *LocalStore) evictIdle(cutoff time.Time) {
	s.buckets.Range(func(key, value any) bool {
		if b, ok := value.(*bucket); ok && b.lastAccess.Load() < cutoff.UnixNano() {
			s.buckets.Delete(key)
		}
		return true
	})
}

func (s *LocalStore) bucketFor(key string, limit int, window time.Duration) *bucket {
	if v, ok := s.buckets.Load(key); ok {
		b := v.(*bucket)
		if b.limit == limit && b.window == window {
			return b
		}
	}
	b := &bucket{
		limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit),
		limit:   limit,
		window:  window,
	}
	actual, _ := s.buckets.LoadOrStore(key, b)
	return actual.(*bucket)
}

func (s *LocalStore) IncrementAndCheck(_ context.Context, key string, limit int, window time.Duration) (core.RateLimitResult, error) {
	if limit <= 0 {
		return core.RateLimitResult{Allowed: false, ResetAt: s.now().Add(window)}, nil
	}

	now := s.now()
	b := s.bucketFor(key, limit, window)
	b.lastAccess.Store(now.UnixNano())

	allowed := b.limiter.AllowN(now, 1)
	tokens := b.limiter.TokensAt(now)
	remaining := max(int(tokens), 0)

	interval := window / time.Duration(limit)
	missing := float64(limit) - tokens
	resetAt := now.Add(time.Duration(missing * float64(interval)))

	return core.RateLimitResult{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
