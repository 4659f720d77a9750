package core

import (
	"context"
	"time"

	"decodr/internal/types"
)

// Authenticator resolves a bearer token to an Actor. Implementations return
// an AppError with auth_token_invalid or auth_token_expired when the token is
// rejected.
type Authenticator interface {
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// RateLimitStore abstracts the backing store for rate limiting. Production
// uses Redis; local runs and tests use an in-process limiter.
type RateLimitStore interface {
	// IncrementAndCheck counts one request against key and reports whether it
	// fits within limit per window.
	IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// RateLimitResult contains the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// MetricsCollector records API request telemetry. route is the matched chi
// pattern, not the raw path.
type MetricsCollector interface {
	RecordRequest(method, route, status string, duration time.Duration)
}
