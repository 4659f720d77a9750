package core

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"decodr/internal/types"
)

const (
	defaultRateLimitPerMinute = 60
	rateLimitWindow           = time.Minute
)

// RateLimit counts requests per caller: the account id when an Actor was
// resolved upstream, the client IP otherwise. Store errors fail open.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.RateLimitStore == nil || (s.Config != nil && !s.Config.RateLimit.Enabled) {
			next.ServeHTTP(w, r)
			return
		}

		key := rateLimitKey(r)
		limit := s.rateLimitPerMinute()

		result, err := s.RateLimitStore.IncrementAndCheck(r.Context(), key, limit, rateLimitWindow)
		if err != nil {
			s.Logger.ErrorContext(r.Context(), "rate limit store error",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, limit, result)

		if !result.Allowed {
			s.Logger.WarnContext(r.Context(), "rate limit exceeded",
				slog.String("key", key),
				slog.String("path", r.URL.Path),
				slog.String("request_id", types.GetRequestID(r.Context())),
			)
			retryAfter := max(int(time.Until(result.ResetAt).Seconds()), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			Error(w, r, types.NewAppError(types.ErrCodeRateLimit, "Rate limit exceeded. Please retry after the reset time.", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitPerMinute() int {
	if s.Config != nil && s.Config.RateLimit.PerMinute > 0 {
		return s.Config.RateLimit.PerMinute
	}
	return defaultRateLimitPerMinute
}

func rateLimitKey(r *http.Request) string {
	if actor, ok := types.GetActor(r.Context()); ok && !actor.IsAnonymous() {
		return "user:" + actor.ID
	}
	return "ip:" + clientIP(r)
}

// clientIP strips the port from RemoteAddr. RealIP in the global chain has
// already replaced RemoteAddr with the forwarded address when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func setRateLimitHeaders(w http.ResponseWriter, limit int, result RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
