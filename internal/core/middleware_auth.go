package core

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"decodr/internal/types"
)

// BearerToken returns the token from an "Authorization: Bearer <token>"
// header, or "" when absent or malformed. The scheme is case-insensitive.
func BearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) < len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// RequireAuth rejects requests without a resolvable bearer token and stores
// the resolved Actor in the context.
func (s *Server) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil {
			s.Logger.ErrorContext(r.Context(), "no authenticator configured for protected route",
				slog.String("path", r.URL.Path))
			Error(w, r, types.NewAppError(types.ErrCodeInternalUnexpected, "authentication is not configured", nil))
			return
		}

		token := BearerToken(r)
		if token == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Bearer token is required", nil))
			return
		}

		actor, err := s.Authenticator.ResolveToken(r.Context(), token)
		if err != nil {
			s.handleAuthError(w, r, err)
			return
		}
		if actor == nil || actor.IsAnonymous() {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "Invalid authentication token", nil))
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), *actor)))
	})
}

// OptionalAuth resolves a bearer token when one is present. Missing,
// invalid or unverifiable tokens leave the request anonymous; it never
// rejects.
func (s *Server) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := types.AnonymousActor
		if token := BearerToken(r); token != "" && s.Authenticator != nil {
			resolved, err := s.Authenticator.ResolveToken(r.Context(), token)
			switch {
			case err != nil:
				s.Logger.DebugContext(r.Context(), "optional auth fell back to anonymous",
					slog.String("error", err.Error()),
					slog.String("request_id", types.GetRequestID(r.Context())),
				)
			case resolved != nil:
				actor = *resolved
			}
		}
		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), actor)))
	})
}

// handleAuthError keeps token_expired distinct so the client can refresh,
// surfaces an unreachable identity provider as such, and folds everything
// else into token_invalid.
func (s *Server) handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeAuthTokenExpired:
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenExpired, "Authentication token has expired", nil))
			return
		case types.ErrCodeUpstreamUnavailable, types.ErrCodeUpstreamRateLimited:
			s.Logger.WarnContext(r.Context(), "identity provider unavailable",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			Error(w, r, types.NewAppError(types.ErrCodeUpstreamUnavailable, "identity provider unavailable", nil))
			return
		}
	}

	s.Logger.WarnContext(r.Context(), "authentication failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "Invalid authentication token", nil))
}
