// Package auth resolves Supabase-issued bearer tokens to accounts.
//
// Three modes are supported, picked by NewResolver from IdentityConfig:
// JWKS (asymmetric keys fetched and refreshed in the background), a shared
// HS256 secret, or remote introspection against the Supabase user endpoint.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"decodr/internal/config"
	"decodr/internal/types"
)

// clockSkew is the leeway applied to exp, nbf and iat checks.
const clockSkew = 30 * time.Second

// Resolver maps a bearer token to an account.
type Resolver interface {
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// Claims are the fields decodr reads from a Supabase access token.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates JWTs locally.
type Verifier struct {
	keyfunc jwt.Keyfunc
	parser  *jwt.Parser
	logger  *slog.Logger
}

func newParser(audience string, methods ...string) *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(methods),
		jwt.WithLeeway(clockSkew),
		jwt.WithExpirationRequired(),
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return jwt.NewParser(opts...)
}

// NewHS256Verifier verifies tokens signed with the project's shared secret.
func NewHS256Verifier(secret types.SecretString, audience string, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	key := []byte(secret.Unmask())
	return &Verifier{
		keyfunc: func(*jwt.Token) (any, error) { return key, nil },
		parser:  newParser(audience, jwt.SigningMethodHS256.Alg()),
		logger:  logger,
	}
}

// NewJWKSVerifier fetches the key set at jwksURL and keeps it refreshed until
// ctx is cancelled.
func NewJWKSVerifier(ctx context.Context, jwksURL, audience string, logger *slog.Logger) (*Verifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	k, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("loading JWKS from %s: %w", jwksURL, err)
	}
	return &Verifier{
		keyfunc: k.Keyfunc,
		parser:  newParser(audience, "RS256", "ES256", "EdDSA"),
		logger:  logger,
	}, nil
}

// ResolveToken validates the signature and standard claims and returns the
// account named by sub. sub must be a UUID.
func (v *Verifier) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	var claims Claims
	if _, err := v.parser.ParseWithClaims(token, &claims, v.keyfunc); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "token has expired", err)
		}
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token is invalid", err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token subject is not an account id", err)
	}
	return &types.Actor{ID: id.String(), Type: types.ActorTypeUser, Email: claims.Email}, nil
}

// NewResolver picks the verification mode from cfg. remote serves when
// neither a JWKS URL nor a JWT secret is configured.
func NewResolver(ctx context.Context, cfg config.IdentityConfig, remote Resolver, logger *slog.Logger) (Resolver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case cfg.JWKSURL != "":
		logger.Info("token verification via JWKS", "jwks_url", cfg.JWKSURL)
		return NewJWKSVerifier(ctx, cfg.JWKSURL, cfg.JWTAudience, logger)
	case cfg.JWTSecret.IsSet():
		logger.Info("token verification via shared secret")
		return NewHS256Verifier(cfg.JWTSecret, cfg.JWTAudience, logger), nil
	case remote != nil:
		logger.Info("token verification via identity provider", "supabase_url", cfg.SupabaseURL)
		return remote, nil
	default:
		return nil, errors.New("no token verification method configured")
	}
}
