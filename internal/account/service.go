// Package account implements account deletion.
package account

import (
	"context"
	"log/slog"

	"decodr/internal/types"
)

type ProfileStore interface {
	GetByID(ctx context.Context, id string) (*types.Profile, error)
	Delete(ctx context.Context, id string) error
}

type SubscriptionCanceller interface {
	CancelSubscriptions(ctx context.Context, p *types.Profile) int
}

type IdentityAdmin interface {
	DeleteUser(ctx context.Context, userID string) error
}

// Service deletes an account across billing, the profile store and the
// identity provider.
type Service struct {
	profiles ProfileStore
	billing  SubscriptionCanceller
	identity IdentityAdmin
	logger   *slog.Logger
}

func NewService(profiles ProfileStore, billing SubscriptionCanceller, identity IdentityAdmin, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{profiles: profiles, billing: billing, identity: identity, logger: logger}
}

// Delete cancels subscriptions, removes the profile and deletes the auth
// user, in that order. Only the last step can fail the operation: an
// account whose auth user still exists is not deleted, while a leftover
// subscription or profile row is logged for manual cleanup.
func (s *Service) Delete(ctx context.Context, userID string) error {
	log := s.logger.With("user_id", userID, "request_id", types.GetRequestID(ctx))

	profile, err := s.profiles.GetByID(ctx, userID)
	switch {
	case err == nil:
		if n := s.billing.CancelSubscriptions(ctx, profile); n > 0 {
			log.InfoContext(ctx, "subscriptions cancelled", "count", n)
		}
	case types.HasCode(err, types.ErrCodeNotFoundProfile):
	default:
		log.ErrorContext(ctx, "loading profile for deletion failed", "error", err)
	}

	if err := s.profiles.Delete(ctx, userID); err != nil {
		log.ErrorContext(ctx, "deleting profile failed", "error", err)
	}

	if err := s.identity.DeleteUser(ctx, userID); err != nil {
		log.ErrorContext(ctx, "deleting auth user failed", "error", err)
		if types.HasCode(err, types.ErrCodeUpstreamUnavailable) {
			return err
		}
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to delete account", err)
	}

	log.InfoContext(ctx, "account deleted")
	return nil
}
