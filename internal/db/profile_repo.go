package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"decodr/internal/types"
)

// ProfileRepository provides data access for the profiles table.
//
// free_uses_remaining is only ever written by ConsumeFreeUse (conditional
// decrement) and by the column default on insert. plan is only written by
// SetPlan.
type ProfileRepository struct {
	db DBTX
}

func NewProfileRepository(db DBTX) *ProfileRepository {
	return &ProfileRepository{db: db}
}

const profileColumns = `id, email, plan, free_uses_remaining, stripe_customer_id, billing_event_at, created_at`

func scanProfile(row pgx.Row) (*types.Profile, error) {
	var p types.Profile
	var email *string
	err := row.Scan(
		&p.ID,
		&email,
		&p.Plan,
		&p.FreeUsesRemaining,
		&p.StripeCustomerID,
		&p.BillingEventAt,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if email != nil {
		p.Email = *email
	}
	return &p, nil
}

func storeError(msg string, err error) error {
	return types.NewAppError(types.ErrCodeStoreUnavailable, msg, err)
}

// GetByID returns the profile for an account, or not_found_profile.
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*types.Profile, error) {
	p, err := scanProfile(r.db.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundProfile, "profile not found", err)
	}
	if err != nil {
		return nil, storeError("failed to read profile", err)
	}
	return p, nil
}

// GetByStripeCustomerID resolves the profile linked to a Stripe customer.
func (r *ProfileRepository) GetByStripeCustomerID(ctx context.Context, customerID string) (*types.Profile, error) {
	p, err := scanProfile(r.db.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE stripe_customer_id = $1`, customerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundProfile, "no profile for stripe customer", err)
	}
	if err != nil {
		return nil, storeError("failed to read profile by customer", err)
	}
	return p, nil
}

// InsertDefault creates a free profile with the given grant. A concurrent
// insert for the same id is absorbed by ON CONFLICT; inserted reports
// whether this call created the row.
func (r *ProfileRepository) InsertDefault(ctx context.Context, id, email string, grant int) (bool, error) {
	var emailArg *string
	if email != "" {
		emailArg = &email
	}
	tag, err := r.db.Exec(ctx,
		`INSERT INTO profiles (id, email, plan, free_uses_remaining)
		 VALUES ($1, $2, 'free', $3)
		 ON CONFLICT (id) DO NOTHING`,
		id, emailArg, grant,
	)
	if err != nil {
		return false, storeError("failed to create profile", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ConsumeFreeUse atomically takes one unit of free quota. ok is false when
// the row had no quota left (or does not exist); the counter is never driven
// below zero.
func (r *ProfileRepository) ConsumeFreeUse(ctx context.Context, id string) (remaining int, ok bool, err error) {
	err = r.db.QueryRow(ctx,
		`UPDATE profiles
		 SET free_uses_remaining = free_uses_remaining - 1
		 WHERE id = $1
		   AND free_uses_remaining > 0
		 RETURNING free_uses_remaining`,
		id,
	).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storeError("failed to consume free use", err)
	}
	return remaining, true, nil
}

// SetPlan applies a billing-originated plan transition. Events older than the
// last applied one are ignored (applied=false), which makes replays and
// out-of-order deliveries harmless. free_uses_remaining is untouched.
func (r *ProfileRepository) SetPlan(ctx context.Context, id string, plan types.Plan, eventAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE profiles
		 SET plan = $2,
		     billing_event_at = $3
		 WHERE id = $1
		   AND (billing_event_at IS NULL OR billing_event_at <= $3)`,
		id, plan, eventAt,
	)
	if err != nil {
		return false, storeError("failed to set plan", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SetStripeCustomerID links a Stripe customer to the profile.
func (r *ProfileRepository) SetStripeCustomerID(ctx context.Context, id, customerID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE profiles SET stripe_customer_id = $2 WHERE id = $1`,
		id, customerID,
	)
	if err != nil {
		return storeError("failed to save stripe customer", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundProfile, "profile not found", nil)
	}
	return nil
}

// Delete removes the profile. Deleting a missing profile is not an error.
func (r *ProfileRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM profiles WHERE id = $1`, id); err != nil {
		return storeError("failed to delete profile", err)
	}
	return nil
}
