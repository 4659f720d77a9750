// Package billing bridges Stripe subscriptions to profile plans.
//
// It is the only writer of Profile.plan. Quota counters are never touched:
// upgrading does not consume, downgrading does not replenish.
package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"decodr/internal/external"
	"decodr/internal/types"
)

// ProfileStore is the subset of the profile repository billing needs.
type ProfileStore interface {
	GetByStripeCustomerID(ctx context.Context, customerID string) (*types.Profile, error)
	SetPlan(ctx context.Context, id string, plan types.Plan, eventAt time.Time) (bool, error)
	SetStripeCustomerID(ctx context.Context, id, customerID string) error
}

// PaymentProvider is the subset of the Stripe client billing needs.
type PaymentProvider interface {
	FindOrCreateCustomer(ctx context.Context, userID, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, p external.CheckoutParams) (checkoutURL, sessionID string, err error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	ListActiveSubscriptions(ctx context.Context, customerID string) ([]string, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// TransitionRecorder counts applied plan changes.
type TransitionRecorder interface {
	RecordPlanTransition(ctx context.Context, plan types.Plan)
}

type nopTransitions struct{}

func (nopTransitions) RecordPlanTransition(context.Context, types.Plan) {}

// ServiceConfig holds the dependencies of a Service.
type ServiceConfig struct {
	Store     ProfileStore
	Payments  PaymentProvider
	PriceID   string
	AppOrigin string
	Recorder  TransitionRecorder
	Logger    *slog.Logger
}

// Service runs checkout, portal, webhook and cancellation flows.
type Service struct {
	store     ProfileStore
	payments  PaymentProvider
	priceID   string
	appOrigin string
	recorder  TransitionRecorder
	logger    *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = nopTransitions{}
	}
	return &Service{
		store:     cfg.Store,
		payments:  cfg.Payments,
		priceID:   cfg.PriceID,
		appOrigin: strings.TrimRight(cfg.AppOrigin, "/"),
		recorder:  recorder,
		logger:    logger,
	}
}

// EnsureCustomer returns the profile's Stripe customer, creating and linking
// one on first use.
func (s *Service) EnsureCustomer(ctx context.Context, p *types.Profile) (string, error) {
	if p.StripeCustomerID != nil && *p.StripeCustomerID != "" {
		return *p.StripeCustomerID, nil
	}
	customerID, err := s.payments.FindOrCreateCustomer(ctx, p.ID, p.Email)
	if err != nil {
		return "", err
	}
	if err := s.store.SetStripeCustomerID(ctx, p.ID, customerID); err != nil {
		return "", err
	}
	p.StripeCustomerID = &customerID
	return customerID, nil
}

// Checkout creates a premium subscription checkout and returns its URL.
func (s *Service) Checkout(ctx context.Context, p *types.Profile) (string, error) {
	customerID, err := s.EnsureCustomer(ctx, p)
	if err != nil {
		return "", err
	}
	checkoutURL, sessionID, err := s.payments.CreateCheckoutSession(ctx, external.CheckoutParams{
		CustomerID: customerID,
		UserID:     p.ID,
		PriceID:    s.priceID,
		SuccessURL: s.appOrigin + "/account?payment=success",
		CancelURL:  s.appOrigin + "/account?payment=cancel",
	})
	if err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "checkout session created",
		"user_id", p.ID,
		"session_id", sessionID,
		"request_id", types.GetRequestID(ctx),
	)
	return checkoutURL, nil
}

// Portal opens the billing portal. Profiles that never reached checkout have
// nothing to manage.
func (s *Service) Portal(ctx context.Context, p *types.Profile) (string, error) {
	if p.StripeCustomerID == nil || *p.StripeCustomerID == "" {
		return "", types.NewAppError(types.ErrCodeValidationNoSubscription, "no subscription found for this account", nil)
	}
	return s.payments.CreatePortalSession(ctx, *p.StripeCustomerID, s.appOrigin+"/account")
}

// CancelSubscriptions cancels every active subscription of the profile's
// customer. Each failure is logged and the rest are still attempted; the
// number cancelled is returned.
func (s *Service) CancelSubscriptions(ctx context.Context, p *types.Profile) int {
	if p.StripeCustomerID == nil || *p.StripeCustomerID == "" {
		return 0
	}
	ids, err := s.payments.ListActiveSubscriptions(ctx, *p.StripeCustomerID)
	if err != nil {
		s.logger.ErrorContext(ctx, "listing subscriptions failed",
			"user_id", p.ID,
			"customer_id", *p.StripeCustomerID,
			"error", err,
		)
		return 0
	}
	cancelled := 0
	for _, id := range ids {
		if err := s.payments.CancelSubscription(ctx, id); err != nil {
			s.logger.ErrorContext(ctx, "cancelling subscription failed",
				"user_id", p.ID,
				"subscription_id", id,
				"error", err,
			)
			continue
		}
		cancelled++
	}
	return cancelled
}

// ApplyEvent maps a verified Stripe event to a plan transition. Unhandled
// event types are ignored. A stale or replayed event is not an error.
func (s *Service) ApplyEvent(ctx context.Context, ev *Event) error {
	change, ok, err := ev.planChange()
	if err != nil {
		return err
	}
	if !ok {
		s.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_id", ev.ID,
			"event_type", ev.Type,
		)
		return nil
	}

	userID := change.userID
	if userID == "" {
		if change.customerID == "" {
			return fmt.Errorf("%s: event %s carries neither user id nor customer", ev.Type, ev.ID)
		}
		p, err := s.store.GetByStripeCustomerID(ctx, change.customerID)
		if err != nil {
			return fmt.Errorf("%s: resolving customer %s: %w", ev.Type, change.customerID, err)
		}
		userID = p.ID
	}

	applied, err := s.store.SetPlan(ctx, userID, change.plan, ev.CreatedAt())
	if err != nil {
		return err
	}
	if !applied {
		s.logger.InfoContext(ctx, "plan change not applied (stale event or unknown profile)",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"user_id", userID,
		)
		return nil
	}

	s.recorder.RecordPlanTransition(ctx, change.plan)
	s.logger.InfoContext(ctx, "plan updated",
		"event_id", ev.ID,
		"event_type", ev.Type,
		"user_id", userID,
		"plan", change.plan,
	)
	return nil
}
