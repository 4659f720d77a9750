// Package metering gates analyze requests behind the caller's
// entitlement and consumes free-tier quota.
//
// State per account is derived from the stored profile:
//
//	FREE_ACTIVE    plan=free, free_uses_remaining > 0
//	FREE_EXHAUSTED plan=free, free_uses_remaining <= 0 or unset
//	PREMIUM        plan=premium
//
// The only quota mutation is the store's conditional decrement, so concurrent
// requests cannot overspend. The decrement commits before the caller runs the
// analysis, and a later upstream failure does not give the unit back.
package metering

import (
	"context"
	"errors"
	"log/slog"

	"decodr/internal/types"
)

// ProfileStore is the Entitlement Store surface the engine needs.
// It is implemented by db.ProfileRepository.
type ProfileStore interface {
	GetByID(ctx context.Context, id string) (*types.Profile, error)
	InsertDefault(ctx context.Context, id, email string, grant int) (bool, error)
	ConsumeFreeUse(ctx context.Context, id string) (remaining int, ok bool, err error)
}

// TokenResolver maps a bearer credential to an account.
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (*types.Actor, error)
}

// DecisionRecorder receives one call per metering decision.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, outcome types.DecisionOutcome)
}

type nopRecorder struct{}

func (nopRecorder) RecordDecision(context.Context, types.DecisionOutcome) {}

// Engine is the Usage Metering Engine. It holds no per-account state.
type Engine struct {
	store    ProfileStore
	resolver TokenResolver
	grant    int
	recorder DecisionRecorder
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithResolver sets the resolver used by AuthorizeAndConsume.
func WithResolver(r TokenResolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithRecorder sets the decision metrics sink.
func WithRecorder(r DecisionRecorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// NewEngine builds an engine that grants grant free uses to new profiles.
func NewEngine(store ProfileStore, grant int, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:    store,
		grant:    grant,
		recorder: nopRecorder{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Grant returns the free-use grant written into new profiles.
func (e *Engine) Grant() int {
	return e.grant
}

// GetOrCreateProfile returns the caller's profile, creating it with the
// default grant on first use. Concurrent first calls converge on a single row:
// the insert is conflict-tolerant and every caller re-reads afterwards.
func (e *Engine) GetOrCreateProfile(ctx context.Context, actor types.Actor) (*types.Profile, error) {
	p, err := e.store.GetByID(ctx, actor.ID)
	if err == nil {
		return p, nil
	}
	if !types.HasCode(err, types.ErrCodeNotFoundProfile) {
		return nil, asStoreError(err)
	}

	inserted, err := e.store.InsertDefault(ctx, actor.ID, actor.Email, e.grant)
	if err != nil {
		return nil, asStoreError(err)
	}
	if inserted {
		e.logger.InfoContext(ctx, "profile created",
			"user_id", actor.ID,
			"free_uses_remaining", e.grant,
			"request_id", types.GetRequestID(ctx),
		)
	}

	p, err = e.store.GetByID(ctx, actor.ID)
	if err != nil {
		return nil, asStoreError(err)
	}
	return p, nil
}

// AuthorizeAndConsume decides whether a request carrying credential may run.
// An empty or unresolvable credential, or an unreachable identity provider,
// puts the request in anonymous mode, which is always allowed. A user actor
// already resolved into ctx by middleware is used without resolving again.
func (e *Engine) AuthorizeAndConsume(ctx context.Context, credential string) (types.Decision, error) {
	if resolved, ok := types.GetActor(ctx); ok && credential != "" && !resolved.IsAnonymous() {
		return e.Consume(ctx, resolved)
	}

	actor := types.AnonymousActor
	if credential != "" && e.resolver != nil {
		resolved, err := e.resolver.ResolveToken(ctx, credential)
		if err != nil {
			e.logger.DebugContext(ctx, "credential not resolved, metering as anonymous",
				"error", err,
				"request_id", types.GetRequestID(ctx),
			)
		} else if resolved != nil {
			actor = *resolved
		}
	}
	return e.Consume(ctx, actor)
}

// Consume runs the entitlement decision for an already-resolved actor.
//
// A denied decision is returned with a nil error. A non-nil error is returned
// only when the Entitlement Store cannot be consulted, in which case the
// decision is a denial: authenticated use is never granted unverified.
func (e *Engine) Consume(ctx context.Context, actor types.Actor) (types.Decision, error) {
	if actor.IsAnonymous() {
		return e.decide(ctx, types.Decision{Allowed: true, Outcome: types.OutcomeAllowAnonymous, Actor: actor}), nil
	}

	p, err := e.GetOrCreateProfile(ctx, actor)
	if err != nil {
		e.logger.ErrorContext(ctx, "entitlement store unavailable, denying metered request",
			"user_id", actor.ID,
			"error", err,
			"request_id", types.GetRequestID(ctx),
		)
		return e.decide(ctx, types.Decision{Outcome: types.OutcomeDenyStoreFailure, Actor: actor}), err
	}

	switch p.State() {
	case types.StatePremium:
		return e.decide(ctx, types.Decision{Allowed: true, Outcome: types.OutcomeAllowPremium, Actor: actor, Plan: p.Plan}), nil
	case types.StateFreeExhausted:
		return e.decide(ctx, e.denyTrial(actor)), nil
	}

	remaining, ok, err := e.store.ConsumeFreeUse(ctx, actor.ID)
	if err != nil {
		err = asStoreError(err)
		e.logger.ErrorContext(ctx, "free use decrement failed",
			"user_id", actor.ID,
			"error", err,
			"request_id", types.GetRequestID(ctx),
		)
		return e.decide(ctx, types.Decision{Outcome: types.OutcomeDenyStoreFailure, Actor: actor, Plan: p.Plan}), err
	}
	if !ok {
		// Lost the race for the last unit, or a concurrent writer changed the row.
		return e.decide(ctx, e.denyTrial(actor)), nil
	}

	return e.decide(ctx, types.Decision{
		Allowed:   true,
		Outcome:   types.OutcomeAllowFree,
		Actor:     actor,
		Plan:      types.PlanFree,
		Remaining: types.IntPtr(remaining),
	}), nil
}

func (e *Engine) denyTrial(actor types.Actor) types.Decision {
	return types.Decision{
		Outcome:   types.OutcomeDenyTrialLimit,
		Actor:     actor,
		Plan:      types.PlanFree,
		Remaining: types.IntPtr(0),
	}
}

func (e *Engine) decide(ctx context.Context, d types.Decision) types.Decision {
	e.recorder.RecordDecision(ctx, d.Outcome)
	return d
}

// DenialError converts a denied decision into the error surfaced to the
// client. It returns nil for allowed decisions.
func DenialError(d types.Decision) error {
	if d.Allowed {
		return nil
	}
	if d.Outcome == types.OutcomeDenyStoreFailure {
		return types.NewAppError(types.ErrCodeStoreUnavailable, "usage could not be verified, please retry", nil)
	}
	return types.NewAppErrorWithDetails(types.ErrCodeTrialLimitReached,
		"You've used all your free analyses. Upgrade to premium for unlimited access.", nil,
		map[string]any{"plan": string(types.PlanFree), "free_uses_remaining": 0},
	)
}

func asStoreError(err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code == types.ErrCodeStoreUnavailable {
		return err
	}
	return types.NewAppError(types.ErrCodeStoreUnavailable, "entitlement store unavailable", err)
}
