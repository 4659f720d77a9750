package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"decodr/internal/core"
	"decodr/internal/types"
)

// BillingService creates Stripe checkout and portal sessions for a profile.
type BillingService interface {
	Checkout(ctx context.Context, p *types.Profile) (string, error)
	Portal(ctx context.Context, p *types.Profile) (string, error)
}

// SessionURLResponse is returned by both checkout and portal.
type SessionURLResponse struct {
	URL string `json:"url"`
}

// BillingHandler exposes the subscription flows.
type BillingHandler struct {
	profiles ProfileProvider
	billing  BillingService
	logger   *slog.Logger
}

func NewBillingHandler(p ProfileProvider, b BillingService, l *slog.Logger) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}
	return &BillingHandler{profiles: p, billing: b, logger: l}
}

func (h *BillingHandler) RegisterRoutes(r chi.Router, srv *core.Server) {
	r.Group(func(r chi.Router) {
		r.Use(srv.RequireAuth)
		r.Post("/checkout", h.Checkout)
		r.Post("/portal", h.Portal)
	})
}

// Checkout handles POST /api/checkout.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadProfile(w, r)
	if !ok {
		return
	}

	url, err := h.billing.Checkout(r.Context(), p)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "checkout session failed",
			"user_id", p.ID,
			"error", err,
			"request_id", types.GetRequestID(r.Context()),
		)
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, SessionURLResponse{URL: url})
}

// Portal handles POST /api/portal.
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadProfile(w, r)
	if !ok {
		return
	}

	url, err := h.billing.Portal(r.Context(), p)
	if err != nil {
		if !types.HasCode(err, types.ErrCodeValidationNoSubscription) {
			h.logger.ErrorContext(r.Context(), "portal session failed",
				"user_id", p.ID,
				"error", err,
				"request_id", types.GetRequestID(r.Context()),
			)
		}
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, SessionURLResponse{URL: url})
}

// loadProfile resolves the caller's profile, backfilling the email from the
// token so a new Stripe customer is created with it.
func (h *BillingHandler) loadProfile(w http.ResponseWriter, r *http.Request) (*types.Profile, bool) {
	actor, ok := requireActor(w, r)
	if !ok {
		return nil, false
	}
	p, err := h.profiles.GetOrCreateProfile(r.Context(), actor)
	if err != nil {
		core.Error(w, r, err)
		return nil, false
	}
	if p.Email == "" {
		p.Email = actor.Email
	}
	return p, true
}
