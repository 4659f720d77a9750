package handlers

import (
	"github.com/go-chi/chi/v5"

	"decodr/internal/core"
)

// Set groups every handler mounted under /api. Nil members are skipped.
type Set struct {
	Analyze *AnalyzeHandler
	Chat    *ChatHandler
	Profile *ProfileHandler
	Billing *BillingHandler
	Account *AccountHandler
	Webhook *StripeWebhookHandler
}

// Registrar returns the RouteRegistrar that mounts the set on srv.
func (s Set) Registrar(srv *core.Server) core.RouteRegistrar {
	return func(r chi.Router) {
		if s.Analyze != nil {
			s.Analyze.RegisterRoutes(r, srv)
		}
		if s.Chat != nil {
			s.Chat.RegisterRoutes(r, srv)
		}
		if s.Profile != nil {
			s.Profile.RegisterRoutes(r, srv)
		}
		if s.Billing != nil {
			s.Billing.RegisterRoutes(r, srv)
		}
		if s.Account != nil {
			s.Account.RegisterRoutes(r, srv)
		}
		if s.Webhook != nil {
			s.Webhook.RegisterRoutes(r)
		}
	}
}
