package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"decodr/internal/billing"
	"decodr/internal/core"
	"decodr/internal/types"
)

// maxWebhookBodySize caps a Stripe webhook payload (64 KB).
const maxWebhookBodySize = 64 * 1024

// WebhookVerifier checks a provider signature over the raw payload.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// EventApplier turns a verified billing event into a plan change.
type EventApplier interface {
	ApplyEvent(ctx context.Context, ev *billing.Event) error
}

// StripeWebhookHandler receives Stripe events. It is unauthenticated; the
// Stripe-Signature header is the only credential.
type StripeWebhookHandler struct {
	verifier WebhookVerifier
	applier  EventApplier
	secret   types.SecretString
	logger   *slog.Logger
}

func NewStripeWebhookHandler(v WebhookVerifier, a EventApplier, secret types.SecretString, l *slog.Logger) *StripeWebhookHandler {
	if l == nil {
		l = slog.Default()
	}
	return &StripeWebhookHandler{verifier: v, applier: a, secret: secret, logger: l}
}

func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes POST /api/webhooks/stripe.
//
// Signature and envelope failures are rejected. Once an event is verified
// and parsed the response is 200, except when the entitlement store is
// unavailable: that answers 503 so Stripe redelivers, and the plan write is
// ordered by event time so a redelivery after a newer event is a no-op.
// Other apply failures (unattributable events, unknown customers) are
// logged and acknowledged.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, "failed to read request body", err))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "missing Stripe-Signature header", nil))
		return
	}
	if err := h.verifier.Verify(payload, sigHeader, h.secret.Unmask()); err != nil {
		h.logger.WarnContext(ctx, "webhook signature verification failed",
			"error", err,
			"request_id", types.GetRequestID(ctx),
		)
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "webhook signature verification failed", err))
		return
	}

	event, err := billing.ParseEvent(payload)
	if err != nil {
		h.logger.ErrorContext(ctx, "invalid webhook event", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, "invalid webhook event JSON", err))
		return
	}

	h.logger.InfoContext(ctx, "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	if err := h.applier.ApplyEvent(ctx, event); err != nil {
		h.logger.ErrorContext(ctx, "webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
		if types.HasCode(err, types.ErrCodeStoreUnavailable) {
			core.Error(w, r, err)
			return
		}
	}

	core.JSON(w, r, http.StatusOK, map[string]bool{"received": true})
}
