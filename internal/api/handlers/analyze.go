// Package handlers contains the HTTP handler implementations for the decodr
// API. Each handler declares the narrow service interfaces it depends on and
// mounts itself through RegisterRoutes.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"decodr/internal/core"
	"decodr/internal/metering"
	"decodr/internal/types"
)

// maxAnalyzeInput bounds the pasted conversation in characters.
const maxAnalyzeInput = 20000

// Metering decides whether a request carrying a bearer credential may run.
type Metering interface {
	AuthorizeAndConsume(ctx context.Context, credential string) (types.Decision, error)
}

// Analyzer runs one conversation analysis against the model.
type Analyzer interface {
	Analyze(ctx context.Context, conversation string) (*types.Analysis, error)
}

// AnalyzeRequest is the body of POST /api/analyze.
type AnalyzeRequest struct {
	Input string `json:"input" validate:"required,notblank,max=20000"`
}

// AnalyzeHandler serves the metered analysis endpoint.
type AnalyzeHandler struct {
	metering  Metering
	analyzer  Analyzer
	validator *core.Validator
	logger    *slog.Logger
}

func NewAnalyzeHandler(m Metering, a Analyzer, v *core.Validator, l *slog.Logger) *AnalyzeHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AnalyzeHandler{metering: m, analyzer: a, validator: v, logger: l}
}

// RegisterRoutes mounts POST /analyze. The route is anonymous-capable:
// OptionalAuth resolves the caller for the rate-limit key and an unusable
// token degrades to anonymous instead of failing.
func (h *AnalyzeHandler) RegisterRoutes(r chi.Router, srv *core.Server) {
	r.With(srv.OptionalAuth, srv.RateLimit).Post("/analyze", h.Analyze)
}

// Analyze handles POST /api/analyze.
//
// Input is validated before the metering decision so malformed requests
// never spend quota. Once a unit is consumed it stays consumed, even when
// the model call fails afterwards.
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AnalyzeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	decision, err := h.metering.AuthorizeAndConsume(ctx, core.BearerToken(r))
	if err != nil || !decision.Allowed {
		h.logger.InfoContext(ctx, "analysis denied",
			"user_id", decision.Actor.ID,
			"outcome", decision.Outcome,
			"request_id", types.GetRequestID(ctx),
		)
		core.Error(w, r, metering.DenialError(decision))
		return
	}

	analysis, err := h.analyzer.Analyze(ctx, req.Input)
	if err != nil {
		h.logger.ErrorContext(ctx, "analysis failed",
			"user_id", decision.Actor.ID,
			"outcome", decision.Outcome,
			"error", err,
			"request_id", types.GetRequestID(ctx),
		)
		core.Error(w, r, err)
		return
	}

	if decision.Remaining != nil {
		w.Header().Set("X-Free-Uses-Remaining", strconv.Itoa(*decision.Remaining))
	}
	core.JSON(w, r, http.StatusOK, analysis)
}
