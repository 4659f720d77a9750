package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"decodr/internal/core"
	"decodr/internal/types"
)

// AccountDeleter removes an account and everything attached to it.
type AccountDeleter interface {
	Delete(ctx context.Context, userID string) error
}

type AccountDeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type AccountHandler struct {
	accounts AccountDeleter
	logger   *slog.Logger
}

func NewAccountHandler(a AccountDeleter, l *slog.Logger) *AccountHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AccountHandler{accounts: a, logger: l}
}

func (h *AccountHandler) RegisterRoutes(r chi.Router, srv *core.Server) {
	r.With(srv.RequireAuth).Post("/account/delete", h.Delete)
}

// Delete handles POST /api/account/delete.
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := h.accounts.Delete(r.Context(), actor.ID); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "account deleted",
		"user_id", actor.ID,
		"request_id", types.GetRequestID(r.Context()),
	)
	core.JSON(w, r, http.StatusOK, AccountDeleteResponse{Success: true, Message: "Account deleted successfully."})
}
