package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"decodr/internal/core"
	"decodr/internal/types"
)

// ProfileProvider returns the caller's profile, creating it on first use.
type ProfileProvider interface {
	GetOrCreateProfile(ctx context.Context, actor types.Actor) (*types.Profile, error)
}

type ProfileHandler struct {
	profiles ProfileProvider
}

func NewProfileHandler(p ProfileProvider) *ProfileHandler {
	return &ProfileHandler{profiles: p}
}

func (h *ProfileHandler) RegisterRoutes(r chi.Router, srv *core.Server) {
	r.With(srv.RequireAuth).Get("/profile", h.Get)
}

// Get handles GET /api/profile.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	p, err := h.profiles.GetOrCreateProfile(r.Context(), actor)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if p.Email == "" {
		p.Email = actor.Email
	}
	core.JSON(w, r, http.StatusOK, p)
}

// requireActor fetches the authenticated actor placed by RequireAuth.
func requireActor(w http.ResponseWriter, r *http.Request) (types.Actor, bool) {
	actor, ok := types.GetActor(r.Context())
	if !ok || actor.IsAnonymous() {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Bearer token is required", nil))
		return types.Actor{}, false
	}
	return actor, true
}
