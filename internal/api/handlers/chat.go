package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"decodr/internal/core"
	"decodr/internal/types"
)

// Chatter answers one assistant turn.
type Chatter interface {
	Chat(ctx context.Context, systemPrompt string, history []types.ChatMessage, message string) (string, error)
}

// ChatRequest is the body of POST /api/chat. Field names follow the web
// client.
type ChatRequest struct {
	Message             string              `json:"message" validate:"required,notblank,max=4000"`
	ConversationHistory []types.ChatMessage `json:"conversationHistory" validate:"max=100,dive"`
}

type ChatResponse struct {
	Reply string `json:"reply"`
}

// ChatHandler serves the product assistant. It is not metered.
type ChatHandler struct {
	chatter      Chatter
	systemPrompt string
	validator    *core.Validator
	logger       *slog.Logger
}

// NewChatHandler builds a handler whose system prompt is rendered once from
// the configured tier sizes.
func NewChatHandler(c Chatter, systemPrompt string, v *core.Validator, l *slog.Logger) *ChatHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ChatHandler{chatter: c, systemPrompt: systemPrompt, validator: v, logger: l}
}

func (h *ChatHandler) RegisterRoutes(r chi.Router, srv *core.Server) {
	r.With(srv.OptionalAuth, srv.RateLimit).Post("/chat", h.Chat)
}

// Chat handles POST /api/chat.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	reply, err := h.chatter.Chat(r.Context(), h.systemPrompt, req.ConversationHistory, req.Message)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "chat completion failed",
			"error", err,
			"request_id", types.GetRequestID(r.Context()),
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, ChatResponse{Reply: reply})
}
