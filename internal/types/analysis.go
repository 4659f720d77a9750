package types

// Analysis is the structured result of analyzing a pasted conversation.
type Analysis struct {
	EmotionBreakdown   map[string]string `json:"emotion_breakdown"`
	HiddenMeaning      string            `json:"hidden_meaning"`
	RecommendedReplies map[string]string `json:"recommended_replies"`
}

// Reply keys the analysis prompt asks the model to fill.
const (
	ReplyCalm       = "calm_reply"
	ReplyConfident  = "confident_reply"
	ReplyBoundaries = "boundaries_reply"
	ReplyFlirty     = "flirty_reply"
)

// ChatRole is the speaker of one chat turn.
type ChatRole string

const (
	ChatRoleSystem    ChatRole = "system"
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatMessage is one turn of a follow-up chat conversation.
type ChatMessage struct {
	Role    ChatRole `json:"role" validate:"required,oneof=user assistant"`
	Content string   `json:"content" validate:"required,max=8000"`
}
