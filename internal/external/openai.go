package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"decodr/internal/types"
)

// Sampling parameters per call type.
const (
	analyzeTemperature = 0.2
	analyzeMaxTokens   = 700
	chatTemperature    = 0.7
	chatMaxTokens      = 300

	// ChatHistoryLimit is the number of prior turns forwarded with a chat message.
	ChatHistoryLimit = 10
)

// jsonObjectPattern grabs the outermost {...} block so stray prose around the
// model's JSON does not break decoding.
var jsonObjectPattern = regexp.MustCompile(`({[\s\S]*})`)

// OpenAIClient calls the chat completions API.
type OpenAIClient struct {
	base    *BaseClient
	apiKey  types.SecretString
	baseURL string
	model   string
	logger  *slog.Logger
}

// NewOpenAIClient creates an OpenAI client. baseURL has no trailing slash,
// e.g. https://api.openai.com/v1.
func NewOpenAIClient(base *BaseClient, apiKey types.SecretString, baseURL, model string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{
		base:    base,
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		logger:  logger,
	}
}

type chatCompletionRequest struct {
	Model       string              `json:"model"`
	Messages    []types.ChatMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Analyze asks the model for a structured breakdown of conversation. Output
// that is not a JSON object carrying all three sections is rejected as a
// whole; no partial analysis is ever returned.
func (c *OpenAIClient) Analyze(ctx context.Context, conversation string) (*types.Analysis, error) {
	raw, err := c.complete(ctx, chatCompletionRequest{
		Model: c.model,
		Messages: []types.ChatMessage{
			{Role: types.ChatRoleSystem, Content: analyzeSystemPrompt},
			{Role: types.ChatRoleUser, Content: analyzeUserPrompt + conversation},
		},
		Temperature: analyzeTemperature,
		MaxTokens:   analyzeMaxTokens,
	})
	if err != nil {
		return nil, err
	}

	analysis, err := parseAnalysis(raw)
	if err != nil {
		c.logger.ErrorContext(ctx, "analysis output rejected",
			"error", err,
			"output_len", len(raw),
			"request_id", types.GetRequestID(ctx),
		)
		return nil, types.NewAppError(types.ErrCodeUpstreamInvalidOutput, "the analysis service returned an unexpected response", err)
	}
	return analysis, nil
}

func parseAnalysis(raw string) (*types.Analysis, error) {
	candidate := raw
	if m := jsonObjectPattern.FindStringSubmatch(raw); m != nil {
		candidate = m[1]
	}

	var a types.Analysis
	if err := json.Unmarshal([]byte(candidate), &a); err != nil {
		return nil, fmt.Errorf("decoding model JSON: %w", err)
	}
	switch {
	case len(a.EmotionBreakdown) == 0:
		return nil, fmt.Errorf("missing emotion_breakdown")
	case strings.TrimSpace(a.HiddenMeaning) == "":
		return nil, fmt.Errorf("missing hidden_meaning")
	case len(a.RecommendedReplies) == 0:
		return nil, fmt.Errorf("missing recommended_replies")
	}
	return &a, nil
}

// Chat answers a product question. Only the last ChatHistoryLimit turns of
// history are sent.
func (c *OpenAIClient) Chat(ctx context.Context, systemPrompt string, history []types.ChatMessage, message string) (string, error) {
	if len(history) > ChatHistoryLimit {
		history = history[len(history)-ChatHistoryLimit:]
	}
	msgs := make([]types.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, types.ChatMessage{Role: types.ChatRoleSystem, Content: systemPrompt})
	msgs = append(msgs, history...)
	msgs = append(msgs, types.ChatMessage{Role: types.ChatRoleUser, Content: message})

	reply, err := c.complete(ctx, chatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
	})
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", types.NewAppError(types.ErrCodeUpstreamInvalidOutput, "the chat service returned an empty reply", nil)
	}
	return reply, nil
}

func (c *OpenAIClient) complete(ctx context.Context, body chatCompletionRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode completion request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build completion request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to read completion response", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr openAIErrorResponse
		_ = json.Unmarshal(respBody, &apiErr)
		c.logger.ErrorContext(ctx, "openai request failed",
			"status", resp.StatusCode,
			"error_type", apiErr.Error.Type,
			"error_message", apiErr.Error.Message,
			"request_id", types.GetRequestID(ctx),
		)
		return "", types.NewAppErrorWithDetails(types.ErrCodeUpstreamUnavailable,
			"the analysis service is unavailable", nil,
			map[string]any{"upstream_status": resp.StatusCode},
		)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamInvalidOutput, "failed to decode completion response", err)
	}
	if len(completion.Choices) == 0 {
		return "", types.NewAppError(types.ErrCodeUpstreamInvalidOutput, "completion returned no choices", nil)
	}
	return completion.Choices[0].Message.Content, nil
}
