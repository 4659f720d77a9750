package external

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"decodr/internal/types"
)

// SupabaseClient calls the Supabase Auth REST API. The anon key is used for
// token introspection and the service-role key for admin operations.
type SupabaseClient struct {
	base           *BaseClient
	baseURL        string
	anonKey        types.SecretString
	serviceRoleKey types.SecretString
	logger         *slog.Logger
}

func NewSupabaseClient(base *BaseClient, baseURL string, anonKey, serviceRoleKey types.SecretString, logger *slog.Logger) *SupabaseClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &SupabaseClient{
		base:           base,
		baseURL:        strings.TrimRight(baseURL, "/"),
		anonKey:        anonKey,
		serviceRoleKey: serviceRoleKey,
		logger:         logger,
	}
}

type supabaseUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// ResolveToken asks Supabase who owns an access token. A 401 or 403 from the
// provider means the token is invalid; anything else non-2xx is reported as
// the provider being unavailable.
func (c *SupabaseClient) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build identity request", err)
	}
	apiKey := c.anonKey
	if !apiKey.IsSet() {
		apiKey = c.serviceRoleKey
	}
	req.Header.Set("apikey", apiKey.Unmask())
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token rejected by identity provider", nil)
	case resp.StatusCode != http.StatusOK:
		return nil, types.NewAppErrorWithDetails(types.ErrCodeUpstreamUnavailable, "identity provider error", nil,
			map[string]any{"upstream_status": resp.StatusCode})
	}

	var user supabaseUser
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&user); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to decode identity response", err)
	}
	if user.ID == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "identity response carried no user id", nil)
	}
	return &types.Actor{ID: user.ID, Type: types.ActorTypeUser, Email: user.Email}, nil
}

// DeleteUser removes an auth user. A user that is already gone counts as
// deleted.
func (c *SupabaseClient) DeleteUser(ctx context.Context, userID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/auth/v1/admin/users/"+url.PathEscape(userID), nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build delete request", err)
	}
	req.Header.Set("apikey", c.serviceRoleKey.Unmask())
	req.Header.Set("Authorization", "Bearer "+c.serviceRoleKey.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.logger.WarnContext(ctx, "auth user already deleted", "user_id", userID)
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		c.logger.ErrorContext(ctx, "auth user deletion failed",
			"user_id", userID,
			"status", resp.StatusCode,
			"body", string(body),
			"request_id", types.GetRequestID(ctx),
		)
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamUnavailable, "failed to delete auth user", nil,
			map[string]any{"upstream_status": resp.StatusCode})
	}
	return nil
}
