package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"decodr/internal/config"
	"decodr/internal/core"
	"decodr/internal/types"
)

var (
	testUserID = "3f1c9a5e-2b7d-4c8e-9a61-0d4e5f6a7b8c"
	testActor  = &types.Actor{ID: testUserID, Type: types.ActorTypeUser, Email: "ana@example.com"}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newServer builds a fully mounted server around set. auth may be nil for
// routes that never consult it.
func newServer(t *testing.T, set Set, auth core.Authenticator, limiter core.RateLimitStore) *core.Server {
	t.Helper()
	cfg := &config.Config{
		Environment: "local",
		Server:      config.ServerConfig{RequestTimeout: 5 * time.Second},
		RateLimit:   config.RateLimitConfig{Enabled: true, PerMinute: 2},
		Security:    config.SecurityConfig{CorsAllowedOrigins: []string{"*"}},
	}
	srv, err := core.NewServer(cfg, discardLogger())
	require.NoError(t, err)
	srv.Authenticator = auth
	srv.RateLimitStore = limiter
	srv.APIRouteRegistrars = append(srv.APIRouteRegistrars, set.Registrar(srv))
	srv.MountRoutes()
	return srv
}

func do(t *testing.T, srv *core.Server, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) core.ErrorDetail {
	t.Helper()
	var resp core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), "body: %s", rec.Body.String())
	return resp.Error
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	require.Equal(t, status, rec.Code, "body: %s", rec.Body.String())
}
