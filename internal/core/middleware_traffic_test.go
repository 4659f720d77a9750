package core

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"decodr/internal/types"
)

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimit_NilStorePassesThrough(t *testing.T) {
	srv := newTestServer(t)
	var called bool
	rec := httptest.NewRecorder()
	srv.RateLimit(okHandler(&called)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analyze", nil))
	if !called {
		t.Fatal("next handler not called")
	}
}

func TestRateLimit_KeysByIPForAnonymous(t *testing.T) {
	srv := newTestServer(t)
	store := &MockRateLimitStore{Result: RateLimitResult{Allowed: true, Remaining: 4, ResetAt: time.Now().Add(time.Minute)}}
	srv.RateLimitStore = store

	var called bool
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	rec := httptest.NewRecorder()
	srv.RateLimit(okHandler(&called)).ServeHTTP(rec, req)

	if !called {
		t.Fatal("next handler not called")
	}
	if len(store.Calls) != 1 || store.Calls[0].Key != "ip:203.0.113.7" {
		t.Fatalf("calls = %+v", store.Calls)
	}
	if store.Calls[0].Limit != 5 || store.Calls[0].Window != time.Minute {
		t.Errorf("limit/window = %d/%s", store.Calls[0].Limit, store.Calls[0].Window)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "5" || rec.Header().Get("X-RateLimit-Remaining") != "4" {
		t.Errorf("headers = %v", rec.Header())
	}
}

func TestRateLimit_KeysByUser(t *testing.T) {
	srv := newTestServer(t)
	store := &MockRateLimitStore{Result: RateLimitResult{Allowed: true, Remaining: 1, ResetAt: time.Now()}}
	srv.RateLimitStore = store

	var called bool
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req = req.WithContext(types.WithActor(req.Context(), types.Actor{ID: "user-9", Type: types.ActorTypeUser}))
	srv.RateLimit(okHandler(&called)).ServeHTTP(httptest.NewRecorder(), req)

	if store.Calls[0].Key != "user:user-9" {
		t.Errorf("key = %q", store.Calls[0].Key)
	}
}

func TestRateLimit_Exceeded(t *testing.T) {
	srv := newTestServer(t)
	srv.RateLimitStore = &MockRateLimitStore{Result: RateLimitResult{Allowed: false, Remaining: 0, ResetAt: time.Now().Add(30 * time.Second)}}

	var called bool
	rec := httptest.NewRecorder()
	srv.RateLimit(okHandler(&called)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analyze", nil))

	if called {
		t.Fatal("next handler should not run")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
	if code := decodeError(t, rec).Code; code != string(types.ErrCodeRateLimit) {
		t.Errorf("code = %s", code)
	}
}

func TestRateLimit_StoreErrorFailsOpen(t *testing.T) {
	srv := newTestServer(t)
	srv.RateLimitStore = &MockRateLimitStore{
		IncrementAndCheckFunc: func(context.Context, string, int, time.Duration) (RateLimitResult, error) {
			return RateLimitResult{}, errors.New("redis down")
		},
	}
	var called bool
	srv.RateLimit(okHandler(&called)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/analyze", nil))
	if !called {
		t.Fatal("store error should fail open")
	}
}

func TestRateLimit_DisabledByConfig(t *testing.T) {
	srv := newTestServer(t)
	srv.Config.RateLimit.Enabled = false
	store := &MockRateLimitStore{Result: RateLimitResult{Allowed: false}}
	srv.RateLimitStore = store

	var called bool
	srv.RateLimit(okHandler(&called)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/analyze", nil))
	if !called || len(store.Calls) != 0 {
		t.Fatalf("called=%v calls=%d", called, len(store.Calls))
	}
}
