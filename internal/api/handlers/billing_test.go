package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"decodr/internal/core"
	"decodr/internal/types"
)

type mockBilling struct{ mock.Mock }

func (m *mockBilling) Checkout(ctx context.Context, p *types.Profile) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func (m *mockBilling) Portal(ctx context.Context, p *types.Profile) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func billingServer(t *testing.T, profiles *mockProfiles, b *mockBilling) *core.Server {
	h := NewBillingHandler(profiles, b, discardLogger())
	return newServer(t, Set{Billing: h}, &core.MockAuthenticator{Actor: testActor}, nil)
}

func TestCheckout_ReturnsSessionURL(t *testing.T) {
	profiles := &mockProfiles{}
	b := &mockBilling{}
	profiles.On("GetOrCreateProfile", mock.Anything, *testActor).Return(freeProfile(0), nil)
	b.On("Checkout", mock.Anything, mock.MatchedBy(func(p *types.Profile) bool {
		return p.ID == testUserID && p.Email == "ana@example.com"
	})).Return("https://checkout.stripe.com/c/pay/cs_test_1", nil)

	rec := do(t, billingServer(t, profiles, b), http.MethodPost, "/api/checkout", nil, bearer("tok"))

	requireStatus(t, rec, http.StatusOK)
	var resp SessionURLResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", resp.URL)
	b.AssertExpectations(t)
}

func TestCheckout_StripeFailure(t *testing.T) {
	profiles := &mockProfiles{}
	b := &mockBilling{}
	profiles.On("GetOrCreateProfile", mock.Anything, *testActor).Return(freeProfile(3), nil)
	b.On("Checkout", mock.Anything, mock.Anything).
		Return("", types.NewAppError(types.ErrCodeUpstreamStripe, "payment provider error", nil))

	rec := do(t, billingServer(t, profiles, b), http.MethodPost, "/api/checkout", nil, bearer("tok"))

	requireStatus(t, rec, http.StatusBadGateway)
	assert.Equal(t, string(types.ErrCodeUpstreamStripe), errorBody(t, rec).Code)
}

func TestPortal_NoSubscription(t *testing.T) {
	profiles := &mockProfiles{}
	b := &mockBilling{}
	profiles.On("GetOrCreateProfile", mock.Anything, *testActor).Return(freeProfile(3), nil)
	b.On("Portal", mock.Anything, mock.Anything).
		Return("", types.NewAppError(types.ErrCodeValidationNoSubscription, "no subscription found for this account", nil))

	rec := do(t, billingServer(t, profiles, b), http.MethodPost, "/api/portal", nil, bearer("tok"))

	requireStatus(t, rec, http.StatusBadRequest)
	assert.Equal(t, string(types.ErrCodeValidationNoSubscription), errorBody(t, rec).Code)
}

func TestPortal_ReturnsSessionURL(t *testing.T) {
	profiles := &mockProfiles{}
	b := &mockBilling{}
	customer := "cus_123"
	p := freeProfile(0)
	p.Plan = types.PlanPremium
	p.StripeCustomerID = &customer
	profiles.On("GetOrCreateProfile", mock.Anything, *testActor).Return(p, nil)
	b.On("Portal", mock.Anything, p).Return("https://billing.stripe.com/p/session_1", nil)

	rec := do(t, billingServer(t, profiles, b), http.MethodPost, "/api/portal", nil, bearer("tok"))

	requireStatus(t, rec, http.StatusOK)
	assert.JSONEq(t, `{"url":"https://billing.stripe.com/p/session_1"}`, rec.Body.String())
}

func TestBilling_RequiresAuth(t *testing.T) {
	for _, path := range []string{"/api/checkout", "/api/portal"} {
		rec := do(t, billingServer(t, &mockProfiles{}, &mockBilling{}), http.MethodPost, path, nil, nil)
		requireStatus(t, rec, http.StatusUnauthorized)
	}
}
