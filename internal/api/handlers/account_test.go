package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"decodr/internal/core"
	"decodr/internal/types"
)

type mockAccounts struct{ mock.Mock }

func (m *mockAccounts) Delete(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func TestAccountDelete_Success(t *testing.T) {
	accounts := &mockAccounts{}
	accounts.On("Delete", mock.Anything, testUserID).Return(nil)
	srv := newServer(t, Set{Account: NewAccountHandler(accounts, discardLogger())}, &core.MockAuthenticator{Actor: testActor}, nil)

	rec := do(t, srv, http.MethodPost, "/api/account/delete", nil, bearer("tok"))

	requireStatus(t, rec, http.StatusOK)
	assert.JSONEq(t, `{"success":true,"message":"Account deleted successfully."}`, rec.Body.String())
	accounts.AssertExpectations(t)
}

func TestAccountDelete_IdentityFailure(t *testing.T) {
	accounts := &mockAccounts{}
	accounts.On("Delete", mock.Anything, testUserID).
		Return(types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to delete account", nil))
	srv := newServer(t, Set{Account: NewAccountHandler(accounts, discardLogger())}, &core.MockAuthenticator{Actor: testActor}, nil)

	rec := do(t, srv, http.MethodPost, "/api/account/delete", nil, bearer("tok"))

	requireStatus(t, rec, http.StatusBadGateway)
	assert.Equal(t, string(types.ErrCodeUpstreamUnavailable), errorBody(t, rec).Code)
}

func TestAccountDelete_AnonymousRejected(t *testing.T) {
	accounts := &mockAccounts{}
	srv := newServer(t, Set{Account: NewAccountHandler(accounts, discardLogger())}, &core.MockAuthenticator{Actor: testActor}, nil)

	rec := do(t, srv, http.MethodPost, "/api/account/delete", nil, nil)

	requireStatus(t, rec, http.StatusUnauthorized)
	accounts.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}
