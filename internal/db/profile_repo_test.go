package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"decodr/internal/types"
)

// --- Mock DBTX ---

type mockDBTX struct {
	mock.Mock
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgconn.CommandTag), args.Error(1)
}

func (m *mockDBTX) Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error) {
	args := m.Called(ctx, sql, arguments)
	if r := args.Get(0); r != nil {
		return r.(pgx.Rows), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row {
	args := m.Called(ctx, sql, arguments)
	return args.Get(0).(pgx.Row)
}

// --- Mock Row ---

type mockRow struct {
	scanErr error
	scanFn  func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return r.scanErr
}

const testUserID = "5d9b6c2a-1f0e-4c5e-8f55-3b8cde0a1f42"

func profileRow(plan types.Plan, remaining *int, customer *string) *mockRow {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*string) = testUserID
		email := "user@example.com"
		*dest[1].(**string) = &email
		*dest[2].(*types.Plan) = plan
		*dest[3].(**int) = remaining
		*dest[4].(**string) = customer
		*dest[5].(**time.Time) = nil
		*dest[6].(*time.Time) = created
		return nil
	}}
}

func TestProfileRepository_GetByID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProfileRepository(db)
	cus := "cus_123"

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), []any{testUserID}).
		Return(profileRow(types.PlanFree, types.IntPtr(7), &cus))

	p, err := repo.GetByID(context.Background(), testUserID)
	require.NoError(t, err)
	assert.Equal(t, testUserID, p.ID)
	assert.Equal(t, "user@example.com", p.Email)
	assert.Equal(t, types.PlanFree, p.Plan)
	assert.Equal(t, 7, p.Remaining())
	require.NotNil(t, p.StripeCustomerID)
	assert.Equal(t, "cus_123", *p.StripeCustomerID)
	db.AssertExpectations(t)
}

func TestProfileRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProfileRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(context.Background(), testUserID)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundProfile))
}

func TestProfileRepository_GetByID_StoreError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProfileRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: errors.New("connection reset by peer")})

	_, err := repo.GetByID(context.Background(), testUserID)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrCodeStoreUnavailable))
}

func TestProfileRepository_GetByStripeCustomerID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProfileRepository(db)
	cus := "cus_abc"

	db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return containsAll(sql, "stripe_customer_id = $1")
	}), []any{"cus_abc"}).Return(profileRow(types.PlanPremium, nil, &cus))

	p, err := repo.GetByStripeCustomerID(context.Background(), "cus_abc")
	require.NoError(t, err)
	assert.Equal(t, types.PlanPremium, p.Plan)
	assert.Nil(t, p.FreeUsesRemaining)
}

func TestProfileRepository_InsertDefault(t *testing.T) {
	tests := []struct {
		name         string
		tag          string
		wantInserted bool
	}{
		{"new row", "INSERT 0 1", true},
		{"conflict absorbed", "INSERT 0 0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			repo := NewProfileRepository(db)

			db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
				return containsAll(sql, "INSERT INTO profiles", "ON CONFLICT (id) DO NOTHING")
			}), mock.Anything).Return(pgconn.NewCommandTag(tt.tag), nil)

			inserted, err := repo.InsertDefault(context.Background(), testUserID, "user@example.com", 10)
			require.NoError(t, err)
			assert.Equal(t, tt.wantInserted, inserted)

			args := db.Calls[0].Arguments.Get(2).([]any)
			assert.Equal(t, testUserID, args[0])
			assert.Equal(t, 10, args[2])
		})
	}
}

func TestProfileRepository_InsertDefault_EmptyEmailIsNull(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProfileRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	_, err := repo.InsertDefault(context.Background(), testUserID, "", 10)
	require.NoError(t, err)

	args := db.Calls[0].Arguments.Get(2).([]any)
	assert.Nil(t, args[1])
}

func TestProfileRepository_ConsumeFreeUse(t *testing.T) {
	t.Run("decrements", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewProfileRepository(db)

		db.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
			return containsAll(sql, "free_uses_remaining - 1", "free_uses_remaining > 0", "RETURNING")
		}), []any{testUserID}).Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*int) = 4
			return nil
		}})

		remaining, ok, err := repo.ConsumeFreeUse(context.Background(), testUserID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 4, remaining)
	})

	t.Run("no rows means exhausted", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewProfileRepository(db)

		db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
			Return(&mockRow{scanErr: pgx.ErrNoRows})

		_, ok, err := repo.ConsumeFreeUse(context.Background(), testUserID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("store failure", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewProfileRepository(db)

		db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
			Return(&mockRow{scanErr: context.DeadlineExceeded})

		_, ok, err := repo.ConsumeFreeUse(context.Background(), testUserID)
		require.Error(t, err)
		assert.False(t, ok)
		assert.True(t, types.HasCode(err, types.ErrCodeStoreUnavailable))
	})
}

func TestProfileRepository_SetPlan(t *testing.T) {
	eventAt := time.Unix(1767225600, 0).UTC()

	t.Run("applied", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewProfileRepository(db)

		db.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
			return containsAll(sql, "SET plan = $2", "billing_event_at <= $3") &&
				!containsAll(sql, "free_uses_remaining")
		}), []any{testUserID, types.PlanPremium, eventAt}).Return(pgconn.NewCommandTag("UPDATE 1"), nil)

		applied, err := repo.SetPlan(context.Background(), testUserID, types.PlanPremium, eventAt)
		require.NoError(t, err)
		assert.True(t, applied)
		db.AssertExpectations(t)
	})

	t.Run("stale event ignored", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewProfileRepository(db)

		db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
			Return(pgconn.NewCommandTag("UPDATE 0"), nil)

		applied, err := repo.SetPlan(context.Background(), testUserID, types.PlanFree, eventAt)
		require.NoError(t, err)
		assert.False(t, applied)
	})

	t.Run("store failure", func(t *testing.T) {
		db := new(mockDBTX)
		repo := NewProfileRepository(db)

		db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
			Return(pgconn.CommandTag{}, errors.New("broken pipe"))

		_, err := repo.SetPlan(context.Background(), testUserID, types.PlanFree, eventAt)
		assert.True(t, types.HasCode(err, types.ErrCodeStoreUnavailable))
	})
}

func TestProfileRepository_SetStripeCustomerID(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProfileRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{testUserID, "cus_1"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil).Once()
	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), []any{"missing", "cus_1"}).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil).Once()

	require.NoError(t, repo.SetStripeCustomerID(context.Background(), testUserID, "cus_1"))

	err := repo.SetStripeCustomerID(context.Background(), "missing", "cus_1")
	assert.True(t, types.HasCode(err, types.ErrCodeNotFoundProfile))
}

func TestProfileRepository_Delete(t *testing.T) {
	db := new(mockDBTX)
	repo := NewProfileRepository(db)

	db.On("Exec", mock.Anything, "DELETE FROM profiles WHERE id = $1", []any{testUserID}).
		Return(pgconn.NewCommandTag("DELETE 0"), nil)

	require.NoError(t, repo.Delete(context.Background(), testUserID))
	db.AssertExpectations(t)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthProbe(t *testing.T) {
	probe := NewHealthProbe(pingerFunc(func(context.Context) error { return errors.New("down") }))
	assert.Equal(t, "database", probe.Name())
	assert.Error(t, probe.Check(context.Background()))

	ok := NewHealthProbe(pingerFunc(func(context.Context) error { return nil }))
	assert.NoError(t, ok.Check(context.Background()))
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
