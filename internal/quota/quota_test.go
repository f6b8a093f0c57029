package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/taplist-enrich/internal/model"
	"github.com/sells-group/taplist-enrich/internal/store"
)

type mockStore struct {
	mock.Mock
	store.Store
}

func (m *mockStore) ReserveQuotaBatch(ctx context.Context, scope model.QuotaScope, date string, requested, dailyLimit int) (int, int, error) {
	args := m.Called(ctx, scope, date, requested, dailyLimit)
	return args.Int(0), args.Int(1), args.Error(2)
}

func (m *mockStore) ReserveQuotaSlot(ctx context.Context, scope model.QuotaScope, date string, dailyLimit int) (int, bool, error) {
	args := m.Called(ctx, scope, date, dailyLimit)
	return args.Int(0), args.Bool(1), args.Error(2)
}

func (m *mockStore) GetDailyQuotaCount(ctx context.Context, scope model.QuotaScope, date string) (int, error) {
	args := m.Called(ctx, scope, date)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) GetMonthlyQuotaSum(ctx context.Context, scope model.QuotaScope, start, end string) (int, error) {
	args := m.Called(ctx, scope, start, end)
	return args.Int(0), args.Error(1)
}

func newReserver(s *mockStore, now time.Time) *Reserver {
	r := New(s)
	r.now = func() time.Time { return now }
	return r
}

func TestReserveBatch_OverflowRejectedWhole(t *testing.T) {
	s := new(mockStore)
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	s.On("ReserveQuotaBatch", mock.Anything, model.QuotaScopeCleanup, "2026-07-31", 10, 1000).
		Return(0, 4, nil)

	r := newReserver(s, now)
	res, err := r.ReserveBatch(context.Background(), model.QuotaScopeCleanup, 10, 1000)

	assert.NoError(t, err)
	assert.Equal(t, 0, res.Reserved)
	assert.Equal(t, 4, res.Remaining)
}

func TestReserveSlot_TrueWhenUnderLimit(t *testing.T) {
	s := new(mockStore)
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	s.On("ReserveQuotaSlot", mock.Anything, model.QuotaScopeEnrichment, "2026-07-31", 500).
		Return(12, true, nil)

	r := newReserver(s, now)
	ok, err := r.ReserveSlot(context.Background(), model.QuotaScopeEnrichment, 500)

	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestReserveSlot_FalseAtLimit(t *testing.T) {
	s := new(mockStore)
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	s.On("ReserveQuotaSlot", mock.Anything, model.QuotaScopeEnrichment, "2026-07-31", 500).
		Return(500, false, nil)

	r := newReserver(s, now)
	ok, err := r.ReserveSlot(context.Background(), model.QuotaScopeEnrichment, 500)

	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestMonthlyLimitReached(t *testing.T) {
	s := new(mockStore)
	now := time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)
	s.On("GetMonthlyQuotaSum", mock.Anything, model.QuotaScopeEnrichment, "2026-02-01", "2026-03-01").
		Return(2000, nil)

	r := newReserver(s, now)
	reached, err := r.MonthlyLimitReached(context.Background(), model.QuotaScopeEnrichment, 2000)

	assert.NoError(t, err)
	assert.True(t, reached)
}

func TestMonthlyLimitNotReached(t *testing.T) {
	s := new(mockStore)
	now := time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)
	s.On("GetMonthlyQuotaSum", mock.Anything, model.QuotaScopeEnrichment, "2026-02-01", "2026-03-01").
		Return(1999, nil)

	r := newReserver(s, now)
	reached, err := r.MonthlyLimitReached(context.Background(), model.QuotaScopeEnrichment, 2000)

	assert.NoError(t, err)
	assert.False(t, reached)
}

func TestDailyUsage(t *testing.T) {
	s := new(mockStore)
	now := time.Date(2026, 7, 31, 10, 0, 0, 0, time.UTC)
	s.On("GetDailyQuotaCount", mock.Anything, model.QuotaScopeCleanup, "2026-07-31").
		Return(42, nil)

	r := newReserver(s, now)
	n, err := r.DailyUsage(context.Background(), model.QuotaScopeCleanup)

	assert.NoError(t, err)
	assert.Equal(t, 42, n)
}
