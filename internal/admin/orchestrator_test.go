package admin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taplist-enrich/internal/model"
	"github.com/sells-group/taplist-enrich/internal/quota"
	"github.com/sells-group/taplist-enrich/internal/store"
)

type mockStore struct {
	mock.Mock
	store.Store
}

func (m *mockStore) GetMonthlyQuotaSum(ctx context.Context, scope model.QuotaScope, start, end string) (int, error) {
	args := m.Called(ctx, scope, start, end)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) GetDailyQuotaCount(ctx context.Context, scope model.QuotaScope, date string) (int, error) {
	args := m.Called(ctx, scope, date)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) ListBeersMissingABV(ctx context.Context, limit int, excludeDLQPending bool) ([]model.Beer, error) {
	args := m.Called(ctx, limit, excludeDLQPending)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Beer), args.Error(1)
}

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) Send(ctx context.Context, body []byte) error {
	args := m.Called(ctx, body)
	return args.Error(0)
}

func (m *mockProducer) SendBatch(ctx context.Context, bodies [][]byte) error {
	args := m.Called(ctx, bodies)
	return args.Error(0)
}

func (m *mockProducer) SendDelayed(ctx context.Context, body []byte, delaySeconds int) error {
	args := m.Called(ctx, body, delaySeconds)
	return args.Error(0)
}

func newTestOrchestrator(s *mockStore, q *mockProducer, cfg Config) *Orchestrator {
	return New(s, quota.New(s), q, cfg)
}

func TestTrigger_KillSwitch(t *testing.T) {
	s := new(mockStore)

	o := newTestOrchestrator(s, new(mockProducer), Config{Enabled: false, MonthlyLimit: 2000, DailyLimit: 500})
	res, err := o.Trigger(context.Background(), Request{})

	require.NoError(t, err)
	assert.False(t, res.Triggered)
	assert.Equal(t, "kill_switch", res.Reason)
	s.AssertNotCalled(t, "GetMonthlyQuotaSum", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTrigger_MonthlyLimitReached(t *testing.T) {
	s := new(mockStore)
	s.On("GetMonthlyQuotaSum", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, mock.Anything).Return(2000, nil)

	o := newTestOrchestrator(s, new(mockProducer), Config{Enabled: true, MonthlyLimit: 2000, DailyLimit: 500})
	res, err := o.Trigger(context.Background(), Request{})

	require.NoError(t, err)
	assert.False(t, res.Triggered)
	assert.Equal(t, "monthly_limit", res.Reason)
}

func TestTrigger_DailyLimitReached(t *testing.T) {
	s := new(mockStore)
	s.On("GetMonthlyQuotaSum", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, mock.Anything).Return(10, nil)
	s.On("GetDailyQuotaCount", mock.Anything, model.QuotaScopeEnrichment, mock.Anything).Return(500, nil)

	o := newTestOrchestrator(s, new(mockProducer), Config{Enabled: true, MonthlyLimit: 2000, DailyLimit: 500})
	res, err := o.Trigger(context.Background(), Request{})

	require.NoError(t, err)
	assert.False(t, res.Triggered)
	assert.Equal(t, "daily_limit", res.Reason)
}

func TestTrigger_NoEligibleBeers(t *testing.T) {
	s := new(mockStore)
	s.On("GetMonthlyQuotaSum", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, mock.Anything).Return(10, nil)
	s.On("GetDailyQuotaCount", mock.Anything, model.QuotaScopeEnrichment, mock.Anything).Return(10, nil)
	s.On("ListBeersMissingABV", mock.Anything, 100, false).Return([]model.Beer{}, nil)

	o := newTestOrchestrator(s, new(mockProducer), Config{Enabled: true, MonthlyLimit: 2000, DailyLimit: 500})
	res, err := o.Trigger(context.Background(), Request{})

	require.NoError(t, err)
	assert.False(t, res.Triggered)
	assert.Equal(t, "no_eligible_beers", res.Reason)
}

func TestTrigger_EnqueuesBatch(t *testing.T) {
	s := new(mockStore)
	s.On("GetMonthlyQuotaSum", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, mock.Anything).Return(10, nil)
	s.On("GetDailyQuotaCount", mock.Anything, model.QuotaScopeEnrichment, mock.Anything).Return(10, nil)
	s.On("ListBeersMissingABV", mock.Anything, 100, true).Return([]model.Beer{
		{ID: "b1", BrewName: "IPA", Brewer: "Brewery A"},
		{ID: "b2", BrewName: "Stout", Brewer: "Brewery B"},
	}, nil)

	q := new(mockProducer)
	q.On("SendBatch", mock.Anything, mock.MatchedBy(func(bodies [][]byte) bool { return len(bodies) == 2 })).Return(nil)

	o := newTestOrchestrator(s, q, Config{Enabled: true, MonthlyLimit: 2000, DailyLimit: 500})
	res, err := o.Trigger(context.Background(), Request{ExcludeFailures: true})

	require.NoError(t, err)
	assert.True(t, res.Triggered)
	assert.Equal(t, 2, res.Enqueued)
}

func TestTrigger_RespectsBatchLimit(t *testing.T) {
	s := new(mockStore)
	s.On("GetMonthlyQuotaSum", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, mock.Anything).Return(10, nil)
	s.On("GetDailyQuotaCount", mock.Anything, model.QuotaScopeEnrichment, mock.Anything).Return(10, nil)
	s.On("ListBeersMissingABV", mock.Anything, 50, false).Return([]model.Beer{{ID: "b1"}}, nil)

	q := new(mockProducer)
	q.On("SendBatch", mock.Anything, mock.Anything).Return(nil)

	o := newTestOrchestrator(s, q, Config{Enabled: true, MonthlyLimit: 2000, DailyLimit: 500, BatchLimit: 50})
	_, err := o.Trigger(context.Background(), Request{})

	require.NoError(t, err)
	s.AssertCalled(t, "ListBeersMissingABV", mock.Anything, 50, false)
}

func TestTrigger_RespectsRequestedLimitOverBatchLimit(t *testing.T) {
	s := new(mockStore)
	s.On("GetMonthlyQuotaSum", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, mock.Anything).Return(10, nil)
	s.On("GetDailyQuotaCount", mock.Anything, model.QuotaScopeEnrichment, mock.Anything).Return(10, nil)
	s.On("ListBeersMissingABV", mock.Anything, 5, false).Return([]model.Beer{{ID: "b1"}}, nil)

	q := new(mockProducer)
	q.On("SendBatch", mock.Anything, mock.Anything).Return(nil)

	o := newTestOrchestrator(s, q, Config{Enabled: true, MonthlyLimit: 2000, DailyLimit: 500, BatchLimit: 50})
	_, err := o.Trigger(context.Background(), Request{Limit: 5})

	require.NoError(t, err)
	s.AssertCalled(t, "ListBeersMissingABV", mock.Anything, 5, false)
}

func TestTrigger_ClampsToHardCapOf100(t *testing.T) {
	s := new(mockStore)
	s.On("GetMonthlyQuotaSum", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, mock.Anything).Return(0, nil)
	s.On("GetDailyQuotaCount", mock.Anything, model.QuotaScopeEnrichment, mock.Anything).Return(0, nil)
	s.On("ListBeersMissingABV", mock.Anything, 100, false).Return([]model.Beer{{ID: "b1"}}, nil)

	q := new(mockProducer)
	q.On("SendBatch", mock.Anything, mock.Anything).Return(nil)

	o := newTestOrchestrator(s, q, Config{Enabled: true, MonthlyLimit: 5000, DailyLimit: 5000})
	_, err := o.Trigger(context.Background(), Request{Limit: 1000})

	require.NoError(t, err)
	s.AssertCalled(t, "ListBeersMissingABV", mock.Anything, 100, false)
}

func TestTrigger_ClampsToMonthlyRemaining(t *testing.T) {
	s := new(mockStore)
	s.On("GetMonthlyQuotaSum", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, mock.Anything).Return(1995, nil)
	s.On("GetDailyQuotaCount", mock.Anything, model.QuotaScopeEnrichment, mock.Anything).Return(0, nil)
	s.On("ListBeersMissingABV", mock.Anything, 5, false).Return([]model.Beer{{ID: "b1"}}, nil)

	q := new(mockProducer)
	q.On("SendBatch", mock.Anything, mock.Anything).Return(nil)

	o := newTestOrchestrator(s, q, Config{Enabled: true, MonthlyLimit: 2000, DailyLimit: 500})
	_, err := o.Trigger(context.Background(), Request{})

	require.NoError(t, err)
	s.AssertCalled(t, "ListBeersMissingABV", mock.Anything, 5, false)
}

func TestTrigger_EnqueueFailurePropagates(t *testing.T) {
	s := new(mockStore)
	s.On("GetMonthlyQuotaSum", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, mock.Anything).Return(10, nil)
	s.On("GetDailyQuotaCount", mock.Anything, model.QuotaScopeEnrichment, mock.Anything).Return(10, nil)
	s.On("ListBeersMissingABV", mock.Anything, 100, false).Return([]model.Beer{{ID: "b1"}}, nil)

	q := new(mockProducer)
	q.On("SendBatch", mock.Anything, mock.Anything).Return(errors.New("queue down"))

	o := newTestOrchestrator(s, q, Config{Enabled: true, MonthlyLimit: 2000, DailyLimit: 500})
	_, err := o.Trigger(context.Background(), Request{})

	require.Error(t, err)
}
