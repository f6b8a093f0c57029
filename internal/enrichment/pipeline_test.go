package enrichment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taplist-enrich/internal/model"
	"github.com/sells-group/taplist-enrich/internal/quota"
	"github.com/sells-group/taplist-enrich/internal/store"
	"github.com/sells-group/taplist-enrich/pkg/perplexity"
)

type mockStore struct {
	mock.Mock
	store.Store
}

func (m *mockStore) GetBeer(ctx context.Context, id string) (*model.Beer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Beer), args.Error(1)
}

func (m *mockStore) UpdateEnrichment(ctx context.Context, beerID string, abv *float64, source model.EnrichmentSource, confidence *float64, status model.EnrichmentStatus) error {
	args := m.Called(ctx, beerID, abv, source, confidence, status)
	return args.Error(0)
}

func (m *mockStore) ReserveQuotaSlot(ctx context.Context, scope model.QuotaScope, date string, dailyLimit int) (int, bool, error) {
	args := m.Called(ctx, scope, date, dailyLimit)
	return args.Int(0), args.Bool(1), args.Error(2)
}

func (m *mockStore) GetMonthlyQuotaSum(ctx context.Context, scope model.QuotaScope, start, end string) (int, error) {
	args := m.Called(ctx, scope, start, end)
	return args.Int(0), args.Error(1)
}

type mockClient struct {
	mock.Mock
}

func (m *mockClient) ChatCompletion(ctx context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*perplexity.ChatCompletionResponse), args.Error(1)
}

func pendingBeer(id string) *model.Beer {
	return &model.Beer{ID: id, EnrichmentStatus: model.EnrichmentStatusPending}
}

func resp(content string) *perplexity.ChatCompletionResponse {
	return &perplexity.ChatCompletionResponse{
		Choices: []perplexity.Choice{{Message: perplexity.Message{Content: content}}},
	}
}

func newTestPipeline(s *mockStore, c *mockClient, cfg Config) *Pipeline {
	return New(s, quota.New(s), c, cfg)
}

func TestProcessMessage_Disabled_Acks(t *testing.T) {
	s := new(mockStore)
	c := new(mockClient)
	p := newTestPipeline(s, c, Config{Enabled: false})

	out := p.ProcessMessage(context.Background(), model.EnrichmentMessage{BeerID: "b1"})

	assert.Equal(t, DispositionAck, out.Disposition)
	s.AssertNotCalled(t, "GetBeer", mock.Anything, mock.Anything)
}

func TestProcessMessage_AlreadyEnriched_Acks(t *testing.T) {
	s := new(mockStore)
	c := new(mockClient)
	beer := &model.Beer{ID: "b1", EnrichmentStatus: model.EnrichmentStatusEnriched}
	s.On("GetBeer", mock.Anything, "b1").Return(beer, nil)

	p := newTestPipeline(s, c, Config{Enabled: true})
	out := p.ProcessMessage(context.Background(), model.EnrichmentMessage{BeerID: "b1"})

	assert.Equal(t, DispositionAck, out.Disposition)
	s.AssertNotCalled(t, "ReserveQuotaSlot", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessMessage_MonthlyLimitReached_AcksWithoutStatusWrite(t *testing.T) {
	s := new(mockStore)
	c := new(mockClient)
	s.On("GetBeer", mock.Anything, "b1").Return(pendingBeer("b1"), nil)
	s.On("GetMonthlyQuotaSum", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, mock.Anything).Return(2000, nil)

	p := newTestPipeline(s, c, Config{Enabled: true, MonthlyLimit: 2000})
	out := p.ProcessMessage(context.Background(), model.EnrichmentMessage{BeerID: "b1"})

	assert.Equal(t, DispositionAck, out.Disposition)
	c.AssertNotCalled(t, "ChatCompletion", mock.Anything, mock.Anything)
	s.AssertNotCalled(t, "UpdateEnrichment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessMessage_DailyLimitReached_AcksWithoutRetry(t *testing.T) {
	s := new(mockStore)
	c := new(mockClient)
	s.On("GetBeer", mock.Anything, "b1").Return(pendingBeer("b1"), nil)
	s.On("GetMonthlyQuotaSum", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, mock.Anything).Return(10, nil)
	s.On("ReserveQuotaSlot", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, 500).Return(500, false, nil)

	p := newTestPipeline(s, c, Config{Enabled: true, MonthlyLimit: 2000, DailyLimit: 500})
	out := p.ProcessMessage(context.Background(), model.EnrichmentMessage{BeerID: "b1"})

	assert.Equal(t, DispositionAck, out.Disposition)
	c.AssertNotCalled(t, "ChatCompletion", mock.Anything, mock.Anything)
}

func TestProcessMessage_FoundABV_WritesEnriched(t *testing.T) {
	s := new(mockStore)
	c := new(mockClient)
	s.On("GetBeer", mock.Anything, "b1").Return(pendingBeer("b1"), nil)
	s.On("GetMonthlyQuotaSum", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, mock.Anything).Return(10, nil)
	s.On("ReserveQuotaSlot", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, 500).Return(11, true, nil)
	c.On("ChatCompletion", mock.Anything, mock.Anything).Return(resp("5.8"), nil)
	s.On("UpdateEnrichment", mock.Anything, "b1", mock.MatchedBy(func(v *float64) bool { return v != nil && *v == 5.8 }),
		model.EnrichmentSourcePerplexity, mock.MatchedBy(func(v *float64) bool { return v != nil && *v == 0.7 }),
		model.EnrichmentStatusEnriched).Return(nil)

	p := newTestPipeline(s, c, Config{Enabled: true, MonthlyLimit: 2000, DailyLimit: 500})
	out := p.ProcessMessage(context.Background(), model.EnrichmentMessage{BeerID: "b1", BeerName: "Test IPA", Brewer: "Test Brewery"})

	assert.Equal(t, DispositionAck, out.Disposition)
}

func TestProcessMessage_NoABVFound_WritesNotFound(t *testing.T) {
	s := new(mockStore)
	c := new(mockClient)
	s.On("GetBeer", mock.Anything, "b1").Return(pendingBeer("b1"), nil)
	s.On("GetMonthlyQuotaSum", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, mock.Anything).Return(10, nil)
	s.On("ReserveQuotaSlot", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, 500).Return(11, true, nil)
	c.On("ChatCompletion", mock.Anything, mock.Anything).Return(resp("unknown"), nil)
	s.On("UpdateEnrichment", mock.Anything, "b1", (*float64)(nil), model.EnrichmentSource(""), (*float64)(nil), model.EnrichmentStatusNotFound).Return(nil)

	p := newTestPipeline(s, c, Config{Enabled: true, MonthlyLimit: 2000, DailyLimit: 500})
	out := p.ProcessMessage(context.Background(), model.EnrichmentMessage{BeerID: "b1"})

	assert.Equal(t, DispositionAck, out.Disposition)
}

func TestProcessMessage_RateLimited_UsesLongDelay(t *testing.T) {
	s := new(mockStore)
	c := new(mockClient)
	s.On("GetBeer", mock.Anything, "b1").Return(pendingBeer("b1"), nil)
	s.On("GetMonthlyQuotaSum", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, mock.Anything).Return(10, nil)
	s.On("ReserveQuotaSlot", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, 500).Return(11, true, nil)
	c.On("ChatCompletion", mock.Anything, mock.Anything).Return(nil, errors.New("perplexity: unexpected status 429: rate limited"))

	p := newTestPipeline(s, c, Config{Enabled: true, MonthlyLimit: 2000, DailyLimit: 500, RateLimitRetryDelay: 90 * time.Second})
	out := p.ProcessMessage(context.Background(), model.EnrichmentMessage{BeerID: "b1"})

	require.Equal(t, DispositionRetry, out.Disposition)
	assert.Equal(t, 90*time.Second, out.RetryDelay)
}

func TestProcessMessage_OtherUpstreamError_UsesDefaultDelay(t *testing.T) {
	s := new(mockStore)
	c := new(mockClient)
	s.On("GetBeer", mock.Anything, "b1").Return(pendingBeer("b1"), nil)
	s.On("GetMonthlyQuotaSum", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, mock.Anything).Return(10, nil)
	s.On("ReserveQuotaSlot", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, 500).Return(11, true, nil)
	c.On("ChatCompletion", mock.Anything, mock.Anything).Return(nil, errors.New("perplexity: send request: timeout"))

	p := newTestPipeline(s, c, Config{Enabled: true, MonthlyLimit: 2000, DailyLimit: 500, DefaultRetryDelay: 15 * time.Second})
	out := p.ProcessMessage(context.Background(), model.EnrichmentMessage{BeerID: "b1"})

	require.Equal(t, DispositionRetry, out.Disposition)
	assert.Equal(t, 15*time.Second, out.RetryDelay)
}

func TestProcessBatch_PacesBetweenCalls(t *testing.T) {
	s := new(mockStore)
	c := new(mockClient)
	s.On("GetBeer", mock.Anything, mock.Anything).Return(pendingBeer("x"), nil)
	s.On("GetMonthlyQuotaSum", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, mock.Anything).Return(0, nil)
	s.On("ReserveQuotaSlot", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, 500).Return(1, true, nil)
	c.On("ChatCompletion", mock.Anything, mock.Anything).Return(resp("5.0"), nil)
	s.On("UpdateEnrichment", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	p := newTestPipeline(s, c, Config{Enabled: true, MonthlyLimit: 2000, DailyLimit: 500, PacingDelay: 10 * time.Millisecond})
	batch := []model.EnrichmentMessage{{BeerID: "a"}, {BeerID: "b"}, {BeerID: "c"}}

	start := time.Now()
	outcomes := p.ProcessBatch(context.Background(), batch)
	elapsed := time.Since(start)

	require.Len(t, outcomes, 3)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond)
}
