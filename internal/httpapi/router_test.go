package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taplist-enrich/internal/admin"
	"github.com/sells-group/taplist-enrich/internal/admission"
	"github.com/sells-group/taplist-enrich/internal/dlq"
	"github.com/sells-group/taplist-enrich/internal/model"
	"github.com/sells-group/taplist-enrich/internal/queue"
	"github.com/sells-group/taplist-enrich/internal/quota"
	"github.com/sells-group/taplist-enrich/internal/store"
	"github.com/sells-group/taplist-enrich/pkg/taplist"
)

type mockStore struct {
	mock.Mock
	store.Store
}

func (m *mockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) ListBeers(ctx context.Context, ids []string) ([]model.Beer, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Beer), args.Error(1)
}

func (m *mockStore) UpsertBeer(ctx context.Context, in store.UpsertBeerInput) (*model.Beer, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Beer), args.Error(1)
}

func (m *mockStore) IncrementRateLimit(ctx context.Context, key string, bucket int64) (int64, error) {
	args := m.Called(ctx, key, bucket)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) PurgeRateLimits(ctx context.Context, olderThanBucket int64) (int, error) {
	args := m.Called(ctx, olderThanBucket)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) ListDlq(ctx context.Context, filter store.DlqFilter) (*store.DlqListResult, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.DlqListResult), args.Error(1)
}

func (m *mockStore) DlqStatsSnapshot(ctx context.Context) (*store.DlqStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.DlqStats), args.Error(1)
}

func (m *mockStore) ClaimDlqForReplay(ctx context.Context, ids []int64) ([]store.ReplayCandidate, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.ReplayCandidate), args.Error(1)
}

func (m *mockStore) MarkReplayed(ctx context.Context, ids []int64, now time.Time) error {
	args := m.Called(ctx, ids, now)
	return args.Error(0)
}

func (m *mockStore) RollbackDlq(ctx context.Context, ids []int64) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *mockStore) MarkAcknowledged(ctx context.Context, ids []int64, now time.Time) error {
	args := m.Called(ctx, ids, now)
	return args.Error(0)
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

const (
	testAPIKey = "test-api-key"
	testAdmin  = "test-admin-secret"
	testOrigin = "https://example.com"
	testRPM    = 100
	testStore  = "store-1"
)

func newTestRouter(s *mockStore, cleanupQ *mockProducer, enrichQ *mockProducer, tp taplist.Client) *chiTestBundle {
	producers := map[model.SourceQueue]queue.Producer{
		model.SourceQueueEnrichment: enrichQ,
		model.SourceQueueCleanup:    cleanupQ,
	}
	d := Deps{
		Store:          s,
		Admission:      admission.New(s),
		CleanupQ:       cleanupQ,
		DLQ:            dlq.New(s, producers),
		Admin:          admin.New(s, quota.New(s), enrichQ, admin.Config{Enabled: true, DailyLimit: 500, MonthlyLimit: 2000}),
		Taplist:        tp,
		StoreAllowList: NewStoreAllowList([]string{testStore}),
		Auth: AuthConfig{
			APIKey:        testAPIKey,
			AdminSecret:   testAdmin,
			AllowedOrigin: testOrigin,
			RateLimitRPM:  testRPM,
		},
	}
	return &chiTestBundle{router: NewRouter(d)}
}

type chiTestBundle struct {
	router http.Handler
}

func (b *chiTestBundle) do(method, path string, body []byte, bearer string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	b.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth_OK(t *testing.T) {
	s := new(mockStore)
	s.On("Ping", mock.Anything).Return(nil)

	b := newTestRouter(s, new(mockProducer), new(mockProducer), new(taplist.MockClient))
	rec := b.do(http.MethodGet, "/health", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_StoreDown(t *testing.T) {
	s := new(mockStore)
	s.On("Ping", mock.Anything).Return(assert.AnError)

	b := newTestRouter(s, new(mockProducer), new(mockProducer), new(taplist.MockClient))
	rec := b.do(http.MethodGet, "/health", nil, "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListBeers_RequiresAPIKey(t *testing.T) {
	s := new(mockStore)
	b := newTestRouter(s, new(mockProducer), new(mockProducer), new(taplist.MockClient))

	rec := b.do(http.MethodGet, "/beers?sid="+testStore, nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.Success)
	assert.Equal(t, "unauthorized", env.Error.Code)
}

func TestListBeers_WrongAPIKey(t *testing.T) {
	s := new(mockStore)
	b := newTestRouter(s, new(mockProducer), new(mockProducer), new(taplist.MockClient))

	rec := b.do(http.MethodGet, "/beers?sid="+testStore, nil, "wrong-key")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListBeers_HappyPath(t *testing.T) {
	s := new(mockStore)
	s.On("IncrementRateLimit", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)
	s.On("ListBeers", mock.Anything, []string{"b1", "b2"}).Return([]model.Beer{
		{ID: "b1", ABV: floatPtr(5.8)},
	}, nil)

	tp := new(taplist.MockClient)
	tp.On("FetchTaplist", mock.Anything, testStore).Return([]taplist.BeerRecord{
		{ID: "b1", BrewName: "IPA", Brewer: "Brewery A"},
		{ID: "b2", BrewName: "Stout", Brewer: "Brewery B"},
	}, nil)

	b := newTestRouter(s, new(mockProducer), new(mockProducer), tp)
	rec := b.do(http.MethodGet, "/beers?sid="+testStore, nil, testAPIKey)

	require.Equal(t, http.StatusOK, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Success)
	assert.NotEmpty(t, env.RequestID)

	var resp listBeersResponse
	dataBytes, _ := json.Marshal(env.Data)
	require.NoError(t, json.Unmarshal(dataBytes, &resp))
	assert.Equal(t, testStore, resp.StoreID)
	require.Len(t, resp.Beers, 2)
	require.NotNil(t, resp.Beers[0].ABV)
	assert.Equal(t, 5.8, *resp.Beers[0].ABV)
}

func TestListBeers_MissingSid(t *testing.T) {
	s := new(mockStore)
	s.On("IncrementRateLimit", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)

	b := newTestRouter(s, new(mockProducer), new(mockProducer), new(taplist.MockClient))
	rec := b.do(http.MethodGet, "/beers", nil, testAPIKey)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListBeers_SidNotAllowed(t *testing.T) {
	s := new(mockStore)
	s.On("IncrementRateLimit", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)

	b := newTestRouter(s, new(mockProducer), new(mockProducer), new(taplist.MockClient))
	rec := b.do(http.MethodGet, "/beers?sid=unknown-store", nil, testAPIKey)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListBeers_UpstreamFailure(t *testing.T) {
	s := new(mockStore)
	s.On("IncrementRateLimit", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)

	tp := new(taplist.MockClient)
	tp.On("FetchTaplist", mock.Anything, testStore).Return(nil, assert.AnError)

	b := newTestRouter(s, new(mockProducer), new(mockProducer), tp)
	rec := b.do(http.MethodGet, "/beers?sid="+testStore, nil, testAPIKey)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestBatchEnrichments_HappyPath(t *testing.T) {
	s := new(mockStore)
	s.On("IncrementRateLimit", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)
	s.On("ListBeers", mock.Anything, []string{"b1", "b2"}).Return([]model.Beer{
		{ID: "b1", ABV: floatPtr(5.8), EnrichmentSource: sourcePtr(model.EnrichmentSourcePerplexity)},
	}, nil)

	b := newTestRouter(s, new(mockProducer), new(mockProducer), new(taplist.MockClient))
	body, _ := json.Marshal(batchEnrichmentsRequest{IDs: []string{"b1", "b2"}})
	rec := b.do(http.MethodPost, "/beers/batch", body, testAPIKey)

	require.Equal(t, http.StatusOK, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))

	var resp batchEnrichmentsResponse
	dataBytes, _ := json.Marshal(env.Data)
	require.NoError(t, json.Unmarshal(dataBytes, &resp))
	require.Contains(t, resp.Enrichments, "b1")
	assert.True(t, resp.Enrichments["b1"].IsVerified)
	assert.NotContains(t, resp.Enrichments, "b2")
}

func TestBatchEnrichments_EmptyIDs(t *testing.T) {
	s := new(mockStore)
	s.On("IncrementRateLimit", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)

	b := newTestRouter(s, new(mockProducer), new(mockProducer), new(taplist.MockClient))
	body, _ := json.Marshal(batchEnrichmentsRequest{IDs: nil})
	rec := b.do(http.MethodPost, "/beers/batch", body, testAPIKey)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchEnrichments_TooManyIDs(t *testing.T) {
	s := new(mockStore)
	s.On("IncrementRateLimit", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)

	ids := make([]string, 101)
	for i := range ids {
		ids[i] = "b"
	}

	b := newTestRouter(s, new(mockProducer), new(mockProducer), new(taplist.MockClient))
	body, _ := json.Marshal(batchEnrichmentsRequest{IDs: ids})
	rec := b.do(http.MethodPost, "/beers/batch", body, testAPIKey)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestBeers_UpsertsAndEnqueuesCleanup(t *testing.T) {
	s := new(mockStore)
	s.On("IncrementRateLimit", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)
	s.On("UpsertBeer", mock.Anything, mock.Anything).Return(&model.Beer{ID: "b1"}, nil)

	cleanupQ := new(mockProducer)
	cleanupQ.On("SendBatch", mock.Anything, mock.MatchedBy(func(bodies [][]byte) bool { return len(bodies) == 1 })).Return(nil)

	b := newTestRouter(s, cleanupQ, new(mockProducer), new(taplist.MockClient))
	body, _ := json.Marshal([]beerSighting{
		{ID: "b1", BrewName: "IPA", Brewer: "Brewery A", BrewDescription: strPtr("Hoppy, 6.5% ABV")},
	})
	rec := b.do(http.MethodPost, "/beers/ingest", body, testAPIKey)

	require.Equal(t, http.StatusOK, rec.Code)
	cleanupQ.AssertExpectations(t)
}

func TestIngestBeers_InvalidBody(t *testing.T) {
	s := new(mockStore)
	s.On("IncrementRateLimit", mock.Anything, mock.Anything, mock.Anything).Return(int64(1), nil)

	b := newTestRouter(s, new(mockProducer), new(mockProducer), new(taplist.MockClient))
	rec := b.do(http.MethodPost, "/beers/ingest", []byte("not json"), testAPIKey)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRoutes_RequireAdminSecret(t *testing.T) {
	s := new(mockStore)
	b := newTestRouter(s, new(mockProducer), new(mockProducer), new(taplist.MockClient))

	rec := b.do(http.MethodGet, "/admin/dlq/stats", nil, testAPIKey)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDlqStats_HappyPath(t *testing.T) {
	s := new(mockStore)
	s.On("DlqStatsSnapshot", mock.Anything).Return(&store.DlqStats{}, nil)

	b := newTestRouter(s, new(mockProducer), new(mockProducer), new(taplist.MockClient))
	rec := b.do(http.MethodGet, "/admin/dlq/stats", nil, testAdmin)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListDLQ_HappyPath(t *testing.T) {
	s := new(mockStore)
	s.On("ListDlq", mock.Anything, mock.Anything).Return(&store.DlqListResult{}, nil)

	b := newTestRouter(s, new(mockProducer), new(mockProducer), new(taplist.MockClient))
	rec := b.do(http.MethodGet, "/admin/dlq?status=pending&limit=10", nil, testAdmin)

	assert.Equal(t, http.StatusOK, rec.Code)
	s.AssertCalled(t, "ListDlq", mock.Anything, store.DlqFilter{Status: model.DlqStatusPending, Limit: 10})
}

func TestReplayDLQ_HappyPath(t *testing.T) {
	s := new(mockStore)
	s.On("ClaimDlqForReplay", mock.Anything, []int64{1, 2}).Return([]store.ReplayCandidate{
		{ID: 1, RawMessage: "{}", SourceQueue: model.SourceQueueCleanup},
	}, nil)
	s.On("MarkReplayed", mock.Anything, []int64{1}, mock.Anything).Return(nil)

	cleanupQ := new(mockProducer)
	cleanupQ.On("Send", mock.Anything, mock.Anything).Return(nil)

	b := newTestRouter(s, cleanupQ, new(mockProducer), new(taplist.MockClient))
	body, _ := json.Marshal(replayRequest{IDs: []int64{1, 2}})
	rec := b.do(http.MethodPost, "/admin/dlq/replay", body, testAdmin)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReplayDLQ_EmptyIDs(t *testing.T) {
	s := new(mockStore)
	b := newTestRouter(s, new(mockProducer), new(mockProducer), new(taplist.MockClient))

	body, _ := json.Marshal(replayRequest{IDs: nil})
	rec := b.do(http.MethodPost, "/admin/dlq/replay", body, testAdmin)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAcknowledgeDLQ_HappyPath(t *testing.T) {
	s := new(mockStore)
	s.On("MarkAcknowledged", mock.Anything, []int64{5}, mock.Anything).Return(nil)

	b := newTestRouter(s, new(mockProducer), new(mockProducer), new(taplist.MockClient))
	body, _ := json.Marshal(acknowledgeRequest{IDs: []int64{5}})
	rec := b.do(http.MethodPost, "/admin/dlq/acknowledge", body, testAdmin)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerEnrich_HappyPath(t *testing.T) {
	s := new(mockStore)
	s.On("GetMonthlyQuotaSum", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, mock.Anything).Return(10, nil)
	s.On("GetDailyQuotaCount", mock.Anything, model.QuotaScopeEnrichment, mock.Anything).Return(10, nil)
	s.On("ListBeersMissingABV", mock.Anything, 100, false).Return([]model.Beer{}, nil)

	b := newTestRouter(s, new(mockProducer), new(mockProducer), new(taplist.MockClient))
	rec := b.do(http.MethodPost, "/admin/enrich/trigger", nil, testAdmin)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTriggerEnrich_DecodesRequestBody(t *testing.T) {
	s := new(mockStore)
	s.On("GetMonthlyQuotaSum", mock.Anything, model.QuotaScopeEnrichment, mock.Anything, mock.Anything).Return(10, nil)
	s.On("GetDailyQuotaCount", mock.Anything, model.QuotaScopeEnrichment, mock.Anything).Return(10, nil)
	s.On("ListBeersMissingABV", mock.Anything, 5, true).Return([]model.Beer{}, nil)

	b := newTestRouter(s, new(mockProducer), new(mockProducer), new(taplist.MockClient))
	body, _ := json.Marshal(triggerEnrichRequest{Limit: 5, ExcludeFailures: true})
	rec := b.do(http.MethodPost, "/admin/enrich/trigger", body, testAdmin)

	assert.Equal(t, http.StatusOK, rec.Code)
	s.AssertCalled(t, "ListBeersMissingABV", mock.Anything, 5, true)
}

func strPtr(s string) *string { return &s }
func floatPtr(f float64) *float64 { return &f }
func sourcePtr(s model.EnrichmentSource) *model.EnrichmentSource { return &s }
