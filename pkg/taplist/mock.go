package taplist

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient implements Client for testing callers of the taplist fetch.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) FetchTaplist(ctx context.Context, storeID string) ([]BeerRecord, error) {
	args := m.Called(ctx, storeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]BeerRecord), args.Error(1)
}
