package workersai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockClient implements Client for testing callers of the cleanup pipeline.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CompletionResponse), args.Error(1)
}

func TestMockClient_Complete(t *testing.T) {
	m := new(MockClient)
	m.On("Complete", mock.Anything, mock.Anything).Return(&CompletionResponse{
		Response: "A crisp pilsner, 4.8% ABV.",
		Usage:    TokenUsage{InputTokens: 40, OutputTokens: 12},
	}, nil)

	resp, err := m.Complete(context.Background(), CompletionRequest{Model: "claude-haiku-4-5-20251001", Prompt: "clean this"})
	assert.NoError(t, err)
	assert.Equal(t, "A crisp pilsner, 4.8% ABV.", resp.Response)
}

func TestTokenUsage_EstimateCost(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	cost := u.EstimateCost("claude-haiku-4-5-20251001")
	assert.InDelta(t, 4.80, cost, 0.001)
}

func TestTokenUsage_EstimateCost_UnknownModel(t *testing.T) {
	u := TokenUsage{InputTokens: 1000, OutputTokens: 1000}
	assert.Equal(t, float64(0), u.EstimateCost("unknown-model"))
}
