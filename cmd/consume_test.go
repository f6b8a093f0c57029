//go:build !integration

package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/taplist-enrich/internal/breaker"
	"github.com/sells-group/taplist-enrich/internal/cleanup"
	"github.com/sells-group/taplist-enrich/internal/enrichment"
	"github.com/sells-group/taplist-enrich/internal/model"
	"github.com/sells-group/taplist-enrich/internal/queue"
	"github.com/sells-group/taplist-enrich/internal/quota"
	"github.com/sells-group/taplist-enrich/internal/store"
	"github.com/sells-group/taplist-enrich/pkg/perplexity"
	"github.com/sells-group/taplist-enrich/pkg/workersai"
)

type fakeLLM struct{}

func (fakeLLM) Complete(ctx context.Context, req workersai.CompletionRequest) (*workersai.CompletionResponse, error) {
	return &workersai.CompletionResponse{Response: "a clean description, 5.5% ABV"}, nil
}

type fakePerplexity struct{}

func (fakePerplexity) ChatCompletion(ctx context.Context, req perplexity.ChatCompletionRequest) (*perplexity.ChatCompletionResponse, error) {
	return &perplexity.ChatCompletionResponse{Choices: []perplexity.Choice{{Message: perplexity.Message{Content: "unknown"}}}}, nil
}

func TestCleanupHandler_AckOnSuccess(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db")
	db, err := store.NewSQLite(dsn)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate(context.Background()))

	_, err = db.UpsertBeer(context.Background(), store.UpsertBeerInput{ID: "b1", BrewName: "IPA", Brewer: "Brewery A"})
	require.NoError(t, err)

	q := queue.NewMemory(8, queue.MemoryConfig{})
	p := cleanup.New(db, quota.New(db), breaker.New(breaker.DefaultConfig()), fakeLLM{}, q, cleanup.Config{})

	body, _ := json.Marshal(model.CleanupMessage{BeerID: "b1", BeerName: "IPA", Brewer: "Brewery A", BrewDescription: "hoppy"})
	err = cleanupHandler(p)(context.Background(), queue.Message{ID: "m1", Body: body})
	assert.NoError(t, err)
}

func TestCleanupHandler_InvalidBody(t *testing.T) {
	p := cleanup.New(nil, nil, nil, fakeLLM{}, nil, cleanup.Config{})
	err := cleanupHandler(p)(context.Background(), queue.Message{ID: "m1", Body: []byte("not json")})
	assert.Error(t, err)
}

func TestEnrichmentHandler_DisabledAcks(t *testing.T) {
	p := enrichment.New(nil, nil, fakePerplexity{}, enrichment.Config{Enabled: false})
	q := queue.NewMemory(8, queue.MemoryConfig{})

	body, _ := json.Marshal(model.EnrichmentMessage{BeerID: "b1"})
	err := enrichmentHandler(p)(q)(context.Background(), queue.Message{ID: "m1", Body: body})
	assert.NoError(t, err)
}
