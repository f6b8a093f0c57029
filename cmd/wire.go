package main

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/taplist-enrich/internal/admin"
	"github.com/sells-group/taplist-enrich/internal/admission"
	"github.com/sells-group/taplist-enrich/internal/breaker"
	"github.com/sells-group/taplist-enrich/internal/cleanup"
	"github.com/sells-group/taplist-enrich/internal/config"
	"github.com/sells-group/taplist-enrich/internal/dlq"
	"github.com/sells-group/taplist-enrich/internal/enrichment"
	"github.com/sells-group/taplist-enrich/internal/httpapi"
	"github.com/sells-group/taplist-enrich/internal/model"
	"github.com/sells-group/taplist-enrich/internal/queue"
	"github.com/sells-group/taplist-enrich/internal/quota"
	"github.com/sells-group/taplist-enrich/internal/store"
	"github.com/sells-group/taplist-enrich/pkg/perplexity"
	"github.com/sells-group/taplist-enrich/pkg/taplist"
	"github.com/sells-group/taplist-enrich/pkg/workersai"
)

// queueMaxDeliveries caps in-memory redelivery attempts before a message is
// handed to the dead-letter subsystem.
const queueMaxDeliveries = 5

// app wires every collaborator the CLI subcommands depend on. Built once
// per process from the loaded config.
type app struct {
	cfg *config.Config

	store store.Store

	admission *admission.Limiter
	quota     *quota.Reserver
	breaker   *breaker.Breaker

	cleanupQueue *queue.Memory
	enrichQueue  *queue.Memory

	dlq      *dlq.Subsystem
	cleanupP *cleanup.Pipeline
	enrichP  *enrichment.Pipeline
	admin    *admin.Orchestrator

	taplist        taplist.Client
	storeAllowList *httpapi.StoreAllowList
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	st, err := newStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		store:     st,
		admission: admission.New(st),
		quota:     quota.New(st),
		breaker: breaker.New(breaker.Config{
			SlowCallLimit:   cfg.Breaker.SlowCallLimit,
			SlowThresholdMS: cfg.Breaker.SlowThresholdMS,
			ResetTimeout:    time.Duration(cfg.Breaker.ResetTimeoutMS) * time.Millisecond,
		}),
	}

	a.cleanupQueue = queue.NewMemory(1024, queue.MemoryConfig{
		Concurrency:   cfg.Cleanup.MaxConcurrency,
		MaxDeliveries: queueMaxDeliveries,
		DeadLetter:    a.deadLetter(model.SourceQueueCleanup),
	})
	a.enrichQueue = queue.NewMemory(1024, queue.MemoryConfig{
		Concurrency:   1, // the enrichment pipeline paces itself; fan-out would defeat that.
		MaxDeliveries: queueMaxDeliveries,
		DeadLetter:    a.deadLetter(model.SourceQueueEnrichment),
	})

	a.dlq = dlq.New(st, map[model.SourceQueue]queue.Producer{
		model.SourceQueueCleanup:    a.cleanupQueue,
		model.SourceQueueEnrichment: a.enrichQueue,
	})

	llm := workersai.NewClient(cfg.Secrets.WorkersAIAPIKey)
	a.cleanupP = cleanup.New(st, a.quota, a.breaker, llm, a.enrichQueue, cleanup.Config{
		MaxConcurrency: cfg.Cleanup.MaxConcurrency,
		CallTimeout:    time.Duration(cfg.Cleanup.CallTimeoutMS) * time.Millisecond,
		DailyLimit:     cfg.Quota.DailyCleanupLimit,
		Model:          cfg.WorkersAI.Model,
	})

	ppx := perplexity.NewClient(cfg.Secrets.PerplexityAPIKey, perplexity.WithBaseURL(cfg.Perplexity.BaseURL), perplexity.WithModel(cfg.Perplexity.Model))
	a.enrichP = enrichment.New(st, a.quota, ppx, enrichment.Config{
		Enabled:             cfg.Enrichment.Enabled,
		PacingDelay:         time.Duration(cfg.Enrichment.PacingMS) * time.Millisecond,
		RateLimitRetryDelay: time.Duration(cfg.Enrichment.RateLimitRetryMS) * time.Millisecond,
		DefaultRetryDelay:   time.Duration(cfg.Enrichment.DefaultRetryDelayMS) * time.Millisecond,
		DailyLimit:          cfg.Quota.DailyEnrichmentLimit,
		MonthlyLimit:        cfg.Quota.MonthlyEnrichmentLimit,
		Model:               cfg.Perplexity.Model,
	})

	a.admin = admin.New(st, a.quota, a.enrichQueue, admin.Config{
		Enabled:      cfg.Enrichment.Enabled,
		DailyLimit:   cfg.Quota.DailyEnrichmentLimit,
		MonthlyLimit: cfg.Quota.MonthlyEnrichmentLimit,
		BatchLimit:   cfg.Quota.EnrichmentTriggerBatchLimit,
	})

	a.taplist = taplist.NewClient(taplist.WithBaseURL(cfg.Taplist.BaseURL))
	a.storeAllowList = httpapi.NewStoreAllowList(cfg.Taplist.AllowedStoreIDs)

	return a, nil
}

// deadLetter builds the callback Memory queues invoke once a message
// exhausts MaxDeliveries, routing it into the durable DLQ so it can be
// inspected and replayed later instead of silently dropped.
func (a *app) deadLetter(sourceQueue model.SourceQueue) func(ctx context.Context, msg queue.Message, lastErr error) {
	return func(ctx context.Context, msg queue.Message, lastErr error) {
		entry := model.DlqMessage{
			MessageID:    msg.ID,
			SourceQueue:  sourceQueue,
			RawMessage:   string(msg.Body),
			FailedAt:     time.Now().UTC(),
			FailureCount: queueMaxDeliveries,
		}

		switch sourceQueue {
		case model.SourceQueueCleanup:
			var cm model.CleanupMessage
			if err := json.Unmarshal(msg.Body, &cm); err == nil {
				entry.BeerID, entry.BeerName, entry.Brewer = cm.BeerID, cm.BeerName, cm.Brewer
			}
		case model.SourceQueueEnrichment:
			var em model.EnrichmentMessage
			if err := json.Unmarshal(msg.Body, &em); err == nil {
				entry.BeerID, entry.BeerName, entry.Brewer = em.BeerID, em.BeerName, em.Brewer
			}
		}

		if err := a.dlq.Ingest(ctx, entry); err != nil {
			zap.L().Error("wire: dlq ingest failed after exhausted retries",
				zap.String("source_queue", string(sourceQueue)), zap.Error(lastErr), zap.Error(err))
		}
	}
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		zap.L().Warn("wire: store close failed", zap.Error(err))
	}
}
