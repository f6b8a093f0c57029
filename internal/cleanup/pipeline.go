// Package cleanup implements the bounded-parallel description-cleanup
// pipeline (spec.md §4.4): quota-gated admission, a concurrency-limited LLM
// cleanup pass with a latency circuit breaker, validation against the
// original description, and a fallback path when AI can't run at all.
package cleanup

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/taplist-enrich/internal/breaker"
	"github.com/sells-group/taplist-enrich/internal/model"
	"github.com/sells-group/taplist-enrich/internal/quota"
	"github.com/sells-group/taplist-enrich/internal/queue"
	"github.com/sells-group/taplist-enrich/internal/resilience"
	"github.com/sells-group/taplist-enrich/internal/store"
	"github.com/sells-group/taplist-enrich/pkg/workersai"
)

// cleanupSystemPrompt instructs the cleanup model to normalize markup
// without rewriting the substance of the description.
const cleanupSystemPrompt = `You clean up raw beer descriptions for display. Strip HTML tags and decode HTML entities. Do not rewrite, summarize, or embellish the content — preserve every fact, including any ABV percentage, exactly as written. Return only the cleaned text.`

const (
	successConfidence  = 0.9
	fallbackConfidence = 0.8
	minStoredABV       = 0.0
	maxStoredABV       = 70.0
)

// Disposition is the ack/retry decision the caller (the queue consumer)
// applies to a single message.
type Disposition string

const (
	DispositionAck   Disposition = "ack"
	DispositionRetry Disposition = "retry"
)

// Config tunes the pipeline's concurrency, timeouts, and daily quota.
type Config struct {
	MaxConcurrency int
	CallTimeout    time.Duration
	DailyLimit     int
	Model          string
	DBRetry        resilience.RetryConfig
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 10
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.DBRetry.MaxAttempts <= 0 {
		c.DBRetry = resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 100 * time.Millisecond,
			Multiplier:     2.0,
		}
	}
	return c
}

// Pipeline wires the collaborators the cleanup algorithm needs: a store,
// the shared quota reserver, a per-process breaker instance, the cleanup
// LLM, and the producer for the enrichment queue.
type Pipeline struct {
	store   store.Store
	quota   *quota.Reserver
	breaker *breaker.Breaker
	llm     workersai.Client
	enrichQ queue.Producer
	cfg     Config
}

// New builds a Pipeline. breaker must be a dedicated instance, not shared
// across unrelated pipelines (spec.md §4.6).
func New(s store.Store, q *quota.Reserver, br *breaker.Breaker, llm workersai.Client, enrichQ queue.Producer, cfg Config) *Pipeline {
	return &Pipeline{store: s, quota: q, breaker: br, llm: llm, enrichQ: enrichQ, cfg: cfg.withDefaults()}
}

// MessageOutcome pairs a processed message with its disposition.
type MessageOutcome struct {
	Message     model.CleanupMessage
	Disposition Disposition
}

type aiResultKind string

const (
	aiSuccess  aiResultKind = "success"
	aiFallback aiResultKind = "fallback"
	aiFailure  aiResultKind = "failure"
)

type aiResult struct {
	kind      aiResultKind
	cleaned   CleanResult
	err       error
	latencyMS int64
}

// pendingUpdate is a prepared store write plus the enrichment message it
// may also produce, queued up during categorization and applied in the
// batch database step.
type pendingUpdate struct {
	beerID string
	update store.CleanupUpdateInput
	enrich *model.EnrichmentMessage
}

// ProcessBatch runs the full phase ordering from spec.md §4.4 over one
// batch of CleanupMessages and returns a disposition per message, in the
// same order as the input.
func (p *Pipeline) ProcessBatch(ctx context.Context, batch []model.CleanupMessage) ([]MessageOutcome, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	outcomes := make([]MessageOutcome, len(batch))
	for i, m := range batch {
		outcomes[i] = MessageOutcome{Message: m}
	}

	// Phase 1: quota reservation.
	res, err := p.quota.ReserveBatch(ctx, model.QuotaScopeCleanup, len(batch), p.cfg.DailyLimit)
	if err != nil {
		zap.L().Warn("cleanup: quota reservation failed, retrying whole batch", zap.Error(err))
		for i := range outcomes {
			outcomes[i].Disposition = DispositionRetry
		}
		return outcomes, nil
	}

	toProcess := batch[:res.Reserved]
	quotaExceeded := batch[res.Reserved:]

	var pending []pendingUpdate

	// Phase 2: quota-exceeded fallback.
	for _, m := range quotaExceeded {
		pending = append(pending, buildFallbackUpdate(m, model.CleanupSourceFallbackQuota))
	}

	// Phase 3: bounded-parallel AI over to_process.
	var aiResults []aiResult
	if len(toProcess) > 0 {
		aiResults = p.runBoundedAI(ctx, toProcess)
	}

	// Phase 4: categorize & build operations. A failed AI call produces no
	// operation at all — it never reaches the database step and is retried
	// directly in phase 7.
	for i, m := range toProcess {
		if aiResults[i].kind == aiFailure {
			continue
		}
		pending = append(pending, p.categorize(m, aiResults[i]))
	}

	// Phase 5: database batch, with retry + exponential backoff.
	dbErr := resilience.Do(ctx, p.cfg.DBRetry, func(ctx context.Context) error {
		return p.applyPending(ctx, pending)
	})

	// Phase 6: perplexity enqueue, as a single batch.
	if dbErr == nil {
		p.enqueueEnrichments(ctx, pending)
	}

	// Phase 7: ack/retry disposition.
	byBeer := make(map[string]Disposition, len(pending))
	for _, u := range pending {
		if dbErr != nil {
			byBeer[u.beerID] = DispositionRetry
			continue
		}
		byBeer[u.beerID] = DispositionAck
	}
	for i, m := range quotaExceeded {
		idx := res.Reserved + i
		outcomes[idx].Disposition = byBeer[m.BeerID]
	}
	for i, m := range toProcess {
		if aiResults[i].kind == aiFailure {
			outcomes[i].Disposition = DispositionRetry
			continue
		}
		outcomes[i].Disposition = byBeer[m.BeerID]
	}

	return outcomes, nil
}

func (p *Pipeline) applyPending(ctx context.Context, pending []pendingUpdate) error {
	for _, u := range pending {
		if err := p.store.UpdateCleanup(ctx, u.beerID, u.update); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) enqueueEnrichments(ctx context.Context, pending []pendingUpdate) {
	var bodies [][]byte
	for _, u := range pending {
		if u.enrich == nil {
			continue
		}
		body, err := json.Marshal(u.enrich)
		if err != nil {
			zap.L().Error("cleanup: marshal enrichment message", zap.Error(err))
			continue
		}
		bodies = append(bodies, body)
	}
	if len(bodies) == 0 {
		return
	}
	if err := p.enrichQ.SendBatch(ctx, bodies); err != nil {
		zap.L().Warn("cleanup: perplexity enqueue failed, stale rows will be backfilled later", zap.Error(err))
	}
}

// runBoundedAI invokes callAI over msgs with precisely cfg.MaxConcurrency
// calls in flight: each completed call immediately admits the next pending
// one, with no barrier between sub-batches.
func (p *Pipeline) runBoundedAI(ctx context.Context, msgs []model.CleanupMessage) []aiResult {
	results := make([]aiResult, len(msgs))
	sem := make(chan struct{}, p.cfg.MaxConcurrency)
	var wg sync.WaitGroup

	for i, m := range msgs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, m model.CleanupMessage) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = p.callAI(ctx, m, i, len(msgs))
		}(i, m)
	}
	wg.Wait()
	return results
}

func (p *Pipeline) callAI(ctx context.Context, m model.CleanupMessage, index, total int) aiResult {
	if p.breaker.IsOpen() {
		return aiResult{kind: aiFallback}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel() // always cancel promptly; never leak the timer on success

	start := time.Now()
	resp, err := p.llm.Complete(callCtx, workersai.CompletionRequest{
		Model:     p.cfg.Model,
		MaxTokens: 512,
		System:    cleanupSystemPrompt,
		Prompt:    m.BrewDescription,
	})
	latencyMS := time.Since(start).Milliseconds()
	p.breaker.RecordLatency(int(latencyMS), index, total, m.BeerID, p.cfg.MaxConcurrency)

	if err != nil {
		return aiResult{kind: aiFailure, err: err, latencyMS: latencyMS}
	}
	resp.Usage.LogCost(p.cfg.Model)

	return aiResult{kind: aiSuccess, cleaned: CleanDescriptionSafely(m.BrewDescription, resp.Response), latencyMS: latencyMS}
}

// categorize maps one AI result to its stored update, per the four
// AI-reachable outcomes in spec.md §4.4.2's table (the fifth, failure,
// produces no update and never reaches this function — see ProcessBatch).
func (p *Pipeline) categorize(m model.CleanupMessage, r aiResult) pendingUpdate {
	if r.kind == aiFallback {
		return buildFallbackUpdate(m, model.CleanupSourceFallbackBreaker)
	}
	return buildSuccessUpdate(m, r.cleaned)
}

func buildSuccessUpdate(m model.CleanupMessage, cr CleanResult) pendingUpdate {
	upd := pendingUpdate{beerID: m.BeerID}

	if !cr.UsedOriginal {
		cleaned := cr.Cleaned
		source := model.CleanupSourceWorkersAI
		now := time.Now().UTC()
		upd.update.CleanedDescription = &cleaned
		upd.update.CleanupSource = &source
		upd.update.CleanedAt = &now
	}

	if abv, ok := storableABV(cr.ExtractedABV); ok {
		confidence := successConfidence
		source := model.EnrichmentSourceDescription
		upd.update.ABV = &abv
		upd.update.Confidence = &confidence
		upd.update.EnrichmentSource = &source
	} else {
		upd.enrich = &model.EnrichmentMessage{BeerID: m.BeerID, BeerName: m.BeerName, Brewer: m.Brewer}
	}

	return upd
}

// buildFallbackUpdate implements handleFallback (spec.md §4.4.2): regex-only
// ABV extraction over the original description when AI didn't run at all.
// It never decides ack/retry itself — ProcessBatch is the sole owner of
// message disposition, applied once the batched database write settles.
func buildFallbackUpdate(m model.CleanupMessage, source model.CleanupSource) pendingUpdate {
	upd := pendingUpdate{beerID: m.BeerID}
	upd.update.CleanupSource = &source

	if abv, ok := storableABV(ExtractABV(m.BrewDescription)); ok {
		confidence := fallbackConfidence
		enrichSource := model.EnrichmentSourceDescriptionFallback
		upd.update.ABV = &abv
		upd.update.Confidence = &confidence
		upd.update.EnrichmentSource = &enrichSource
	} else {
		upd.enrich = &model.EnrichmentMessage{BeerID: m.BeerID, BeerName: m.BeerName, Brewer: m.Brewer}
	}

	return upd
}

// storableABV reports whether an extracted ABV value falls within the
// Beer.ABV column's valid range; values outside it are treated the same as
// "not found" so a garbled extraction never violates the stored invariant.
func storableABV(v *float64) (float64, bool) {
	if v == nil || *v < minStoredABV || *v > maxStoredABV {
		return 0, false
	}
	return *v, true
}
