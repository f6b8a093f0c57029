// Package enrichment implements the per-message Perplexity ABV lookup
// (spec.md §4.5): a chain of admission guards ahead of a single upstream
// call, paced to stay within Perplexity's own rate limits.
package enrichment

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/taplist-enrich/internal/model"
	"github.com/sells-group/taplist-enrich/internal/quota"
	"github.com/sells-group/taplist-enrich/internal/store"
	"github.com/sells-group/taplist-enrich/pkg/perplexity"
)

const (
	enrichedConfidence = 0.7
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

// Config tunes the enrichment pipeline's pacing, limits, and model.
type Config struct {
	Enabled             bool
	PacingDelay         time.Duration
	RateLimitRetryDelay time.Duration
	DefaultRetryDelay   time.Duration
	DailyLimit          int
	MonthlyLimit        int
	Model               string
}

func (c Config) withDefaults() Config {
	if c.PacingDelay <= 0 {
		c.PacingDelay = 2 * time.Second
	}
	if c.RateLimitRetryDelay <= 0 {
		c.RateLimitRetryDelay = 120 * time.Second
	}
	if c.DefaultRetryDelay <= 0 {
		c.DefaultRetryDelay = 30 * time.Second
	}
	return c
}

// Pipeline wires the collaborators the enrichment algorithm needs.
type Pipeline struct {
	store   store.Store
	quota   *quota.Reserver
	client  perplexity.Client
	cfg     Config
	limiter *rate.Limiter
}

// New builds a Pipeline. limiter allows one call every cfg.PacingDelay, with
// a burst of one so a fresh batch's first message never waits.
func New(s store.Store, q *quota.Reserver, client perplexity.Client, cfg Config) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		store:   s,
		quota:   q,
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.PacingDelay), 1),
	}
}

// MessageOutcome is the disposition for one processed message, plus the
// delay a retry should be requeued with, if any.
type MessageOutcome struct {
	Message     model.EnrichmentMessage
	Disposition Disposition
	RetryDelay  time.Duration
}

func ack(m model.EnrichmentMessage) MessageOutcome {
	return MessageOutcome{Message: m, Disposition: DispositionAck}
}

func retryAfter(m model.EnrichmentMessage, delay time.Duration) MessageOutcome {
	return MessageOutcome{Message: m, Disposition: DispositionRetry, RetryDelay: delay}
}

// ProcessBatch runs ProcessMessage over each message in order, pacing every
// call through p.limiter so the batch as a whole respects Perplexity's rate
// limit regardless of how large it is.
func (p *Pipeline) ProcessBatch(ctx context.Context, batch []model.EnrichmentMessage) []MessageOutcome {
	outcomes := make([]MessageOutcome, len(batch))
	for i, m := range batch {
		if err := p.limiter.Wait(ctx); err != nil {
			for j := i; j < len(batch); j++ {
				outcomes[j] = retryAfter(batch[j], 0)
			}
			return outcomes
		}
		outcomes[i] = p.ProcessMessage(ctx, m)
	}
	return outcomes
}

// ProcessMessage runs the full 8-step flow from spec.md §4.5 for one
// message: kill switch, status guard, monthly limit, atomic daily slot
// reservation, upstream call, result write, and 429-aware error policy.
func (p *Pipeline) ProcessMessage(ctx context.Context, m model.EnrichmentMessage) MessageOutcome {
	if !p.cfg.Enabled {
		return ack(m)
	}

	beer, err := p.store.GetBeer(ctx, m.BeerID)
	if err != nil {
		zap.L().Warn("enrichment: beer lookup failed, retrying", zap.String("beer_id", m.BeerID), zap.Error(err))
		return retryAfter(m, p.cfg.DefaultRetryDelay)
	}
	if beer.EnrichmentStatus != model.EnrichmentStatusPending {
		return ack(m)
	}

	monthlyReached, err := p.quota.MonthlyLimitReached(ctx, model.QuotaScopeEnrichment, p.cfg.MonthlyLimit)
	if err != nil {
		zap.L().Warn("enrichment: monthly quota check failed, retrying", zap.Error(err))
		return retryAfter(m, p.cfg.DefaultRetryDelay)
	}
	if monthlyReached {
		return ack(m)
	}

	reserved, err := p.quota.ReserveSlot(ctx, model.QuotaScopeEnrichment, p.cfg.DailyLimit)
	if err != nil {
		zap.L().Warn("enrichment: daily quota reservation failed, retrying", zap.Error(err))
		return retryAfter(m, p.cfg.DefaultRetryDelay)
	}
	if !reserved {
		return ack(m)
	}

	resp, err := p.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Model: p.cfg.Model,
		Messages: []perplexity.Message{
			{Role: "user", Content: abvPrompt(m)},
		},
	})
	if err != nil {
		if isRateLimited(err) {
			zap.L().Info("enrichment: upstream rate limited, backing off", zap.String("beer_id", m.BeerID))
			return retryAfter(m, p.cfg.RateLimitRetryDelay)
		}
		zap.L().Warn("enrichment: upstream call failed, retrying", zap.String("beer_id", m.BeerID), zap.Error(err))
		return retryAfter(m, p.cfg.DefaultRetryDelay)
	}

	abv, found := parseABV(responseText(resp))
	if found {
		source := model.EnrichmentSourcePerplexity
		confidence := enrichedConfidence
		if err := p.store.UpdateEnrichment(ctx, m.BeerID, &abv, source, &confidence, model.EnrichmentStatusEnriched); err != nil {
			zap.L().Warn("enrichment: write enriched result failed, retrying", zap.Error(err))
			return retryAfter(m, p.cfg.DefaultRetryDelay)
		}
		return ack(m)
	}

	if err := p.store.UpdateEnrichment(ctx, m.BeerID, nil, "", nil, model.EnrichmentStatusNotFound); err != nil {
		zap.L().Warn("enrichment: write not-found result failed, retrying", zap.Error(err))
		return retryAfter(m, p.cfg.DefaultRetryDelay)
	}
	return ack(m)
}

func abvPrompt(m model.EnrichmentMessage) string {
	return fmt.Sprintf("What is the alcohol by volume (ABV) percentage of %q by %q? Reply with only the number, with no units or extra text. If you cannot find it, reply with \"unknown\".", m.BeerName, m.Brewer)
}

func responseText(resp *perplexity.ChatCompletionResponse) string {
	if resp == nil || len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}

var firstNumberPattern = regexp.MustCompile(`\d{1,3}(?:\.\d+)?`)

// parseABV extracts the first numeric token from text and accepts it only
// within the stored ABV range; anything else, including no number at all,
// is reported as not found.
func parseABV(text string) (float64, bool) {
	m := firstNumberPattern.FindString(text)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil || v < minStoredABV || v > maxStoredABV {
		return 0, false
	}
	return v, true
}

// isRateLimited reports whether err represents an exhausted-retry 429 from
// the Perplexity client. pkg/perplexity already retries 429s internally;
// by the time the error reaches here, it has exhausted its own backoff and
// this pipeline applies a much longer one before trying again.
func isRateLimited(err error) bool {
	return strings.Contains(err.Error(), "status 429")
}
