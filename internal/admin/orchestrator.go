// Package admin implements the manual enrichment trigger (spec.md §4.8): a
// read-only quota check followed by a bulk enqueue of eligible beers. It
// never reserves quota itself — each enqueued message still goes through
// the enrichment pipeline's own atomic daily slot reservation.
package admin

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taplist-enrich/internal/model"
	"github.com/sells-group/taplist-enrich/internal/queue"
	"github.com/sells-group/taplist-enrich/internal/quota"
	"github.com/sells-group/taplist-enrich/internal/store"
)

// maxTriggerBatch is the hard cap on effective_batch per spec.md §4.8 step 4,
// independent of any requested limit or remaining headroom.
const maxTriggerBatch = 100

// Config bounds how many beers a single trigger can enqueue.
type Config struct {
	Enabled      bool
	DailyLimit   int
	MonthlyLimit int
	BatchLimit   int
}

// Orchestrator wires the collaborators the trigger endpoint needs.
type Orchestrator struct {
	store   store.Store
	quota   *quota.Reserver
	enrichQ queue.Producer
	cfg     Config
}

// New builds an Orchestrator.
func New(s store.Store, q *quota.Reserver, enrichQ queue.Producer, cfg Config) *Orchestrator {
	return &Orchestrator{store: s, quota: q, enrichQ: enrichQ, cfg: cfg}
}

// Request carries the caller-supplied knobs from POST /admin/enrich/trigger.
type Request struct {
	// Limit caps how many beers this trigger enqueues; 0 means "use the
	// configured BatchLimit" (or no extra cap beyond quota headroom/100).
	Limit int
	// ExcludeFailures skips beers currently sitting in the DLQ as pending.
	ExcludeFailures bool
}

// Result reports the outcome of one Trigger call.
type Result struct {
	Triggered bool
	Enqueued  int
	Reason    string
}

// Trigger runs the full 7-step flow: kill switch, check the monthly limit,
// compute daily headroom, fetch that many beers missing ABV, and enqueue
// them as a single batch.
func (o *Orchestrator) Trigger(ctx context.Context, req Request) (Result, error) {
	if !o.cfg.Enabled {
		return Result{Reason: "kill_switch"}, nil
	}

	monthlyUsed, err := o.quota.MonthlyUsage(ctx, model.QuotaScopeEnrichment)
	if err != nil {
		return Result{}, eris.Wrap(err, "admin: monthly quota check")
	}
	if monthlyUsed >= o.cfg.MonthlyLimit {
		return Result{Reason: "monthly_limit"}, nil
	}
	monthlyRemaining := o.cfg.MonthlyLimit - monthlyUsed

	dailyUsed, err := o.quota.DailyUsage(ctx, model.QuotaScopeEnrichment)
	if err != nil {
		return Result{}, eris.Wrap(err, "admin: daily quota check")
	}
	dailyRemaining := o.cfg.DailyLimit - dailyUsed
	if dailyRemaining <= 0 {
		return Result{Reason: "daily_limit"}, nil
	}

	requestedLimit := req.Limit
	if requestedLimit <= 0 {
		requestedLimit = o.cfg.BatchLimit
	}
	if requestedLimit <= 0 {
		requestedLimit = maxTriggerBatch
	}

	limit := min(requestedLimit, dailyRemaining, monthlyRemaining, maxTriggerBatch)
	if limit <= 0 {
		return Result{Reason: "daily_limit"}, nil
	}

	beers, err := o.store.ListBeersMissingABV(ctx, limit, req.ExcludeFailures)
	if err != nil {
		return Result{}, eris.Wrap(err, "admin: list beers missing abv")
	}
	if len(beers) == 0 {
		return Result{Reason: "no_eligible_beers"}, nil
	}

	bodies := make([][]byte, 0, len(beers))
	for _, b := range beers {
		body, err := json.Marshal(model.EnrichmentMessage{BeerID: b.ID, BeerName: b.BrewName, Brewer: b.Brewer})
		if err != nil {
			zap.L().Error("admin: marshal enrichment message", zap.String("beer_id", b.ID), zap.Error(err))
			continue
		}
		bodies = append(bodies, body)
	}
	if len(bodies) == 0 {
		return Result{Reason: "no_eligible_beers"}, nil
	}

	if err := o.enrichQ.SendBatch(ctx, bodies); err != nil {
		return Result{}, eris.Wrap(err, "admin: enqueue batch")
	}

	return Result{Triggered: true, Enqueued: len(bodies)}, nil
}
