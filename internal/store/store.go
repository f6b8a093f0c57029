// Package store defines the durable persistence interface for the beer
// taplist enrichment pipeline: beer rows, rate-limit/quota counters, and the
// dead-letter queue. Every multi-row operation is executable as a single
// atomic statement against a SQLite-class relational backend.
package store

import (
	"context"
	"time"

	"github.com/sells-group/taplist-enrich/internal/model"
)

// UpsertBeerInput is the payload for UpsertBeer — a merchant-supplied sighting
// of a beer, as ingested from the upstream taplist.
type UpsertBeerInput struct {
	ID              string
	BrewName        string
	Brewer          string
	BrewDescription *string
	DescriptionHash *string
	// ParsedABV is an ABV value extracted deterministically from
	// BrewDescription at ingest time, if any. When set, UpsertBeer assigns
	// confidence 0.9 and enrichment_source 'description', unless the row
	// already carries a perplexity-sourced result, which always wins.
	ParsedABV *float64
}

// CleanupUpdateInput is the payload for UpdateCleanup. Nil fields leave the
// corresponding column unchanged — the cleanup pipeline only ever sets a
// field the first time a beer is processed, so "unchanged" and "still null"
// coincide in practice.
type CleanupUpdateInput struct {
	CleanedDescription *string
	CleanupSource      *model.CleanupSource
	CleanedAt          *time.Time
	ABV                *float64
	Confidence         *float64
	EnrichmentSource   *model.EnrichmentSource
}

// DlqFilter specifies criteria for ListDlq.
type DlqFilter struct {
	Status     model.DlqStatus
	BeerID     string
	Cursor     string
	Limit      int
	IncludeRaw bool
}

// DlqListResult is the cursor-paginated result of ListDlq.
type DlqListResult struct {
	Messages   []model.DlqMessage
	HasMore    bool
	NextCursor string
}

// DlqStatusCount is one row of the status-group-count in DlqStats.
type DlqStatusCount struct {
	Status model.DlqStatus
	Count  int
}

// DlqBrewerCount is one row of the top-failing-brewers stat.
type DlqBrewerCount struct {
	Brewer string
	Count  int
}

// DlqStats aggregates dead-letter-queue health for the stats endpoint.
type DlqStats struct {
	ByStatus           []DlqStatusCount
	OldestPendingAge   time.Duration
	TopFailingBrewers  []DlqBrewerCount
	Last24hFailed      int
	Last24hReplayed    int
	Last24hAcked       int
	MostReplayedBeers  []DlqBrewerCount // keyed by beer_id, Count = replay_count
}

// ReplayCandidate is a claimed DLQ row ready for the replay consumer to
// attempt re-enqueuing.
type ReplayCandidate struct {
	ID         int64
	MessageID  string
	RawMessage string
	SourceQueue model.SourceQueue
}

// Store is the persistence interface for the enrichment pipeline's core.
type Store interface {
	// Beer
	UpsertBeer(ctx context.Context, in UpsertBeerInput) (*model.Beer, error)
	UpdateEnrichment(ctx context.Context, beerID string, abv *float64, source model.EnrichmentSource, confidence *float64, status model.EnrichmentStatus) error
	UpdateCleanup(ctx context.Context, beerID string, in CleanupUpdateInput) error
	GetBeer(ctx context.Context, id string) (*model.Beer, error)
	ListBeers(ctx context.Context, ids []string) ([]model.Beer, error)
	ListBeersMissingABV(ctx context.Context, limit int, excludeDLQPending bool) ([]model.Beer, error)

	// Admission (fixed-window rate limiter, §4.2)
	IncrementRateLimit(ctx context.Context, key string, bucket int64) (count int64, err error)
	PurgeRateLimits(ctx context.Context, olderThanBucket int64) (int, error)

	// Quota Reserver (§4.3)
	ReserveQuotaBatch(ctx context.Context, scope model.QuotaScope, date string, requested, dailyLimit int) (reserved, remaining int, err error)
	ReserveQuotaSlot(ctx context.Context, scope model.QuotaScope, date string, dailyLimit int) (newCount int, reserved bool, err error)
	GetDailyQuotaCount(ctx context.Context, scope model.QuotaScope, date string) (int, error)
	GetMonthlyQuotaSum(ctx context.Context, scope model.QuotaScope, monthStart, monthEndExclusive string) (int, error)
	PurgeDailyQuota(ctx context.Context, cutoffDate string) (int, error)

	// DLQ Subsystem (§4.7)
	IngestDLQ(ctx context.Context, entry model.DlqMessage) error
	ClaimDlqForReplay(ctx context.Context, ids []int64) ([]ReplayCandidate, error)
	RollbackDlq(ctx context.Context, ids []int64) error
	MarkReplayed(ctx context.Context, ids []int64, now time.Time) error
	MarkAcknowledged(ctx context.Context, ids []int64, now time.Time) error
	ListDlq(ctx context.Context, filter DlqFilter) (*DlqListResult, error)
	DlqStatsSnapshot(ctx context.Context) (*DlqStats, error)
	PurgeDlq(ctx context.Context, status model.DlqStatus, olderThan time.Time, batchLimit int) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// MonthBounds returns the UTC month-start (inclusive) and next-month-start
// (exclusive) date strings for t's month, used for monthly quota sums. It
// derives the end by adding one calendar month to the month's first day
// rather than a fixed 31 days (spec.md §9, open question (b)).
func MonthBounds(t time.Time) (start, endExclusive string) {
	y, m, _ := t.Date()
	monthStart := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	nextMonthStart := monthStart.AddDate(0, 1, 0)
	return monthStart.Format("2006-01-02"), nextMonthStart.Format("2006-01-02")
}
