// Package quota implements the daily/monthly quota reserver (spec.md §4.3):
// atomic batch and single-slot reservations against the store's
// CASE-guarded SQL counters, plus the monthly-limit check shared by the
// enrichment pipeline and the admin trigger endpoint.
package quota

import (
	"context"
	"time"

	"github.com/sells-group/taplist-enrich/internal/model"
	"github.com/sells-group/taplist-enrich/internal/store"
)

// Reserver wraps a Store with the quota operations the cleanup and
// enrichment pipelines need.
type Reserver struct {
	store store.Store
	now   func() time.Time
}

// New builds a Reserver backed by s.
func New(s store.Store) *Reserver {
	return &Reserver{store: s, now: time.Now}
}

// BatchResult is the outcome of reserving a block of daily quota slots.
type BatchResult struct {
	Reserved  int
	Remaining int
}

// ReserveBatch atomically reserves `requested` slots of today's daily quota
// for scope, never exceeding dailyLimit. The reservation is all-or-nothing:
// Reserved is either requested or zero (when the whole batch would not fit
// under the limit); callers must size downstream work to Reserved, not
// requested.
func (r *Reserver) ReserveBatch(ctx context.Context, scope model.QuotaScope, requested, dailyLimit int) (BatchResult, error) {
	date := r.today()
	reserved, remaining, err := r.store.ReserveQuotaBatch(ctx, scope, date, requested, dailyLimit)
	if err != nil {
		return BatchResult{}, err
	}
	return BatchResult{Reserved: reserved, Remaining: remaining}, nil
}

// ReserveSlot attempts a single-message reservation: the enrichment
// pipeline's per-message variant of ReserveBatch.
func (r *Reserver) ReserveSlot(ctx context.Context, scope model.QuotaScope, dailyLimit int) (bool, error) {
	date := r.today()
	_, reserved, err := r.store.ReserveQuotaSlot(ctx, scope, date, dailyLimit)
	if err != nil {
		return false, err
	}
	return reserved, nil
}

// MonthlyUsage sums scope's daily quota rows for the current UTC month.
func (r *Reserver) MonthlyUsage(ctx context.Context, scope model.QuotaScope) (int, error) {
	start, end := store.MonthBounds(r.now())
	return r.store.GetMonthlyQuotaSum(ctx, scope, start, end)
}

// MonthlyLimitReached reports whether scope's current-month usage has
// already reached monthlyLimit.
func (r *Reserver) MonthlyLimitReached(ctx context.Context, scope model.QuotaScope, monthlyLimit int) (bool, error) {
	used, err := r.MonthlyUsage(ctx, scope)
	if err != nil {
		return false, err
	}
	return used >= monthlyLimit, nil
}

// DailyUsage returns today's request count for scope, with no mutation.
func (r *Reserver) DailyUsage(ctx context.Context, scope model.QuotaScope) (int, error) {
	return r.store.GetDailyQuotaCount(ctx, scope, r.today())
}

func (r *Reserver) today() string {
	return r.now().UTC().Format("2006-01-02")
}
