package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // register the pure-Go SQLite driver

	"github.com/sells-group/taplist-enrich/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if !strings.Contains(dsn, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(10)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}

	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS enriched_beers (
	id                        TEXT PRIMARY KEY,
	brew_name                 TEXT NOT NULL,
	brewer                    TEXT NOT NULL,
	brew_description          TEXT,
	description_hash          TEXT,
	brew_description_cleaned  TEXT,
	description_cleaned_at    DATETIME,
	cleanup_source            TEXT,
	abv                       REAL,
	confidence                REAL,
	enrichment_source         TEXT,
	enrichment_status         TEXT NOT NULL DEFAULT 'pending',
	last_seen_at              DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at                DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_beers_abv_null ON enriched_beers(id) WHERE abv IS NULL;

CREATE TABLE IF NOT EXISTS rate_limits (
	client_identifier TEXT NOT NULL,
	minute_bucket     INTEGER NOT NULL,
	request_count     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (client_identifier, minute_bucket)
);

CREATE TABLE IF NOT EXISTS enrichment_limits (
	date          TEXT PRIMARY KEY,
	request_count INTEGER NOT NULL DEFAULT 0,
	last_updated  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS cleanup_limits (
	date          TEXT PRIMARY KEY,
	request_count INTEGER NOT NULL DEFAULT 0,
	last_updated  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dlq_messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id      TEXT NOT NULL UNIQUE,
	beer_id         TEXT NOT NULL,
	beer_name       TEXT NOT NULL,
	brewer          TEXT NOT NULL,
	failed_at       DATETIME NOT NULL,
	failure_count   INTEGER NOT NULL DEFAULT 0,
	source_queue    TEXT NOT NULL,
	raw_message     TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	replay_count    INTEGER NOT NULL DEFAULT 0,
	replayed_at     DATETIME,
	acknowledged_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_dlq_status ON dlq_messages(status);
CREATE INDEX IF NOT EXISTS idx_dlq_beer_id ON dlq_messages(beer_id);
CREATE INDEX IF NOT EXISTS idx_dlq_failed_at ON dlq_messages(failed_at DESC, id DESC);
`

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate implements Store.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// UpsertBeer implements Store. On conflict, refuses to overwrite a row whose
// enrichment_source = 'perplexity'. When in.ParsedABV is set and the
// existing row isn't perplexity-sourced, it adopts the new ABV at confidence
// 0.9 with source 'description'.
func (s *SQLiteStore) UpsertBeer(ctx context.Context, in UpsertBeerInput) (*model.Beer, error) {
	now := time.Now().UTC()

	var abv, confidence any
	var source any
	if in.ParsedABV != nil {
		abv = *in.ParsedABV
		confidence = 0.9
		source = string(model.EnrichmentSourceDescription)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO enriched_beers (id, brew_name, brewer, brew_description, description_hash, abv, confidence, enrichment_source, enrichment_status, last_seen_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			brew_name        = excluded.brew_name,
			brewer           = excluded.brewer,
			brew_description = excluded.brew_description,
			description_hash = excluded.description_hash,
			abv = CASE WHEN enriched_beers.enrichment_source = 'perplexity' THEN enriched_beers.abv
			           WHEN excluded.abv IS NOT NULL THEN excluded.abv
			           ELSE enriched_beers.abv END,
			confidence = CASE WHEN enriched_beers.enrichment_source = 'perplexity' THEN enriched_beers.confidence
			           WHEN excluded.abv IS NOT NULL THEN excluded.confidence
			           ELSE enriched_beers.confidence END,
			enrichment_source = CASE WHEN enriched_beers.enrichment_source = 'perplexity' THEN enriched_beers.enrichment_source
			           WHEN excluded.abv IS NOT NULL THEN excluded.enrichment_source
			           ELSE enriched_beers.enrichment_source END,
			last_seen_at = excluded.last_seen_at,
			updated_at   = excluded.updated_at
		RETURNING id, brew_name, brewer, brew_description, description_hash, brew_description_cleaned,
		          description_cleaned_at, cleanup_source, abv, confidence, enrichment_source,
		          enrichment_status, last_seen_at, updated_at`,
		in.ID, in.BrewName, in.Brewer, in.BrewDescription, in.DescriptionHash, abv, confidence, source, now, now,
	)
	return scanBeer(row)
}

// UpdateEnrichment implements Store: an unconditional update of the ABV
// triple and status, used by the enrichment pipeline's result-write step.
func (s *SQLiteStore) UpdateEnrichment(ctx context.Context, beerID string, abv *float64, source model.EnrichmentSource, confidence *float64, status model.EnrichmentStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE enriched_beers
		SET abv = ?, confidence = ?, enrichment_source = ?, enrichment_status = ?, updated_at = ?
		WHERE id = ?`,
		abv, confidence, string(source), string(status), time.Now().UTC(), beerID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update enrichment %s", beerID)
	}
	return checkRowsAffected(res, "beer", beerID)
}

// UpdateCleanup implements Store: the cleanup pipeline's result-write step,
// setting whichever of the cleaned-description and ABV fields apply to this
// outcome (see spec.md §4.4.2's outcome table) while leaving the rest
// untouched.
func (s *SQLiteStore) UpdateCleanup(ctx context.Context, beerID string, in CleanupUpdateInput) error {
	var cleanupSource, enrichmentSource any
	if in.CleanupSource != nil {
		cleanupSource = string(*in.CleanupSource)
	}
	if in.EnrichmentSource != nil {
		enrichmentSource = string(*in.EnrichmentSource)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE enriched_beers SET
			brew_description_cleaned = COALESCE(?, brew_description_cleaned),
			cleanup_source           = COALESCE(?, cleanup_source),
			description_cleaned_at   = COALESCE(?, description_cleaned_at),
			abv                      = COALESCE(?, abv),
			confidence               = COALESCE(?, confidence),
			enrichment_source        = COALESCE(?, enrichment_source),
			updated_at               = ?
		WHERE id = ?`,
		in.CleanedDescription, cleanupSource, in.CleanedAt, in.ABV, in.Confidence, enrichmentSource,
		time.Now().UTC(), beerID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update cleanup %s", beerID)
	}
	return checkRowsAffected(res, "beer", beerID)
}

// GetBeer implements Store.
func (s *SQLiteStore) GetBeer(ctx context.Context, id string) (*model.Beer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, brew_name, brewer, brew_description, description_hash, brew_description_cleaned,
		       description_cleaned_at, cleanup_source, abv, confidence, enrichment_source,
		       enrichment_status, last_seen_at, updated_at
		FROM enriched_beers WHERE id = ?`, id)
	return scanBeer(row)
}

// ListBeers implements Store.
func (s *SQLiteStore) ListBeers(ctx context.Context, ids []string) ([]model.Beer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(ids)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, brew_name, brewer, brew_description, description_hash, brew_description_cleaned,
		       description_cleaned_at, cleanup_source, abv, confidence, enrichment_source,
		       enrichment_status, last_seen_at, updated_at
		FROM enriched_beers WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list beers")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Beer
	for rows.Next() {
		b, err := scanBeer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list beers iterate")
}

// ListBeersMissingABV implements Store, used by the admin orchestrator (§4.8).
func (s *SQLiteStore) ListBeersMissingABV(ctx context.Context, limit int, excludeDLQPending bool) ([]model.Beer, error) {
	query := `SELECT id, brew_name, brewer, brew_description, description_hash, brew_description_cleaned,
	                 description_cleaned_at, cleanup_source, abv, confidence, enrichment_source,
	                 enrichment_status, last_seen_at, updated_at
	          FROM enriched_beers WHERE abv IS NULL`
	if excludeDLQPending {
		query += ` AND id NOT IN (SELECT beer_id FROM dlq_messages WHERE status = 'pending')`
	}
	query += ` ORDER BY last_seen_at ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list beers missing abv")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Beer
	for rows.Next() {
		b, err := scanBeer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list beers missing abv iterate")
}

// IncrementRateLimit implements Store (§4.2 step 2): a single atomic
// upsert-and-increment, returning the post-increment count.
func (s *SQLiteStore) IncrementRateLimit(ctx context.Context, key string, bucket int64) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO rate_limits (client_identifier, minute_bucket, request_count)
		VALUES (?, ?, 1)
		ON CONFLICT(client_identifier, minute_bucket) DO UPDATE SET request_count = request_count + 1
		RETURNING request_count`,
		key, bucket,
	)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, eris.Wrap(err, "sqlite: increment rate limit")
	}
	return count, nil
}

// PurgeRateLimits implements Store (§4.2 step 4, the sampled GC sweep).
func (s *SQLiteStore) PurgeRateLimits(ctx context.Context, olderThanBucket int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE minute_bucket < ?`, olderThanBucket)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge rate limits")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func quotaTable(scope model.QuotaScope) string {
	if scope == model.QuotaScopeCleanup {
		return "cleanup_limits"
	}
	return "enrichment_limits"
}

// ReserveQuotaBatch implements Store (§4.3 batch variant).
func (s *SQLiteStore) ReserveQuotaBatch(ctx context.Context, scope model.QuotaScope, date string, requested, dailyLimit int) (int, int, error) {
	table := quotaTable(scope)
	now := time.Now().UTC()

	if _, err := s.db.ExecContext(ctx, `INSERT INTO `+table+` (date, request_count, last_updated) VALUES (?, 0, ?) ON CONFLICT(date) DO NOTHING`, date, now); err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: ensure quota row")
	}

	var oldCount int
	if err := s.db.QueryRowContext(ctx, `SELECT request_count FROM `+table+` WHERE date = ?`, date).Scan(&oldCount); err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: read quota old count")
	}

	var newCount int
	row := s.db.QueryRowContext(ctx, `
		UPDATE `+table+`
		SET request_count = CASE WHEN request_count + ? <= ? THEN request_count + ? ELSE request_count END,
		    last_updated = ?
		WHERE date = ?
		RETURNING request_count`,
		requested, dailyLimit, requested, now, date,
	)
	if err := row.Scan(&newCount); err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: reserve quota batch")
	}

	reserved := newCount - oldCount
	if reserved < 0 {
		reserved = 0
	}
	remaining := dailyLimit - newCount
	if remaining < 0 {
		remaining = 0
	}
	return reserved, remaining, nil
}

// ReserveQuotaSlot implements Store (§4.3 per-message slot variant).
func (s *SQLiteStore) ReserveQuotaSlot(ctx context.Context, scope model.QuotaScope, date string, dailyLimit int) (int, bool, error) {
	table := quotaTable(scope)
	now := time.Now().UTC()

	if _, err := s.db.ExecContext(ctx, `INSERT INTO `+table+` (date, request_count, last_updated) VALUES (?, 0, ?) ON CONFLICT(date) DO NOTHING`, date, now); err != nil {
		return 0, false, eris.Wrap(err, "sqlite: ensure quota row")
	}

	var before int
	if err := s.db.QueryRowContext(ctx, `SELECT request_count FROM `+table+` WHERE date = ?`, date).Scan(&before); err != nil {
		return 0, false, eris.Wrap(err, "sqlite: read quota slot before")
	}

	var newCount int
	row := s.db.QueryRowContext(ctx, `
		UPDATE `+table+`
		SET request_count = CASE WHEN request_count < ? THEN request_count + 1 ELSE request_count END,
		    last_updated = ?
		WHERE date = ?
		RETURNING request_count`,
		dailyLimit, now, date,
	)
	if err := row.Scan(&newCount); err != nil {
		return 0, false, eris.Wrap(err, "sqlite: reserve quota slot")
	}

	return newCount, newCount > before, nil
}

// GetDailyQuotaCount implements Store.
func (s *SQLiteStore) GetDailyQuotaCount(ctx context.Context, scope model.QuotaScope, date string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT request_count FROM `+quotaTable(scope)+` WHERE date = ?`, date).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, eris.Wrap(err, "sqlite: get daily quota count")
}

// GetMonthlyQuotaSum implements Store.
func (s *SQLiteStore) GetMonthlyQuotaSum(ctx context.Context, scope model.QuotaScope, monthStart, monthEndExclusive string) (int, error) {
	var sum sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(request_count) FROM `+quotaTable(scope)+` WHERE date >= ? AND date < ?`,
		monthStart, monthEndExclusive,
	).Scan(&sum)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: get monthly quota sum")
	}
	return int(sum.Int64), nil
}

// PurgeDailyQuota implements Store.
func (s *SQLiteStore) PurgeDailyQuota(ctx context.Context, cutoffDate string) (int, error) {
	res1, err := s.db.ExecContext(ctx, `DELETE FROM enrichment_limits WHERE date < ?`, cutoffDate)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge enrichment quota")
	}
	res2, err := s.db.ExecContext(ctx, `DELETE FROM cleanup_limits WHERE date < ?`, cutoffDate)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge cleanup quota")
	}
	n1, _ := res1.RowsAffected()
	n2, _ := res2.RowsAffected()
	return int(n1 + n2), nil
}

// IngestDLQ implements Store (§4.7.1): on message_id conflict, re-opens the
// row to pending with refreshed failed_at/failure_count/raw_message.
func (s *SQLiteStore) IngestDLQ(ctx context.Context, entry model.DlqMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dlq_messages (message_id, beer_id, beer_name, brewer, failed_at, failure_count, source_queue, raw_message, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending')
		ON CONFLICT(message_id) DO UPDATE SET
			status        = 'pending',
			failed_at     = excluded.failed_at,
			failure_count = excluded.failure_count,
			raw_message   = excluded.raw_message`,
		entry.MessageID, entry.BeerID, entry.BeerName, entry.Brewer,
		entry.FailedAt.UTC(), entry.FailureCount, string(entry.SourceQueue), entry.RawMessage,
	)
	return eris.Wrap(err, "sqlite: ingest dlq")
}

// ClaimDlqForReplay implements Store (§4.7.2 step 1): a conditional update
// bounded to pending rows, returning exactly the rows actually claimed.
func (s *SQLiteStore) ClaimDlqForReplay(ctx context.Context, ids []int64) ([]ReplayCandidate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders, args := inClauseInt64(ids)
	rows, err := s.db.QueryContext(ctx, `
		UPDATE dlq_messages SET status = 'replaying'
		WHERE id IN (`+placeholders+`) AND status = 'pending'
		RETURNING id, message_id, raw_message, source_queue`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: claim dlq for replay")
	}
	defer rows.Close() //nolint:errcheck

	var claimed []ReplayCandidate
	for rows.Next() {
		var c ReplayCandidate
		var sq string
		if err := rows.Scan(&c.ID, &c.MessageID, &c.RawMessage, &sq); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan claimed dlq row")
		}
		c.SourceQueue = model.SourceQueue(sq)
		claimed = append(claimed, c)
	}
	return claimed, eris.Wrap(rows.Err(), "sqlite: claim dlq iterate")
}

// RollbackDlq implements Store (§4.7.2: replaying --enqueue fail--> pending).
func (s *SQLiteStore) RollbackDlq(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, args := inClauseInt64(ids)
	_, err := s.db.ExecContext(ctx, `UPDATE dlq_messages SET status = 'pending' WHERE id IN (`+placeholders+`)`, args...)
	return eris.Wrap(err, "sqlite: rollback dlq")
}

// MarkReplayed implements Store.
func (s *SQLiteStore) MarkReplayed(ctx context.Context, ids []int64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, args := inClauseInt64(ids)
	args = append([]any{now.UTC()}, args...)
	_, err := s.db.ExecContext(ctx, `
		UPDATE dlq_messages SET status = 'replayed', replay_count = replay_count + 1, replayed_at = ?
		WHERE id IN (`+placeholders+`)`, args...)
	return eris.Wrap(err, "sqlite: mark replayed")
}

// MarkAcknowledged implements Store (pending -> acknowledged only).
func (s *SQLiteStore) MarkAcknowledged(ctx context.Context, ids []int64, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders, args := inClauseInt64(ids)
	args = append([]any{now.UTC()}, args...)
	_, err := s.db.ExecContext(ctx, `
		UPDATE dlq_messages SET status = 'acknowledged', acknowledged_at = ?
		WHERE id IN (`+placeholders+`) AND status = 'pending'`, args...)
	return eris.Wrap(err, "sqlite: mark acknowledged")
}

// ListDlq implements Store: cursor-paginated, descending (failed_at, id).
func (s *SQLiteStore) ListDlq(ctx context.Context, filter DlqFilter) (*DlqListResult, error) {
	status := filter.Status
	if status == "" {
		status = model.DlqStatusPending
	}
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := `SELECT id, message_id, beer_id, beer_name, brewer, failed_at, failure_count, source_queue,
	                 raw_message, status, replay_count, replayed_at, acknowledged_at
	          FROM dlq_messages WHERE status = ?`
	args := []any{string(status)}

	if filter.BeerID != "" {
		query += ` AND beer_id = ?`
		args = append(args, filter.BeerID)
	}
	if filter.Cursor != "" {
		c, err := decodeDlqCursor(filter.Cursor)
		if err != nil {
			return nil, err
		}
		query += ` AND (failed_at < ? OR (failed_at = ? AND id < ?))`
		args = append(args, c.FailedAt.UTC(), c.FailedAt.UTC(), c.ID)
	}
	query += ` ORDER BY failed_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close() //nolint:errcheck

	var msgs []model.DlqMessage
	for rows.Next() {
		m, err := scanDlqMessage(rows)
		if err != nil {
			return nil, err
		}
		if !filter.IncludeRaw {
			m.RawMessage = ""
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq iterate")
	}

	result := &DlqListResult{Messages: msgs}
	if len(msgs) > limit {
		last := msgs[limit-1]
		result.Messages = msgs[:limit]
		result.HasMore = true
		result.NextCursor = encodeDlqCursor(last.FailedAt, last.ID)
	}
	return result, nil
}

// DlqStatsSnapshot implements Store.
func (s *SQLiteStore) DlqStatsSnapshot(ctx context.Context) (*DlqStats, error) {
	stats := &DlqStats{}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM dlq_messages GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dlq stats by status")
	}
	for rows.Next() {
		var sc DlqStatusCount
		var status string
		if err := rows.Scan(&status, &sc.Count); err != nil {
			rows.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		sc.Status = model.DlqStatus(status)
		stats.ByStatus = append(stats.ByStatus, sc)
	}
	rows.Close() //nolint:errcheck

	var oldestPending sql.NullTime
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(failed_at) FROM dlq_messages WHERE status = 'pending'`).Scan(&oldestPending); err != nil {
		return nil, eris.Wrap(err, "sqlite: oldest pending")
	}
	if oldestPending.Valid {
		stats.OldestPendingAge = time.Since(oldestPending.Time)
	}

	brewerRows, err := s.db.QueryContext(ctx, `
		SELECT brewer, COUNT(*) c FROM dlq_messages WHERE status = 'pending'
		GROUP BY brewer ORDER BY c DESC LIMIT 10`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: top failing brewers")
	}
	for brewerRows.Next() {
		var bc DlqBrewerCount
		if err := brewerRows.Scan(&bc.Brewer, &bc.Count); err != nil {
			brewerRows.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "sqlite: scan brewer count")
		}
		stats.TopFailingBrewers = append(stats.TopFailingBrewers, bc)
	}
	brewerRows.Close() //nolint:errcheck

	since := time.Now().UTC().Add(-24 * time.Hour)
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dlq_messages WHERE failed_at >= ?`, since).Scan(&stats.Last24hFailed); err != nil {
		return nil, eris.Wrap(err, "sqlite: last24h failed")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dlq_messages WHERE replayed_at >= ?`, since).Scan(&stats.Last24hReplayed); err != nil {
		return nil, eris.Wrap(err, "sqlite: last24h replayed")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dlq_messages WHERE acknowledged_at >= ?`, since).Scan(&stats.Last24hAcked); err != nil {
		return nil, eris.Wrap(err, "sqlite: last24h acked")
	}

	mostReplayed, err := s.db.QueryContext(ctx, `
		SELECT beer_id, replay_count FROM dlq_messages WHERE replay_count > 0
		ORDER BY replay_count DESC LIMIT 10`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: most replayed beers")
	}
	defer mostReplayed.Close() //nolint:errcheck
	for mostReplayed.Next() {
		var bc DlqBrewerCount
		if err := mostReplayed.Scan(&bc.Brewer, &bc.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan most replayed")
		}
		stats.MostReplayedBeers = append(stats.MostReplayedBeers, bc)
	}

	return stats, nil
}

// PurgeDlq implements Store (§4.7.4): the caller loops this until a batch
// returns fewer than batchLimit deletions.
func (s *SQLiteStore) PurgeDlq(ctx context.Context, status model.DlqStatus, olderThan time.Time, batchLimit int) (int, error) {
	var timestampCol string
	switch status {
	case model.DlqStatusAcknowledged:
		timestampCol = "acknowledged_at"
	case model.DlqStatusReplayed:
		timestampCol = "replayed_at"
	default:
		return 0, eris.Errorf("sqlite: purge dlq: unsupported status %q", status)
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM dlq_messages WHERE id IN (
			SELECT id FROM dlq_messages WHERE status = ? AND `+timestampCol+` < ? LIMIT ?
		)`, string(status), olderThan.UTC(), batchLimit)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge dlq")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func inClause(ids []string) (string, []any) {
	args := make([]any, len(ids))
	parts := make([]string, len(ids))
	for i, id := range ids {
		args[i] = id
		parts[i] = "?"
	}
	return strings.Join(parts, ","), args
}

func inClauseInt64(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	parts := make([]string, len(ids))
	for i, id := range ids {
		args[i] = id
		parts[i] = "?"
	}
	return strings.Join(parts, ","), args
}

type scannable interface {
	Scan(dest ...any) error
}

func scanBeer(row scannable) (*model.Beer, error) {
	var b model.Beer
	var brewDescription, descriptionHash, cleanedDescription, cleanupSource, enrichmentSource sql.NullString
	var cleanedAt sql.NullTime
	var abv, confidence sql.NullFloat64

	err := row.Scan(&b.ID, &b.BrewName, &b.Brewer, &brewDescription, &descriptionHash, &cleanedDescription,
		&cleanedAt, &cleanupSource, &abv, &confidence, &enrichmentSource,
		&b.EnrichmentStatus, &b.LastSeenAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("beer not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan beer")
	}

	if brewDescription.Valid {
		b.BrewDescription = &brewDescription.String
	}
	if descriptionHash.Valid {
		b.DescriptionHash = &descriptionHash.String
	}
	if cleanedDescription.Valid {
		b.BrewDescriptionCleaned = &cleanedDescription.String
	}
	if cleanedAt.Valid {
		b.DescriptionCleanedAt = &cleanedAt.Time
	}
	if cleanupSource.Valid {
		cs := model.CleanupSource(cleanupSource.String)
		b.CleanupSource = &cs
	}
	if abv.Valid {
		b.ABV = &abv.Float64
	}
	if confidence.Valid {
		b.Confidence = &confidence.Float64
	}
	if enrichmentSource.Valid {
		es := model.EnrichmentSource(enrichmentSource.String)
		b.EnrichmentSource = &es
	}
	return &b, nil
}

func scanDlqMessage(row scannable) (*model.DlqMessage, error) {
	var m model.DlqMessage
	var sourceQueue, status string
	var replayedAt, ackedAt sql.NullTime

	err := row.Scan(&m.ID, &m.MessageID, &m.BeerID, &m.BeerName, &m.Brewer, &m.FailedAt, &m.FailureCount,
		&sourceQueue, &m.RawMessage, &status, &m.ReplayCount, &replayedAt, &ackedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan dlq message")
	}
	m.SourceQueue = model.SourceQueue(sourceQueue)
	m.Status = model.DlqStatus(status)
	if replayedAt.Valid {
		m.ReplayedAt = &replayedAt.Time
	}
	if ackedAt.Valid {
		m.AcknowledgedAt = &ackedAt.Time
	}
	return &m, nil
}
